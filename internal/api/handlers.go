package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/permitwatch/internal/notify"
	"github.com/JakeFAU/permitwatch/internal/permit"
	"github.com/JakeFAU/permitwatch/internal/pipeline"
)

type statusResponse struct {
	Status               permit.RunStatus `json:"status"`
	NotificationsEnabled bool             `json:"notifications_enabled"`
}

type permitsResponse struct {
	Count   int             `json:"count"`
	Permits []permit.Record `json:"permits"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

type subscriptionResponse struct {
	DeviceID    string             `json:"device_id"`
	Endpoint    string             `json:"endpoint"`
	Preferences permit.Preferences `json:"preferences"`
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:               s.runner.Status(),
		NotificationsEnabled: s.notifier.Enabled(),
	})
}

func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	runID, err := s.runner.Trigger(r.Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrBusy) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("trigger run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "started"})
}

func (s *Server) listPermits(w http.ResponseWriter, r *http.Request) {
	records, err := s.records.AllActive(r.Context())
	if err != nil {
		s.logger.Error("list permits failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list permits")
		return
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("county")); raw != "" {
		county := permit.NormalizeCounty(raw)
		filtered := records[:0]
		for _, rec := range records {
			if rec.County == county {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	if records == nil {
		records = []permit.Record{}
	}
	writeJSON(w, http.StatusOK, permitsResponse{Count: len(records), Permits: records})
}

func (s *Server) dismissPermit(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.records.Dismiss(r.Context(), key, s.clock.Now()); err != nil {
		if errors.Is(err, permit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "permit not found")
			return
		}
		s.logger.Error("dismiss permit failed", zap.String("identity_key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to dismiss permit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"identity_key": key, "dismissed": true})
}

func (s *Server) dismissAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.records.DismissAll(r.Context(), s.clock.Now())
	if err != nil {
		s.logger.Error("dismiss all failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to dismiss permits")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"dismissed": n})
}

func (s *Server) listCounties(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"count": len(permit.Counties), "counties": permit.Counties})
}

func (s *Server) publicKey(w http.ResponseWriter, _ *http.Request) {
	if !s.notifier.Enabled() {
		writeError(w, http.StatusServiceUnavailable, notify.ErrDisabled.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": s.notifier.PublicKey()})
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	var req notify.SubscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sub, err := s.notifier.Subscribe(r.Context(), req)
	if err != nil {
		s.writeNotifyError(w, "subscribe", err)
		return
	}
	writeJSON(w, http.StatusCreated, subscriptionResponse{
		DeviceID:    sub.DeviceID,
		Endpoint:    sub.Endpoint,
		Preferences: sub.Preferences,
	})
}

func (s *Server) unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Endpoint) == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := s.notifier.Unsubscribe(r.Context(), req.Endpoint); err != nil {
		s.writeNotifyError(w, "unsubscribe", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updatePreferences(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")
	var prefs permit.Preferences
	if err := decodeJSON(w, r, &prefs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	stored, err := s.notifier.UpdatePreferences(r.Context(), deviceID, prefs)
	if err != nil {
		s.writeNotifyError(w, "update preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": deviceID, "preferences": stored})
}

func (s *Server) testDispatch(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")
	sum, err := s.notifier.TestDispatch(r.Context(), deviceID)
	if err != nil {
		s.writeNotifyError(w, "test dispatch", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"sent":      sum.Sent,
		"failed":    sum.Failed,
		"pruned":    sum.Pruned,
	})
}

func (s *Server) writeNotifyError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, notify.ErrInvalidSubscription):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, permit.ErrNotFound):
		writeError(w, http.StatusNotFound, "subscription not found")
	case errors.Is(err, notify.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

// Package notify fans newly admitted permits out to subscribed devices over
// Web Push. Each permit identity is announced at most once per dedup window:
// the window is claimed in the seen store before any delivery is attempted.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/permitwatch/internal/metrics"
	"github.com/JakeFAU/permitwatch/internal/permit"
)

// Defaults applied by New.
const (
	DefaultSeenTTL        = 24 * time.Hour
	DefaultPruneThreshold = 3
	DefaultIcon           = "/static/icon-512.png"
	DefaultBadge          = "/static/apple-touch-icon.png"
)

// Delivery outcomes recorded in metrics.
const (
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
	OutcomePruned   = "pruned"
	OutcomeFiltered = "filtered"
	OutcomeSkipped  = "suppressed"
)

var (
	// ErrDisabled is returned by operations that need a push sender when none
	// is configured.
	ErrDisabled = errors.New("push notifications are disabled")
	// ErrInvalidSubscription rejects malformed subscribe and preference requests.
	ErrInvalidSubscription = errors.New("invalid subscription")
)

// Sender delivers one encrypted payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub permit.Subscription, payload []byte) error
}

// Pacer blocks until a delivery to endpoint may proceed.
type Pacer interface {
	Wait(ctx context.Context, endpoint string) error
}

// Config tunes dedup and pruning.
type Config struct {
	SeenTTL        time.Duration
	PruneThreshold int
	Icon           string
	Badge          string
	// PublicKey is the VAPID application server key handed to browsers.
	PublicKey string
}

// Message is the JSON document the service worker renders.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Icon  string `json:"icon,omitempty"`
	Badge string `json:"badge,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Summary counts what one fan-out did.
type Summary struct {
	Records    int `json:"records"`
	Claimed    int `json:"claimed"`
	Suppressed int `json:"suppressed"`
	Filtered   int `json:"filtered"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	Pruned     int `json:"pruned"`
}

// SubscribeRequest is a browser PushSubscription plus optional device data.
type SubscribeRequest struct {
	DeviceID    string             `json:"device_id"`
	Endpoint    string             `json:"endpoint"`
	Keys        permit.AuthKeys    `json:"keys"`
	Preferences permit.Preferences `json:"preferences"`
}

// Notifier owns subscriptions and dispatches permit alerts.
type Notifier struct {
	cfg    Config
	sender Sender
	subs   permit.SubscriptionStore
	seen   permit.SeenStore
	clock  permit.Clock
	ids    permit.IDGenerator
	pacer  Pacer
	logger *zap.Logger
}

// New wires a Notifier. A nil sender leaves the notifier disabled: NotifyNew
// logs and returns without touching the seen store, while subscription
// management keeps working.
func New(
	cfg Config,
	sender Sender,
	subs permit.SubscriptionStore,
	seen permit.SeenStore,
	clock permit.Clock,
	ids permit.IDGenerator,
	pacer Pacer,
	logger *zap.Logger,
) *Notifier {
	if cfg.SeenTTL <= 0 {
		cfg.SeenTTL = DefaultSeenTTL
	}
	if cfg.PruneThreshold <= 0 {
		cfg.PruneThreshold = DefaultPruneThreshold
	}
	if cfg.Icon == "" {
		cfg.Icon = DefaultIcon
	}
	if cfg.Badge == "" {
		cfg.Badge = DefaultBadge
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		cfg:    cfg,
		sender: sender,
		subs:   subs,
		seen:   seen,
		clock:  clock,
		ids:    ids,
		pacer:  pacer,
		logger: logger.Named("notify"),
	}
}

// Enabled reports whether a push sender is configured.
func (n *Notifier) Enabled() bool {
	return n.sender != nil
}

// PublicKey returns the VAPID key browsers subscribe with, or "".
func (n *Notifier) PublicKey() string {
	if !n.Enabled() {
		return ""
	}
	return n.cfg.PublicKey
}

// NotifyNew announces records to every subscription whose preferences admit
// them. Records whose dedup window is already claimed are skipped. Delivery
// failures are counted against the subscription and never fail the call.
func (n *Notifier) NotifyNew(ctx context.Context, records []permit.Record) (Summary, error) {
	sum := Summary{Records: len(records)}
	if len(records) == 0 {
		return sum, nil
	}
	if !n.Enabled() {
		n.logger.Warn("push disabled, skipping notifications", zap.Int("records", len(records)))
		return sum, nil
	}

	now := n.clock.Now()
	if purged, err := n.seen.PurgeExpired(ctx, now); err != nil {
		n.logger.Warn("purge expired seen entries failed", zap.Error(err))
	} else if purged > 0 {
		n.logger.Debug("purged expired seen entries", zap.Int("count", purged))
	}

	subs, err := n.subs.List(ctx)
	if err != nil {
		return sum, fmt.Errorf("list subscriptions: %w", err)
	}
	removed := make(map[string]bool)

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("notify canceled: %w", err)
		}
		claimed, err := n.seen.Claim(ctx, rec.IdentityKey, now, n.cfg.SeenTTL)
		if err != nil {
			n.logger.Warn("claim seen entry failed, not notifying",
				zap.String("identity_key", rec.IdentityKey), zap.Error(err))
			continue
		}
		if !claimed {
			sum.Suppressed++
			metrics.ObserveNotification(OutcomeSkipped)
			continue
		}
		sum.Claimed++

		payload, err := json.Marshal(n.messageFor(rec))
		if err != nil {
			return sum, fmt.Errorf("marshal message: %w", err)
		}
		for _, sub := range subs {
			if removed[sub.Endpoint] {
				continue
			}
			if !sub.Preferences.Admits(rec) {
				sum.Filtered++
				metrics.ObserveNotification(OutcomeFiltered)
				continue
			}
			outcome, err := n.deliver(ctx, sub, payload)
			if err != nil {
				return sum, err
			}
			sum.add(outcome)
			if outcome == OutcomePruned {
				removed[sub.Endpoint] = true
			}
		}
	}

	n.logger.Info("notifications dispatched",
		zap.Int("records", sum.Records),
		zap.Int("claimed", sum.Claimed),
		zap.Int("suppressed", sum.Suppressed),
		zap.Int("sent", sum.Sent),
		zap.Int("failed", sum.Failed),
		zap.Int("pruned", sum.Pruned))
	return sum, nil
}

// Extend refreshes live dedup windows for re-discovered identities.
func (n *Notifier) Extend(ctx context.Context, identityKeys []string) error {
	if len(identityKeys) == 0 {
		return nil
	}
	now := n.clock.Now()
	var errs []error
	for _, key := range identityKeys {
		if err := n.seen.Extend(ctx, key, now, n.cfg.SeenTTL); err != nil {
			errs = append(errs, fmt.Errorf("extend %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Subscribe stores or refreshes a browser subscription. A device id is
// generated when the request carries none.
func (n *Notifier) Subscribe(ctx context.Context, req SubscribeRequest) (permit.Subscription, error) {
	if err := validateEndpoint(req.Endpoint); err != nil {
		return permit.Subscription{}, err
	}
	if strings.TrimSpace(req.Keys.P256dh) == "" || strings.TrimSpace(req.Keys.Auth) == "" {
		return permit.Subscription{}, fmt.Errorf("%w: keys.p256dh and keys.auth are required", ErrInvalidSubscription)
	}
	prefs, err := req.Preferences.Normalize()
	if err != nil {
		return permit.Subscription{}, fmt.Errorf("%w: %w", ErrInvalidSubscription, err)
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		if deviceID, err = n.ids.NewID(); err != nil {
			return permit.Subscription{}, fmt.Errorf("generate device id: %w", err)
		}
	}
	now := n.clock.Now()
	sub, err := n.subs.Upsert(ctx, permit.Subscription{
		DeviceID:    deviceID,
		Endpoint:    req.Endpoint,
		AuthKeys:    req.Keys,
		Preferences: prefs,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return permit.Subscription{}, fmt.Errorf("store subscription: %w", err)
	}
	n.logger.Info("subscription stored", zap.String("device_id", sub.DeviceID))
	return sub, nil
}

// Unsubscribe deletes the subscription for endpoint.
func (n *Notifier) Unsubscribe(ctx context.Context, endpoint string) error {
	if err := n.subs.DeleteByEndpoint(ctx, endpoint); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// UpdatePreferences validates and stores a device's preferences.
func (n *Notifier) UpdatePreferences(ctx context.Context, deviceID string, prefs permit.Preferences) (permit.Preferences, error) {
	normalized, err := prefs.Normalize()
	if err != nil {
		return permit.Preferences{}, fmt.Errorf("%w: %w", ErrInvalidSubscription, err)
	}
	if err := n.subs.UpdatePreferences(ctx, deviceID, normalized, n.clock.Now()); err != nil {
		return permit.Preferences{}, fmt.Errorf("update preferences: %w", err)
	}
	return normalized, nil
}

// TestDispatch sends a fixed message to every subscription of a device.
// Failures count toward pruning like any other delivery.
func (n *Notifier) TestDispatch(ctx context.Context, deviceID string) (Summary, error) {
	if !n.Enabled() {
		return Summary{}, ErrDisabled
	}
	subs, err := n.subs.ListByDevice(ctx, deviceID)
	if err != nil {
		return Summary{}, fmt.Errorf("list device subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return Summary{}, permit.ErrNotFound
	}
	payload, err := json.Marshal(Message{
		Title: "Permit alerts are on",
		Body:  "This device will be notified about new drilling permits.",
		URL:   "/",
		Icon:  n.cfg.Icon,
		Badge: n.cfg.Badge,
		Tag:   "test",
	})
	if err != nil {
		return Summary{}, fmt.Errorf("marshal message: %w", err)
	}
	var sum Summary
	for _, sub := range subs {
		outcome, err := n.deliver(ctx, sub, payload)
		if err != nil {
			return sum, err
		}
		sum.add(outcome)
	}
	return sum, nil
}

// deliver sends one payload and books the outcome on the subscription. The
// returned error is non-nil only when ctx ended while waiting to send.
func (n *Notifier) deliver(ctx context.Context, sub permit.Subscription, payload []byte) (string, error) {
	if n.pacer != nil {
		if err := n.pacer.Wait(ctx, sub.Endpoint); err != nil {
			return "", fmt.Errorf("pace delivery: %w", err)
		}
	}
	logger := n.logger.With(zap.String("device_id", sub.DeviceID))

	sendErr := n.sender.Send(ctx, sub, payload)
	at := n.clock.Now()
	if sendErr == nil {
		if err := n.subs.RecordSuccess(ctx, sub.Endpoint, at); err != nil && !errors.Is(err, permit.ErrNotFound) {
			logger.Warn("record delivery success failed", zap.Error(err))
		}
		metrics.ObserveNotification(OutcomeSent)
		return OutcomeSent, nil
	}

	logger.Warn("push delivery failed", zap.Error(sendErr))
	count, err := n.subs.RecordFailure(ctx, sub.Endpoint, sendErr.Error(), at)
	if err != nil {
		if !errors.Is(err, permit.ErrNotFound) {
			logger.Warn("record delivery failure failed", zap.Error(err))
		}
		metrics.ObserveNotification(OutcomeFailed)
		return OutcomeFailed, nil
	}
	if count < n.cfg.PruneThreshold {
		metrics.ObserveNotification(OutcomeFailed)
		return OutcomeFailed, nil
	}

	if err := n.subs.DeleteByEndpoint(ctx, sub.Endpoint); err != nil && !errors.Is(err, permit.ErrNotFound) {
		logger.Warn("prune subscription failed", zap.Error(err))
		metrics.ObserveNotification(OutcomeFailed)
		return OutcomeFailed, nil
	}
	logger.Info("subscription pruned", zap.Int("error_count", count))
	metrics.ObserveNotification(OutcomePruned)
	metrics.ObserveSubscriptionPruned()
	return OutcomePruned, nil
}

func (n *Notifier) messageFor(rec permit.Record) Message {
	return Message{
		Title: fmt.Sprintf("New permit in %s County", rec.County),
		Body:  messageBody(rec),
		URL:   rec.SourceLink,
		Icon:  n.cfg.Icon,
		Badge: n.cfg.Badge,
		Tag:   rec.IdentityKey,
	}
}

func messageBody(rec permit.Record) string {
	var b strings.Builder
	b.WriteString(rec.Operator)
	if rec.LeaseName != "" {
		b.WriteString(" - ")
		b.WriteString(rec.LeaseName)
	}
	if rec.WellNumber != "" {
		b.WriteString(" #")
		b.WriteString(rec.WellNumber)
	}
	return b.String()
}

func (s *Summary) add(outcome string) {
	switch outcome {
	case OutcomeSent:
		s.Sent++
	case OutcomePruned:
		s.Failed++
		s.Pruned++
	default:
		s.Failed++
	}
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return fmt.Errorf("%w: endpoint must be an absolute http(s) URL", ErrInvalidSubscription)
	}
	return nil
}

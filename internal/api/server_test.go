package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/permitwatch/internal/config"
	"github.com/JakeFAU/permitwatch/internal/notify"
	"github.com/JakeFAU/permitwatch/internal/permit"
	"github.com/JakeFAU/permitwatch/internal/pipeline"
	"github.com/JakeFAU/permitwatch/internal/storage/memory"
)

type fakeRunner struct {
	mu     sync.Mutex
	busy   bool
	err    error
	calls  int
	status permit.RunStatus
}

func (r *fakeRunner) Trigger(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.busy {
		return "", pipeline.ErrBusy
	}
	if r.err != nil {
		return "", r.err
	}
	return "run-1", nil
}

func (r *fakeRunner) Status() permit.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("device-%d", f.n), nil
}

type recordingSender struct {
	mu    sync.Mutex
	count int
	fail  bool
}

func (s *recordingSender) Send(context.Context, permit.Subscription, []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("push service returned 500")
	}
	s.count++
	return nil
}

type testEnv struct {
	server  *Server
	runner  *fakeRunner
	records *memory.PermitStore
	subs    *memory.SubscriptionStore
	sender  *recordingSender
}

func newTestEnv(t *testing.T, cfg config.Config, withSender bool) *testEnv {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)}
	env := &testEnv{
		runner:  &fakeRunner{},
		records: memory.NewPermitStore(),
		subs:    memory.NewSubscriptionStore(),
		sender:  &recordingSender{},
	}
	var sender notify.Sender
	if withSender {
		sender = env.sender
	}
	notifier := notify.New(notify.Config{PublicKey: "BPublicKey"}, sender, env.subs, memory.NewSeenStore(),
		clock, &fakeIDGen{}, nil, zap.NewNop())
	env.server = NewServer(env.runner, env.records, notifier, clock, cfg, nil, zap.NewNop())
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seed(t *testing.T, records ...permit.Record) {
	t.Helper()
	for _, rec := range records {
		_, err := e.records.Admit(context.Background(), rec)
		require.NoError(t, err)
	}
}

func record(county, operator, well string) permit.Record {
	return permit.Record{
		IdentityKey: permit.IdentityKey("42-000-"+well, "LEASE", well),
		County:      county,
		Operator:    operator,
		LeaseName:   "LEASE",
		WellNumber:  well,
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, true)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/readyz", "").Code)

	notReady := NewServer(env.runner, env.records, nil, &fakeClock{}, config.Config{},
		func(context.Context) error { return errors.New("db down") }, nil)
	rec := httptest.NewRecorder()
	notReady.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, true)
	env.do(t, http.MethodGet, "/healthz", "")
	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestStatus(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, false)
	env.runner.status = permit.RunStatus{LastRunID: "run-9", LastNewRecordCount: 3}

	got := decode[statusResponse](t, env.do(t, http.MethodGet, "/v1/status", ""))
	require.Equal(t, "run-9", got.Status.LastRunID)
	require.Equal(t, 3, got.Status.LastNewRecordCount)
	require.False(t, got.NotificationsEnabled)
}

func TestTriggerRun(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, true)
	rec := env.do(t, http.MethodPost, "/v1/runs", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "run-1")

	env.runner.busy = true
	require.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/v1/runs", "").Code)

	env.runner.busy = false
	env.runner.err = errors.New("id generator broken")
	require.Equal(t, http.StatusInternalServerError, env.do(t, http.MethodPost, "/v1/runs", "").Code)
}

func TestListPermitsAndFilter(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, true)
	empty := decode[permitsResponse](t, env.do(t, http.MethodGet, "/v1/permits", ""))
	require.NotNil(t, empty.Permits)
	require.Zero(t, empty.Count)

	env.seed(t, record("REEVES", "B OPERATOR", "1"), record("LOVING", "A OPERATOR", "2"), record("DE WITT", "C", "3"))

	all := decode[permitsResponse](t, env.do(t, http.MethodGet, "/v1/permits", ""))
	require.Equal(t, 3, all.Count)
	require.Equal(t, "DE WITT", all.Permits[0].County)

	filtered := decode[permitsResponse](t, env.do(t, http.MethodGet, "/v1/permits?county=DeWitt+County", ""))
	require.Equal(t, 1, filtered.Count)
	require.Equal(t, "DE WITT", filtered.Permits[0].County)
}

func TestDismissal(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, true)
	a, b := record("LOVING", "A", "1"), record("LOVING", "B", "2")
	env.seed(t, a, b)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/permits/"+a.IdentityKey+"/dismiss", "").Code)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/v1/permits/"+a.IdentityKey+"/dismiss", "").Code)
	require.Equal(t, 1, decode[permitsResponse](t, env.do(t, http.MethodGet, "/v1/permits", "")).Count)

	rec := env.do(t, http.MethodPost, "/v1/permits/dismiss-all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, decode[map[string]int](t, rec)["dismissed"])
	require.Zero(t, decode[permitsResponse](t, env.do(t, http.MethodGet, "/v1/permits", "")).Count)

	isNew, err := env.records.IsNew(context.Background(), a.IdentityKey)
	require.NoError(t, err)
	require.False(t, isNew, "dismissed permits stay known")
}

func TestCountiesAndPublicKey(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, true)
	counties := decode[map[string]any](t, env.do(t, http.MethodGet, "/v1/counties", ""))
	require.EqualValues(t, 254, counties["count"])

	rec := env.do(t, http.MethodGet, "/v1/push/public-key", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "BPublicKey", decode[map[string]string](t, rec)["public_key"])

	disabled := newTestEnv(t, config.Config{}, false)
	require.Equal(t, http.StatusServiceUnavailable, disabled.do(t, http.MethodGet, "/v1/push/public-key", "").Code)
}

func TestSubscriptionLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, true)
	body := `{"endpoint":"https://push.example/abc","expirationTime":null,
		"keys":{"p256dh":"BKey","auth":"secret"},
		"preferences":{"monitored_counties":["Loving County","reeves"]}}`
	rec := env.do(t, http.MethodPost, "/v1/subscriptions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sub := decode[subscriptionResponse](t, rec)
	require.Equal(t, "device-1", sub.DeviceID)
	require.Equal(t, []string{"LOVING", "REEVES"}, sub.Preferences.MonitoredCounties.Values())

	rec = env.do(t, http.MethodPut, "/v1/devices/device-1/preferences", `{"dismissed_counties":["Upton"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stored, err := env.subs.ListByDevice(context.Background(), "device-1")
	require.NoError(t, err)
	require.True(t, stored[0].Preferences.DismissedCounties.Has("UPTON"))
	require.Empty(t, stored[0].Preferences.MonitoredCounties)

	rec = env.do(t, http.MethodPost, "/v1/devices/device-1/test", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, env.sender.count)

	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/v1/devices/ghost/test", "").Code)
	require.Equal(t, http.StatusNotFound,
		env.do(t, http.MethodPut, "/v1/devices/ghost/preferences", `{}`).Code)

	require.Equal(t, http.StatusNoContent,
		env.do(t, http.MethodDelete, "/v1/subscriptions", `{"endpoint":"https://push.example/abc"}`).Code)
	require.Equal(t, http.StatusNotFound,
		env.do(t, http.MethodDelete, "/v1/subscriptions", `{"endpoint":"https://push.example/abc"}`).Code)
}

func TestSubscriptionValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, true)
	cases := map[string]string{
		"invalid json":   `{`,
		"bad endpoint":   `{"endpoint":"not a url","keys":{"p256dh":"k","auth":"a"}}`,
		"missing keys":   `{"endpoint":"https://push.example/a"}`,
		"unknown county": `{"endpoint":"https://push.example/a","keys":{"p256dh":"k","auth":"a"},"preferences":{"monitored_counties":["Gotham"]}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/subscriptions", body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodDelete, "/v1/subscriptions", `{}`).Code)
	require.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPut, "/v1/devices/d/preferences", `{"monitored_counties":["Gotham"]}`).Code)
}

func TestTestDispatchDisabled(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, false)
	require.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodPost, "/v1/devices/device-1/test", "").Code)
}

func TestAPIKeyProtectsMutatingRoutes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}, true)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/permits", "").Code)

	require.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/v1/runs", "").Code)
	require.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/v1/permits/dismiss-all", "").Code)
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/runs", "", "X-API-Key", "secret").Code)
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/runs?api_key=secret", "").Code)
	require.Equal(t, 2, env.runner.calls)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, true)
	require.NotEmpty(t, env.do(t, http.MethodGet, "/healthz", "").Header().Get("X-Request-ID"))
	require.Equal(t, "abc", env.do(t, http.MethodGet, "/healthz", "", "X-Request-ID", "abc").Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := &Server{logger: zap.NewNop()}
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "internal server error"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
	require.NotNil(t, buf)
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

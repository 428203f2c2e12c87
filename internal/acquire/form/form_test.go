package form

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/permitwatch/internal/acquire"
	"github.com/JakeFAU/permitwatch/internal/permit"
)

const entryHTML = `<html><body>
<form name="publicQueryForm" action="/DP/publicQuerySearchAction.do" method="post">
  <input type="hidden" name="methodToCall" value="search">
  <input type="text" name="searchArgs.operatorNameArg" value="">
  <input type="text" name="submittedDateBegin" value="01/01/2000">
  <input type="text" name="submittedDateEnd" value="">
  <input type="checkbox" name="includeAmended" value="Y" checked>
  <input type="checkbox" name="includeWithdrawn" value="Y">
  <input type="radio" name="wellType" value="ALL" checked>
  <input type="radio" name="wellType" value="OIL">
  <input type="text" name="legacy" value="x" disabled>
  <select name="district"><option value="01">01</option><option value="08" selected>08</option></select>
  <select name="county" multiple>
    <option value="301">LOVING</option>
    <option value="389">REEVES</option>
    <option value="003">ANDREWS</option>
  </select>
  <textarea name="notes">none</textarea>
  <input type="reset" value="Clear">
  <input type="submit" name="submitAction" value="Submit">
  <input type="submit" name="other" value="Ignored">
</form>
</body></html>`

type querySite struct {
	mu       sync.Mutex
	posted   url.Values
	results  string
	pages    map[string]string
	entry    string
	noCookie bool
}

func newQuerySite(t *testing.T) (*querySite, *httptest.Server) {
	t.Helper()
	site := &querySite{entry: entryHTML, pages: map[string]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/DP/initializePublicQueryAction.do", func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "abc123", Path: "/"})
		fmt.Fprint(w, site.entry)
	})
	mux.HandleFunc("/DP/publicQuerySearchAction.do", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("JSESSIONID"); err != nil || c.Value != "abc123" {
			site.mu.Lock()
			site.noCookie = true
			site.mu.Unlock()
			fmt.Fprint(w, `<html><body>Session Expired. Please Log In.</body></html>`)
			return
		}
		if r.Method == http.MethodGet {
			body, ok := site.pages[r.URL.RawQuery]
			if !ok {
				http.NotFound(w, r)
				return
			}
			fmt.Fprint(w, body)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		site.mu.Lock()
		site.posted = r.PostForm
		site.mu.Unlock()
		fmt.Fprint(w, site.results)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return site, srv
}

func newStrategy(t *testing.T, srv *httptest.Server, counties ...string) *Strategy {
	t.Helper()
	s, err := New(Config{
		Form: acquire.Form{
			EntryURL: srv.URL + "/DP/initializePublicQueryAction.do",
			Counties: counties,
		},
		UserAgent: "permitwatch-test",
		Timeout:   5 * time.Second,
	}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

var targetDate = time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC)

func TestAcquireReplaysFormAndFollowsPages(t *testing.T) {
	t.Parallel()

	site, srv := newQuerySite(t)
	site.results = `<html><body><table><tr><th>API</th></tr><tr><td>42-301-1</td></tr></table>
<a href="?pager.offset=20">2</a></body></html>`
	site.pages["pager.offset=20"] = `<html><body><table><tr><th>API</th></tr><tr><td>42-301-2</td></tr></table>
<a href="?pager.offset=0">1</a></body></html>`
	site.pages["pager.offset=0"] = site.results

	s := newStrategy(t, srv, "Loving", "REEVES")
	pages, err := s.Acquire(context.Background(), targetDate)
	require.NoError(t, err)
	require.False(t, site.noCookie, "session cookie must carry over")

	require.Equal(t, "03/14/2025", site.posted.Get("submittedDateBegin"))
	require.Equal(t, "03/14/2025", site.posted.Get("submittedDateEnd"))
	require.Equal(t, "search", site.posted.Get("methodToCall"))
	require.Equal(t, "Y", site.posted.Get("includeAmended"))
	require.Empty(t, site.posted["includeWithdrawn"])
	require.Equal(t, "ALL", site.posted.Get("wellType"))
	require.Empty(t, site.posted["legacy"])
	require.Equal(t, "08", site.posted.Get("district"))
	require.Equal(t, []string{"301", "389"}, site.posted["county"])
	require.Equal(t, "none", site.posted.Get("notes"))
	require.Equal(t, "Submit", site.posted.Get("submitAction"))
	require.Empty(t, site.posted["other"])

	require.Len(t, pages, 3)
	require.Contains(t, string(pages[0].HTML), "42-301-1")
	require.Contains(t, string(pages[1].HTML), "42-301-2")
	require.True(t, pages[0].HasNext)
	require.False(t, pages[2].HasNext)
}

func TestAcquireSignInResultFails(t *testing.T) {
	t.Parallel()

	site, srv := newQuerySite(t)
	site.results = `<html><body><form><input type="password" name="pw"></form></body></html>`

	_, err := newStrategy(t, srv).Acquire(context.Background(), targetDate)
	require.ErrorIs(t, err, acquire.ErrSignIn)
}

func TestAcquireEntryWithoutForm(t *testing.T) {
	t.Parallel()

	site, srv := newQuerySite(t)
	site.entry = `<html><body><p>Maintenance</p></body></html>`

	_, err := newStrategy(t, srv).Acquire(context.Background(), targetDate)
	require.ErrorIs(t, err, acquire.ErrNoForm)
}

func TestAcquireEntryWithoutDateFields(t *testing.T) {
	t.Parallel()

	site, srv := newQuerySite(t)
	site.entry = `<html><body><form action="/x"><input name="q"></form></body></html>`

	_, err := newStrategy(t, srv).Acquire(context.Background(), targetDate)
	require.ErrorIs(t, err, acquire.ErrFieldNotFound)
}

func TestAcquireEntryError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, err := New(Config{Form: acquire.Form{EntryURL: srv.URL}}, nil, nil)
	require.NoError(t, err)
	_, err = s.Acquire(context.Background(), targetDate)
	require.Error(t, err)
	require.False(t, errors.Is(err, acquire.ErrSignIn))
}

func TestAcquireCancelAbortsInFlightRequest(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	aborted := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		close(entered)
		select {
		case <-r.Context().Done():
			close(aborted)
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	s, err := New(Config{
		Form:    acquire.Form{EntryURL: srv.URL + "/DP/initializePublicQueryAction.do"},
		Timeout: time.Minute,
	}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Acquire(ctx, targetDate)
		done <- err
	}()

	<-entered
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Acquire did not return after cancel")
	}
	select {
	case <-aborted:
	case <-time.After(5 * time.Second):
		t.Fatal("request was not aborted on the wire")
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil)
	require.Error(t, err)

	s, err := New(Config{Form: acquire.Form{EntryURL: "https://example.test"}}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, defaultTimeout, s.cfg.Timeout)
	require.Equal(t, "form", s.Name())
}

func TestBuildSubmissionGetForm(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Form: acquire.Form{EntryURL: "https://example.test/q"}}, nil, nil)
	require.NoError(t, err)

	entry := `<form method="GET"><input name="submittedBegin"><input name="submittedEnd"><button>Go</button></form>`
	sub, err := s.buildSubmission(pageOf("https://example.test/dp/q?x=1", entry), targetDate)
	require.NoError(t, err)
	require.Equal(t, http.MethodGet, sub.method)
	require.Equal(t, "https://example.test/dp/q?x=1", sub.action)
	require.Equal(t, "03/14/2025", sub.values.Get("submittedBegin"))
}

func TestSubmitControlAndSelects(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<form>
<select name="single"><option>First</option><option>Second</option></select>
<select name="multi" multiple><option value="1">One</option></select>
<button type="button" name="nope">x</button>
<button name="go">Search</button>
</form>`))
	require.NoError(t, err)
	form := doc.Find("form")

	values := formValues(form)
	require.Equal(t, "First", values.Get("single"))
	require.Empty(t, values["multi"])

	name, value, ok := submitControl(form)
	require.True(t, ok)
	require.Equal(t, "go", name)
	require.Equal(t, "Search", value)

	field, picked := selectCounties(form, []string{"county"}, []string{"one"})
	require.Equal(t, "multi", field)
	require.Equal(t, []string{"1"}, picked)
}

func TestConfigureHooks(t *testing.T) {
	t.Parallel()

	sess := &session{}
	hooks := &stubHooks{}
	sess.configureHooks(hooks)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	req := &colly.Request{Method: http.MethodPost, Headers: &http.Header{}}
	hooks.onRequest(req)
	require.Equal(t, "application/x-www-form-urlencoded", req.Headers.Get("Content-Type"))

	resp := &colly.Response{StatusCode: http.StatusOK}
	hooks.onResponse(resp)
	require.Same(t, resp, sess.last)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, sess.err, "boom")
}

func pageOf(pageURL, html string) permit.RawPage {
	return permit.RawPage{URL: pageURL, HTML: []byte(html)}
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}

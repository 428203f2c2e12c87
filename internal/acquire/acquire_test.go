package acquire

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/permitwatch/internal/permit"
)

type stubStrategy struct {
	name  string
	pages []permit.RawPage
	err   error
	calls int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Acquire(context.Context, time.Time) ([]permit.RawPage, error) {
	s.calls++
	return s.pages, s.err
}

func TestChainFallsBackInOrder(t *testing.T) {
	t.Parallel()

	primary := &stubStrategy{name: "headless", err: ErrSignIn}
	fallback := &stubStrategy{name: "form", pages: []permit.RawPage{{URL: "https://example.test/r", HTML: []byte("<table></table>")}}}
	unused := &stubStrategy{name: "never"}

	chain := NewChain(zaptest.NewLogger(t), primary, fallback, unused)
	pages, err := chain.Acquire(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Equal(t, "form", pages[0].Strategy)
	require.Equal(t, 1, primary.calls)
	require.Equal(t, 1, fallback.calls)
	require.Zero(t, unused.calls)
}

func TestChainAllFailWrapsEveryError(t *testing.T) {
	t.Parallel()

	chain := NewChain(nil,
		&stubStrategy{name: "headless", err: ErrFieldNotFound},
		&stubStrategy{name: "form", err: ErrNoForm},
		&stubStrategy{name: "empty"},
	)
	_, err := chain.Acquire(context.Background(), time.Now())
	require.Error(t, err)
	require.ErrorIs(t, err, permit.ErrAcquisition)
	require.ErrorIs(t, err, ErrFieldNotFound)
	require.ErrorIs(t, err, ErrNoForm)
	require.Contains(t, err.Error(), "empty: no pages returned")
}

func TestChainWithoutStrategies(t *testing.T) {
	t.Parallel()

	_, err := NewChain(nil).Acquire(context.Background(), time.Now())
	require.ErrorIs(t, err, permit.ErrAcquisition)
}

func TestChainStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &stubStrategy{name: "headless"}
	_, err := NewChain(nil, s).Acquire(ctx, time.Now())
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, s.calls)
}

func TestFormWithDefaults(t *testing.T) {
	t.Parallel()

	f := Form{EntryURL: "https://example.test"}.WithDefaults()
	require.Equal(t, DefaultDateLayout, f.DateLayout)
	require.Equal(t, DefaultDateFields, f.DateFields)
	require.Equal(t, DefaultSubmitSelectors, f.SubmitSelectors)
	require.Equal(t, DefaultCountySelects, f.CountySelects)

	custom := Form{DateLayout: "2006-01-02", SubmitSelectors: []string{"#go"}}.WithDefaults()
	require.Equal(t, "2006-01-02", custom.DateLayout)
	require.Equal(t, []string{"#go"}, custom.SubmitSelectors)
}

func TestDetector(t *testing.T) {
	t.Parallel()

	d := NewDetector(nil)
	tests := []struct {
		name string
		html string
		want bool
	}{
		{"results", `<html><body><table><tr><td>42-301-1</td></tr></table></body></html>`, false},
		{"marker text", `<html><body><h1>Please sign in</h1></body></html>`, true},
		{"session expired", `<html><body><p>Your SESSION EXPIRED.</p></body></html>`, true},
		{"password input", `<html><body><form><input type="PASSWORD" name="p"></form></body></html>`, true},
		{"marker only in script", `<html><body><script>var label = "Login";</script><p>ok</p></body></html>`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, d.IsSignIn([]byte(tc.html)))
		})
	}

	noText := NewDetector([]string{})
	require.False(t, noText.IsSignIn([]byte(`<p>Login</p>`)))
	require.True(t, noText.IsSignIn([]byte(`<input type="password">`)))
}

func TestPaginationLinks(t *testing.T) {
	t.Parallel()

	html := `<html><body>
<a href="/DP/drillDownQueryAction.do?univDocNo=1">901234</a>
<a href="?pager.offset=20">2</a>
<a href="?pager.offset=40">3</a>
<a href="?pager.offset=20">Next &gt;</a>
<a href="#top">1</a>
<a href="javascript:go(2)">2</a>
<a href="https://other.example/page=2">2</a>
<a href="/help">Help</a>
<a href="/DP/list?page=5#frag">last</a>
</body></html>`
	links := PaginationLinks("https://webapps.rrc.texas.gov/DP/publicQuerySearchAction.do", []byte(html))
	require.Equal(t, []string{
		"https://webapps.rrc.texas.gov/DP/publicQuerySearchAction.do?pager.offset=20",
		"https://webapps.rrc.texas.gov/DP/publicQuerySearchAction.do?pager.offset=40",
		"https://webapps.rrc.texas.gov/DP/list?page=5",
	}, links)
}

func pageHTML(links ...string) []byte {
	html := "<html><body><table><tr><td>row</td></tr></table>"
	for i, l := range links {
		html += fmt.Sprintf(`<a href="%s">%d</a>`, l, i+2)
	}
	return []byte(html + "</body></html>")
}

func TestFollowPagesVisitsEachTargetOnce(t *testing.T) {
	t.Parallel()

	site := map[string][]byte{
		"https://example.test/r?page=2": pageHTML("/r?page=1", "/r?page=3"),
		"https://example.test/r?page=3": pageHTML("/r?page=2"),
		"https://example.test/r?page=1": pageHTML("/r?page=2"),
	}
	var fetched []string
	fetch := func(_ context.Context, target string) (permit.RawPage, error) {
		fetched = append(fetched, target)
		body, ok := site[target]
		if !ok {
			return permit.RawPage{}, errors.New("404")
		}
		return permit.RawPage{URL: target, HTML: body}, nil
	}

	first := permit.RawPage{URL: "https://example.test/r", HTML: pageHTML("/r?page=2", "/r?page=3")}
	pages, err := FollowPages(context.Background(), first, 10, NewDetector(nil), fetch)
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.test/r?page=2",
		"https://example.test/r?page=3",
		"https://example.test/r?page=1",
	}, fetched)
	require.Len(t, pages, 4)
	require.True(t, pages[0].HasNext)
	require.True(t, pages[2].HasNext)
	require.False(t, pages[3].HasNext)
}

func TestFollowPagesRespectsCap(t *testing.T) {
	t.Parallel()

	fetch := func(_ context.Context, target string) (permit.RawPage, error) {
		return permit.RawPage{URL: target, HTML: pageHTML()}, nil
	}
	first := permit.RawPage{URL: "https://example.test/r", HTML: pageHTML("/r?page=2", "/r?page=3", "/r?page=4")}
	pages, err := FollowPages(context.Background(), first, 2, nil, fetch)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	require.True(t, pages[1].HasNext, "targets remained beyond the cap")
}

func TestFollowPagesFailsOnSignInPage(t *testing.T) {
	t.Parallel()

	fetch := func(_ context.Context, target string) (permit.RawPage, error) {
		return permit.RawPage{URL: target, HTML: []byte(`<html><body>Session Expired</body></html>`)}, nil
	}
	first := permit.RawPage{URL: "https://example.test/r", HTML: pageHTML("/r?page=2")}
	pages, err := FollowPages(context.Background(), first, 5, NewDetector(nil), fetch)
	require.ErrorIs(t, err, ErrSignIn)
	require.Nil(t, pages)
}

func TestFollowPagesPropagatesFetchError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	fetch := func(context.Context, string) (permit.RawPage, error) {
		return permit.RawPage{}, boom
	}
	first := permit.RawPage{URL: "https://example.test/r", HTML: pageHTML("/r?page=2")}
	_, err := FollowPages(context.Background(), first, 5, nil, fetch)
	require.ErrorIs(t, err, boom)
}

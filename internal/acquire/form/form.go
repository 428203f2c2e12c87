// Package form replays the permit query form over plain HTTP using colly.
package form

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/permitwatch/internal/acquire"
	"github.com/JakeFAU/permitwatch/internal/permit"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	Form      acquire.Form
	UserAgent string
	Timeout   time.Duration
	MaxPages  int
}

// Strategy implements acquire.Strategy with a stateless form post.
type Strategy struct {
	cfg           Config
	detector      *acquire.Detector
	logger        *zap.Logger
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Strategy.
func New(cfg Config, detector *acquire.Detector, logger *zap.Logger) (*Strategy, error) {
	if strings.TrimSpace(cfg.Form.EntryURL) == "" {
		return nil, fmt.Errorf("entry url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.Form = cfg.Form.WithDefaults()
	if detector == nil {
		detector = acquire.NewDetector(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())

	return &Strategy{
		cfg:           cfg,
		detector:      detector,
		logger:        logger.Named("form"),
		baseCollector: c,
	}, nil
}

// Name identifies the strategy.
func (s *Strategy) Name() string {
	return "form"
}

// Acquire GETs the entry page, replays its first form with the date range
// filled in, and follows pagination on the result.
func (s *Strategy) Acquire(ctx context.Context, targetDate time.Time) ([]permit.RawPage, error) {
	sess, err := s.newSession(ctx)
	if err != nil {
		return nil, err
	}

	entry, err := sess.visit(ctx, s.cfg.Form.EntryURL)
	if err != nil {
		return nil, fmt.Errorf("open entry page: %w", err)
	}

	req, err := s.buildSubmission(entry, targetDate)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("submitting query form",
		zap.String("action", req.action),
		zap.String("method", req.method),
		zap.Int("fields", len(req.values)),
	)

	var first permit.RawPage
	if req.method == http.MethodGet {
		target, _ := url.Parse(req.action)
		target.RawQuery = req.values.Encode()
		first, err = sess.visit(ctx, target.String())
	} else {
		first, err = sess.post(ctx, req.action, req.values)
	}
	if err != nil {
		return nil, fmt.Errorf("submit query: %w", err)
	}
	if s.detector.IsSignIn(first.HTML) {
		return nil, fmt.Errorf("result page: %w", acquire.ErrSignIn)
	}

	pages, err := acquire.FollowPages(ctx, first, s.cfg.MaxPages, s.detector, sess.visit)
	if err != nil {
		return nil, fmt.Errorf("paginate: %w", err)
	}
	return pages, nil
}

type submission struct {
	action string
	method string
	values url.Values
}

func (s *Strategy) buildSubmission(entry permit.RawPage, targetDate time.Time) (submission, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(entry.HTML))
	if err != nil {
		return submission{}, fmt.Errorf("parse entry page: %w", err)
	}
	form := doc.Find("form").First()
	if form.Length() == 0 {
		return submission{}, acquire.ErrNoForm
	}

	values := formValues(form)
	pair, ok := findDateFields(form, s.cfg.Form.DateFields)
	if !ok {
		return submission{}, acquire.ErrFieldNotFound
	}
	date := targetDate.Format(s.cfg.Form.DateLayout)
	values.Set(pair.Begin, date)
	values.Set(pair.End, date)

	if len(s.cfg.Form.Counties) > 0 {
		if name, picked := selectCounties(form, s.cfg.Form.CountySelects, s.cfg.Form.Counties); name != "" {
			values.Del(name)
			for _, v := range picked {
				values.Add(name, v)
			}
		}
	}

	if name, value, ok := submitControl(form); ok && name != "" {
		values.Set(name, value)
	}

	action, err := resolveAction(entry.URL, form.AttrOr("action", ""))
	if err != nil {
		return submission{}, err
	}
	method := http.MethodPost
	if strings.EqualFold(strings.TrimSpace(form.AttrOr("method", "")), http.MethodGet) {
		method = http.MethodGet
	}
	return submission{action: action, method: method, values: values}, nil
}

func resolveAction(pageURL, action string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(action))
	if err != nil {
		return "", fmt.Errorf("parse form action: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// session is one cookie-carrying conversation with the query site.
type session struct {
	collector *colly.Collector
	last      *colly.Response
	err       error
}

// newSession clones the base collector with a fresh cookie jar. Requests are
// bound to ctx so canceling it aborts the one in flight.
func (s *Strategy) newSession(ctx context.Context) (*session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	collector := s.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.Context = ctx
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	collector.SetRequestTimeout(s.cfg.Timeout)
	collector.SetCookieJar(jar)

	sess := &session{collector: collector}
	sess.configureHooks(collector)
	return sess, nil
}

func (sess *session) configureHooks(hooks collectorHooks) {
	hooks.OnRequest(func(r *colly.Request) {
		if r.Method == http.MethodPost && r.Headers.Get("Content-Type") == "" {
			r.Headers.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		sess.last = r
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		sess.err = err
	})
}

func (sess *session) visit(ctx context.Context, target string) (permit.RawPage, error) {
	return sess.run(ctx, func() error { return sess.collector.Visit(target) })
}

func (sess *session) post(ctx context.Context, target string, values url.Values) (permit.RawPage, error) {
	return sess.run(ctx, func() error {
		return sess.collector.PostRaw(target, []byte(values.Encode()))
	})
}

func (sess *session) run(ctx context.Context, do func() error) (permit.RawPage, error) {
	sess.last, sess.err = nil, nil
	done := make(chan error, 1)
	go func() {
		done <- do()
	}()

	select {
	case <-ctx.Done():
		// The collector shares ctx, so the request unwinds promptly; wait for
		// it before the hooks' writes can race the next call.
		<-done
		return permit.RawPage{}, fmt.Errorf("colly request canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return permit.RawPage{}, fmt.Errorf("colly request failed: %w", err)
		}
		if sess.err != nil {
			return permit.RawPage{}, fmt.Errorf("colly response failed: %w", sess.err)
		}
		if sess.last == nil {
			return permit.RawPage{}, fmt.Errorf("colly returned no response")
		}
		return permit.RawPage{
			URL:  sess.last.Request.URL.String(),
			HTML: append([]byte(nil), sess.last.Body...),
		}, nil
	}
}

// Package headless drives the permit query form with headless Chrome.
package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/permitwatch/internal/acquire"
	"github.com/JakeFAU/permitwatch/internal/permit"
)

const defaultNavTimeout = 25 * time.Second

// Config controls the behavior of the headless strategy.
type Config struct {
	Form              acquire.Form
	UserAgent         string
	NavigationTimeout time.Duration
	MaxPages          int
	// ExecPath overrides the Chrome binary; empty uses chromedp's lookup.
	ExecPath string
}

// Strategy implements acquire.Strategy using chromedp.
type Strategy struct {
	cfg         Config
	detector    *acquire.Detector
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless strategy. The browser process starts lazily on the
// first acquisition.
func New(cfg Config, detector *acquire.Detector, logger *zap.Logger) (*Strategy, error) {
	if strings.TrimSpace(cfg.Form.EntryURL) == "" {
		return nil, fmt.Errorf("entry url is required")
	}
	if cfg.MaxPages < 0 {
		return nil, fmt.Errorf("max pages must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	cfg.Form = cfg.Form.WithDefaults()
	if detector == nil {
		detector = acquire.NewDetector(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1400, 1200),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Strategy{
		cfg:         cfg,
		detector:    detector,
		logger:      logger.Named("headless"),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Name identifies the strategy.
func (s *Strategy) Name() string {
	return "headless"
}

// Close cancels the allocator context and stops the browser.
func (s *Strategy) Close() {
	s.allocCancel()
}

// Acquire fills the date range, submits the query and collects every result
// page in one browser tab.
func (s *Strategy) Acquire(ctx context.Context, targetDate time.Time) ([]permit.RawPage, error) {
	tabCtx, tabCancel := chromedp.NewContext(s.allocator)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	// Allocate the tab outside any step timeout so it lives for the whole run.
	if err := chromedp.Run(tabCtx); err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	if err := s.step(tabCtx, s.networkSetupAction(), chromedp.Navigate(s.cfg.Form.EntryURL),
		chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("open entry page: %w", err)
	}

	pair, err := s.findDateFields(tabCtx)
	if err != nil {
		return nil, err
	}
	date := targetDate.Format(s.cfg.Form.DateLayout)
	if err := s.step(tabCtx,
		chromedp.SetValue(nameSelector(pair.Begin), date, chromedp.ByQuery),
		chromedp.SetValue(nameSelector(pair.End), date, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("fill date range: %w", err)
	}

	if len(s.cfg.Form.Counties) > 0 {
		selected, err := s.selectCounties(tabCtx)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("pre-selected counties", zap.Int("selected", selected))
	}

	submit, err := s.findSubmit(tabCtx)
	if err != nil {
		return nil, err
	}
	first, err := s.load(tabCtx, chromedp.Click(submit, chromedp.ByQuery, chromedp.NodeVisible))
	if err != nil {
		return nil, fmt.Errorf("submit query: %w", err)
	}
	if s.detector.IsSignIn(first.HTML) {
		return nil, fmt.Errorf("result page: %w", acquire.ErrSignIn)
	}

	pages, err := acquire.FollowPages(ctx, first, s.cfg.MaxPages, s.detector,
		func(_ context.Context, target string) (permit.RawPage, error) {
			return s.load(tabCtx, chromedp.Navigate(target))
		})
	if err != nil {
		return nil, fmt.Errorf("paginate: %w", err)
	}
	return pages, nil
}

// step runs actions under the navigation timeout.
func (s *Strategy) step(tabCtx context.Context, actions ...chromedp.Action) error {
	stepCtx, cancel := context.WithTimeout(tabCtx, s.cfg.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(stepCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

// load runs a navigating action, waits for the document response and captures
// the rendered DOM.
func (s *Strategy) load(tabCtx context.Context, navigate chromedp.Action) (permit.RawPage, error) {
	stepCtx, cancel := context.WithTimeout(tabCtx, s.cfg.NavigationTimeout)
	defer cancel()

	resp, err := chromedp.RunResponse(stepCtx, navigate)
	if err != nil {
		return permit.RawPage{}, fmt.Errorf("chromedp navigate: %w", err)
	}
	if resp != nil && resp.Status >= 400 {
		return permit.RawPage{}, fmt.Errorf("unexpected status %d from %s", resp.Status, resp.URL)
	}

	var html, location string
	if err := chromedp.Run(stepCtx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return permit.RawPage{}, fmt.Errorf("capture page: %w", err)
	}
	return permit.RawPage{URL: location, HTML: []byte(html)}, nil
}

func (s *Strategy) findDateFields(tabCtx context.Context) (acquire.DateFieldPair, error) {
	for _, pair := range s.cfg.Form.DateFields {
		begin, err := s.exists(tabCtx, nameSelector(pair.Begin))
		if err != nil {
			return acquire.DateFieldPair{}, err
		}
		if !begin {
			continue
		}
		end, err := s.exists(tabCtx, nameSelector(pair.End))
		if err != nil {
			return acquire.DateFieldPair{}, err
		}
		if end {
			return pair, nil
		}
	}
	return acquire.DateFieldPair{}, acquire.ErrFieldNotFound
}

func (s *Strategy) findSubmit(tabCtx context.Context) (string, error) {
	for _, sel := range s.cfg.Form.SubmitSelectors {
		ok, err := s.exists(tabCtx, sel)
		if err != nil {
			return "", err
		}
		if ok {
			return sel, nil
		}
	}
	return "", acquire.ErrSubmitNotFound
}

// exists probes for a selector without waiting for it to appear.
func (s *Strategy) exists(tabCtx context.Context, sel string) (bool, error) {
	var nodes []*cdp.Node
	if err := s.step(tabCtx, chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return false, fmt.Errorf("query %s: %w", sel, err)
	}
	return len(nodes) > 0, nil
}

func (s *Strategy) selectCounties(tabCtx context.Context) (int, error) {
	script, err := countyScript(s.cfg.Form.CountySelects, s.cfg.Form.Counties)
	if err != nil {
		return 0, err
	}
	var selected int
	if err := s.step(tabCtx, chromedp.Evaluate(script, &selected)); err != nil {
		return 0, fmt.Errorf("select counties: %w", err)
	}
	return selected, nil
}

// countyScript builds the page script that picks the county multi-select (by
// name, then id, then the first multiple select) and selects the options whose
// text or value matches a wanted county.
func countyScript(selects, counties []string) (string, error) {
	wanted := make([]string, 0, len(counties))
	for _, c := range counties {
		wanted = append(wanted, strings.ToUpper(strings.TrimSpace(c)))
	}
	keys, err := json.Marshal(selects)
	if err != nil {
		return "", fmt.Errorf("marshal select keys: %w", err)
	}
	names, err := json.Marshal(wanted)
	if err != nil {
		return "", fmt.Errorf("marshal counties: %w", err)
	}
	return fmt.Sprintf(`(function(keys, wanted) {
  var el = null;
  for (var i = 0; i < keys.length && !el; i++) {
    el = document.querySelector('select[name="' + keys[i] + '"]') || document.getElementById(keys[i]);
  }
  if (!el) { el = document.querySelector('select[multiple]'); }
  if (!el) { return 0; }
  var n = 0;
  for (var j = 0; j < el.options.length; j++) {
    var o = el.options[j];
    var text = (o.text || '').trim().toUpperCase();
    var value = (o.value || '').trim().toUpperCase();
    o.selected = wanted.indexOf(text) >= 0 || wanted.indexOf(value) >= 0;
    if (o.selected) { n++; }
  }
  return n;
})(%s, %s)`, keys, names), nil
}

func (s *Strategy) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func nameSelector(name string) string {
	return fmt.Sprintf(`[name=%q]`, name)
}

// Package acquire obtains the raw result pages of the drilling-permit query for
// a target date. Concrete strategies live in subpackages; Chain tries them in
// order until one returns a usable page set.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/permitwatch/internal/metrics"
	"github.com/JakeFAU/permitwatch/internal/permit"
)

// Strategy failure reasons.
var (
	ErrSignIn         = errors.New("sign-in page detected")
	ErrFieldNotFound  = errors.New("date fields not found")
	ErrSubmitNotFound = errors.New("submit control not found")
	ErrNoForm         = errors.New("no form on entry page")
)

// DefaultDateLayout is the date format the query form expects.
const DefaultDateLayout = "01/02/2006"

// DateFieldPair names the begin/end inputs of the submitted-date range.
type DateFieldPair struct {
	Begin string
	End   string
}

// DefaultDateFields lists the known date input names in priority order.
var DefaultDateFields = []DateFieldPair{
	{Begin: "submittedDateBegin", End: "submittedDateEnd"},
	{Begin: "submittedBeginDate", End: "submittedEndDate"},
	{Begin: "submittedBegin", End: "submittedEnd"},
}

// DefaultSubmitSelectors lists the submit control selectors in priority order.
var DefaultSubmitSelectors = []string{
	"input[type='submit'][value='Submit']",
	"input[type='submit'][value='Results']",
	"input[type='button'][value='Results']",
	"input[type='submit']",
	"button[type='submit']",
}

// DefaultCountySelects lists the names or ids of the county multi-select.
var DefaultCountySelects = []string{"county", "County", "countyList"}

// Form describes how to fill the query form. Zero fields take the defaults.
type Form struct {
	EntryURL        string
	DateLayout      string
	DateFields      []DateFieldPair
	SubmitSelectors []string
	CountySelects   []string
	// Counties pre-selects these canonical county names when non-empty.
	Counties []string
}

// WithDefaults fills unset fields.
func (f Form) WithDefaults() Form {
	if f.DateLayout == "" {
		f.DateLayout = DefaultDateLayout
	}
	if len(f.DateFields) == 0 {
		f.DateFields = DefaultDateFields
	}
	if len(f.SubmitSelectors) == 0 {
		f.SubmitSelectors = DefaultSubmitSelectors
	}
	if len(f.CountySelects) == 0 {
		f.CountySelects = DefaultCountySelects
	}
	return f
}

// Strategy is one method of obtaining the result pages.
type Strategy interface {
	Name() string
	Acquire(ctx context.Context, targetDate time.Time) ([]permit.RawPage, error)
}

// Chain tries strategies in order and returns the first success.
type Chain struct {
	strategies []Strategy
	logger     *zap.Logger
}

// NewChain builds a Chain. Order of strategies is priority order.
func NewChain(logger *zap.Logger, strategies ...Strategy) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{strategies: strategies, logger: logger.Named("acquire")}
}

// Name identifies the chain in logs.
func (c *Chain) Name() string {
	return "chain"
}

// Acquire returns the pages from the first strategy that succeeds. When all
// fail the error wraps permit.ErrAcquisition and every strategy's error.
func (c *Chain) Acquire(ctx context.Context, targetDate time.Time) ([]permit.RawPage, error) {
	if len(c.strategies) == 0 {
		return nil, fmt.Errorf("%w: no strategies configured", permit.ErrAcquisition)
	}
	errs := make([]error, 0, len(c.strategies))
	for _, strategy := range c.strategies {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		pages, err := strategy.Acquire(ctx, targetDate)
		if err == nil && len(pages) == 0 {
			err = errors.New("no pages returned")
		}
		if err != nil {
			metrics.ObserveStrategyFailure(strategy.Name())
			c.logger.Warn("acquisition strategy failed",
				zap.String("strategy", strategy.Name()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", strategy.Name(), err))
			continue
		}
		for i := range pages {
			pages[i].Strategy = strategy.Name()
			metrics.ObservePage(pages[i].URL, strategy.Name(), len(pages[i].HTML))
		}
		c.logger.Info("acquired result pages",
			zap.String("strategy", strategy.Name()),
			zap.Int("pages", len(pages)),
		)
		return pages, nil
	}
	return nil, fmt.Errorf("%w: %w", permit.ErrAcquisition, errors.Join(errs...))
}

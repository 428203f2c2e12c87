// Package pipeline runs acquisition, extraction, admission and notification
// as one guarded unit of work, on demand or on a schedule.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/permitwatch/internal/extract"
	"github.com/JakeFAU/permitwatch/internal/metrics"
	"github.com/JakeFAU/permitwatch/internal/notify"
	"github.com/JakeFAU/permitwatch/internal/permit"
)

// ErrBusy is returned when a run is requested while another is in progress.
var ErrBusy = errors.New("a run is already in progress")

// DiscoveredTopic is the event published when a run admits new permits.
const DiscoveredTopic = "permits.discovered"

// Run outcomes recorded in metrics.
const (
	OutcomeSuccess           = "success"
	OutcomeAcquisitionFailed = "acquisition_failed"
	OutcomeError             = "error"
)

// Acquirer fetches the result pages for a date.
type Acquirer interface {
	Acquire(ctx context.Context, targetDate time.Time) ([]permit.RawPage, error)
}

// Extractor turns one page into candidate records.
type Extractor interface {
	Extract(page permit.RawPage, targetDate time.Time) ([]permit.Record, extract.Stats)
}

// Notifier announces new records and refreshes windows of known ones.
type Notifier interface {
	NotifyNew(ctx context.Context, records []permit.Record) (notify.Summary, error)
	Extend(ctx context.Context, identityKeys []string) error
}

// Config tunes a run.
type Config struct {
	RunTimeout time.Duration
	// Location decides which calendar day "today" is.
	Location      *time.Location
	ArchivePrefix string
	EventTopic    string
}

// RunSummary reports what one run did.
type RunSummary struct {
	RunID        string         `json:"run_id"`
	TargetDate   string         `json:"target_date"`
	Strategy     string         `json:"strategy,omitempty"`
	Pages        int            `json:"pages"`
	Archived     int            `json:"archived"`
	Candidates   int            `json:"candidates"`
	Skipped      int            `json:"skipped_rows"`
	New          int            `json:"new"`
	Rediscovered int            `json:"rediscovered"`
	StoreErrors  int            `json:"store_errors"`
	Notify       notify.Summary `json:"notify"`
	Duration     time.Duration  `json:"duration"`
}

// DiscoveredEvent is the payload published on DiscoveredTopic.
type DiscoveredEvent struct {
	RunID      string          `json:"run_id"`
	TargetDate string          `json:"target_date"`
	Count      int             `json:"count"`
	Permits    []permit.Record `json:"permits"`
}

// Orchestrator executes runs.
type Orchestrator struct {
	cfg       Config
	status    *Status
	acquirer  Acquirer
	extractor Extractor
	store     permit.RecordStore
	notifier  Notifier
	blobs     permit.BlobStore
	hasher    permit.Hasher
	publisher permit.Publisher
	clock     permit.Clock
	ids       permit.IDGenerator
	logger    *zap.Logger

	background sync.WaitGroup
}

// New wires an Orchestrator. blobs and publisher may be nil to skip archiving
// and event publishing.
func New(
	cfg Config,
	status *Status,
	acquirer Acquirer,
	extractor Extractor,
	store permit.RecordStore,
	notifier Notifier,
	blobs permit.BlobStore,
	hasher permit.Hasher,
	publisher permit.Publisher,
	clock permit.Clock,
	ids permit.IDGenerator,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.EventTopic == "" {
		cfg.EventTopic = DiscoveredTopic
	}
	if status == nil {
		status = NewStatus()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		status:    status,
		acquirer:  acquirer,
		extractor: extractor,
		store:     store,
		notifier:  notifier,
		blobs:     blobs,
		hasher:    hasher,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		logger:    logger.Named("pipeline"),
	}
}

// Status returns a snapshot of the run state.
func (o *Orchestrator) Status() permit.RunStatus {
	return o.status.Snapshot()
}

// RunOnce executes one run synchronously. It returns ErrBusy at once when a
// run is already in progress.
func (o *Orchestrator) RunOnce(ctx context.Context) (RunSummary, error) {
	runID, err := o.start()
	if err != nil {
		return RunSummary{}, err
	}
	return o.run(ctx, runID)
}

// Trigger starts a run in the background and returns its id. The run outlives
// ctx's cancellation but keeps its values.
func (o *Orchestrator) Trigger(ctx context.Context) (string, error) {
	runID, err := o.start()
	if err != nil {
		return "", err
	}
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		if _, err := o.run(context.WithoutCancel(ctx), runID); err != nil {
			o.logger.Warn("triggered run failed", zap.String("run_id", runID), zap.Error(err))
		}
	}()
	return runID, nil
}

// Wait blocks until every run started by Trigger has finished.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

func (o *Orchestrator) start() (string, error) {
	runID, err := o.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	if !o.status.TryStart(runID, o.clock.Now()) {
		return "", ErrBusy
	}
	return runID, nil
}

func (o *Orchestrator) run(ctx context.Context, runID string) (RunSummary, error) {
	start := o.clock.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()

	logger := o.logger.With(zap.String("run_id", runID))
	logger.Info("run started")

	sum, err := o.execute(ctx, runID, start, logger)
	finished := o.clock.Now()
	sum.Duration = finished.Sub(start)
	o.status.Finish(finished, sum.New, sum.Strategy, err)

	outcome := OutcomeSuccess
	switch {
	case errors.Is(err, permit.ErrAcquisition):
		outcome = OutcomeAcquisitionFailed
	case err != nil:
		outcome = OutcomeError
	}
	metrics.ObserveRun(outcome, sum.Duration)

	if err != nil {
		logger.Error("run failed", zap.Duration("duration", sum.Duration), zap.Error(err))
		return sum, err
	}
	logger.Info("run finished",
		zap.String("strategy", sum.Strategy),
		zap.Int("pages", sum.Pages),
		zap.Int("candidates", sum.Candidates),
		zap.Int("new", sum.New),
		zap.Int("rediscovered", sum.Rediscovered),
		zap.Duration("duration", sum.Duration))
	return sum, nil
}

func (o *Orchestrator) execute(ctx context.Context, runID string, now time.Time, logger *zap.Logger) (RunSummary, error) {
	targetDate := TargetDate(now, o.cfg.Location)
	sum := RunSummary{RunID: runID, TargetDate: targetDate.Format(extract.DateLayout)}

	pages, err := o.acquirer.Acquire(ctx, targetDate)
	if err != nil {
		if !errors.Is(err, permit.ErrAcquisition) {
			err = fmt.Errorf("%w: %w", permit.ErrAcquisition, err)
		}
		return sum, err
	}
	sum.Pages = len(pages)
	if len(pages) > 0 {
		sum.Strategy = pages[0].Strategy
	}
	sum.Archived = len(o.archive(ctx, runID, targetDate, pages, logger))

	var (
		fresh        []permit.Record
		rediscovered []string
	)
	for i, page := range pages {
		records, stats := o.extractor.Extract(page, targetDate)
		metrics.ObserveExtraction(stats.Records, stats.Skipped)
		sum.Candidates += len(records)
		sum.Skipped += stats.Skipped
		fields := []zap.Field{
			zap.Int("page", i+1),
			zap.String("url", page.URL),
			zap.Int("tables", stats.Tables),
			zap.Int("rows", stats.Rows),
			zap.Int("records", stats.Records),
			zap.Int("skipped", stats.Skipped),
			zap.String("tier", string(stats.Tier)),
		}
		if stats.ParseErr != nil {
			logger.Warn("page could not be parsed", append(fields, zap.Error(stats.ParseErr))...)
		} else {
			logger.Debug("page extracted", fields...)
		}

		for _, rec := range records {
			rec.DiscoveredAt = now
			admitted, err := o.store.Admit(ctx, rec)
			if err != nil {
				sum.StoreErrors++
				logger.Warn("admit record failed",
					zap.String("identity_key", rec.IdentityKey), zap.Error(err))
				continue
			}
			if admitted {
				fresh = append(fresh, rec)
			} else {
				rediscovered = append(rediscovered, rec.IdentityKey)
			}
		}
	}
	sum.New = len(fresh)
	sum.Rediscovered = len(rediscovered)
	metrics.ObserveNewPermits(sum.New)

	if err := o.notifier.Extend(ctx, rediscovered); err != nil {
		logger.Warn("extend dedup windows failed", zap.Error(err))
	}
	notified, err := o.notifier.NotifyNew(ctx, fresh)
	sum.Notify = notified
	if err != nil {
		logger.Warn("notify new records failed", zap.Error(err))
	}

	if len(fresh) > 0 && o.publisher != nil {
		event := DiscoveredEvent{
			RunID:      runID,
			TargetDate: sum.TargetDate,
			Count:      len(fresh),
			Permits:    fresh,
		}
		if id, err := o.publisher.Publish(ctx, o.cfg.EventTopic, event); err != nil {
			logger.Warn("publish discovered event failed", zap.Error(err))
		} else {
			logger.Debug("discovered event published", zap.String("message_id", id))
		}
	}
	return sum, nil
}

// TargetDate is the calendar day containing now in loc, at midnight.
func TargetDate(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Package core implements the submission pipeline: validation, quality
// classification, persistence and the read operations built on top.
package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kilupskalvis/kotoimi/internal/analysis"
	"github.com/kilupskalvis/kotoimi/internal/models"
	"github.com/kilupskalvis/kotoimi/internal/store"
)

// Notifier is told about every accepted, consented submission.
// Implementations must not block.
type Notifier interface {
	NotifySubmission(sub *models.Submission)
}

// Service ties the store, classifier and analyzer together.
type Service struct {
	store    store.Store
	analyzer *analysis.Analyzer
	now      func() time.Time
	newID    func(time.Time) string
	logger   *slog.Logger
	notifier Notifier

	concurrency int

	// mu makes the duplicate lookup and the insert one step.
	mu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source used to stamp submissions.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithNotifier registers a submission notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithIDGenerator replaces the record ID generator.
func WithIDGenerator(gen func(time.Time) string) Option {
	return func(s *Service) { s.newID = gen }
}

// WithAnalysisConcurrency bounds the comprehensive report fan-out.
func WithAnalysisConcurrency(n int) Option {
	return func(s *Service) { s.concurrency = n }
}

// NewService creates a Service over an initialized store.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		now:    time.Now,
		newID:  models.GenerateRecordID,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.analyzer = analysis.NewAnalyzer(st,
		analysis.WithConcurrency(s.concurrency),
		analysis.WithClock(s.now),
	)
	return s
}

// Submit validates, classifies and persists a submission.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*models.Submission, error) {
	sub, err := req.Validate()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub.Timestamp = s.now().UTC().Truncate(time.Millisecond)
	sub.ID = s.newID(sub.Timestamp)

	flags, err := Classify(ctx, sub, s.store)
	if err != nil {
		return nil, err
	}
	sub.QualityFlags = flags

	if err := s.store.Insert(ctx, sub); err != nil {
		return nil, fmt.Errorf("store submission: %w", err)
	}

	if flags != 0 {
		s.logger.Info("submission flagged",
			"record_id", sub.ID,
			"event_tag", sub.EventCategory,
			"flags", flags.String(),
		)
	} else {
		s.logger.Debug("submission accepted",
			"record_id", sub.ID,
			"event_tag", sub.EventCategory,
			"mode", sub.Mode,
		)
	}

	if s.notifier != nil && sub.Consent {
		s.notifier.NotifySubmission(sub)
	}
	return sub, nil
}

// MarkSawAlternatives records whether the author viewed other meanings.
func (s *Service) MarkSawAlternatives(ctx context.Context, id string, saw bool) error {
	if id == "" {
		return missing("record_id")
	}
	if err := s.store.SetSawAlternatives(ctx, id, saw); err != nil {
		return fmt.Errorf("update record %s: %w", id, err)
	}
	return nil
}

// Analyze runs a research analysis. An empty category covers all categories.
func (s *Service) Analyze(ctx context.Context, kind, category string) (interface{}, error) {
	if kind == "" {
		kind = string(analysis.KindDiversity)
	}
	k, err := analysis.ParseKind(kind)
	if err != nil {
		return nil, err
	}

	var c models.EventCategory
	if category != "" {
		if c, err = models.ParseEventCategory(category); err != nil {
			return nil, invalid("event_tag", "%v", err)
		}
	}
	return s.analyzer.Analyze(ctx, k, c)
}

// Stats returns dataset and quality statistics.
func (s *Service) Stats(ctx context.Context) (*analysis.Stats, error) {
	return s.analyzer.Stats(ctx)
}

// Export writes consented submissions as CSV and returns the row count.
func (s *Service) Export(ctx context.Context, w io.Writer) (int, error) {
	return s.analyzer.ExportCSV(ctx, w)
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

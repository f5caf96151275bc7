// Package analysis computes research statistics over collected submissions:
// meaning diversity, solo/social comparisons, revision impact, and the
// operational statistics used by the research tooling.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilupskalvis/kotoimi/internal/models"
	"github.com/kilupskalvis/kotoimi/internal/store"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidKind is returned by Analyze for an unknown analysis kind.
var ErrInvalidKind = errors.New("invalid analysis kind")

// AllCategories labels reports that span every event category.
const AllCategories = "all"

// Kind selects an analysis.
type Kind string

const (
	KindDiversity      Kind = "diversity"
	KindModeComparison Kind = "mode_comparison"
	KindRevisionImpact Kind = "revision_impact"
	KindComprehensive  Kind = "comprehensive"
)

// ParseKind validates an analysis kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindDiversity, KindModeComparison, KindRevisionImpact, KindComprehensive:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

const sampleMeaningLimit = 5

// Source is the read side of the submission store.
type Source interface {
	Query(ctx context.Context, f store.Filter) ([]*models.Submission, error)
	Categories(ctx context.Context, f store.Filter) ([]models.EventCategory, error)
}

// Analyzer runs analyses against a Source.
type Analyzer struct {
	src         Source
	concurrency int
	now         func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithConcurrency bounds the per-category fan-out of the comprehensive report.
func WithConcurrency(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithClock sets the time source used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(src Source, opts ...Option) *Analyzer {
	a := &Analyzer{src: src, concurrency: 4, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// DiversityReport summarises how varied the meanings for a category are.
type DiversityReport struct {
	EventTag     string  `json:"event_tag"`
	TotalEntries int     `json:"total_entries"`
	EntropyText  float64 `json:"entropy_text"`
	EntropyTags  float64 `json:"entropy_tags"`
	// UniqueMeanings counts distinct exact meaning texts.
	UniqueMeanings int     `json:"unique_meanings"`
	DiversityRate  float64 `json:"diversity_rate"`
	// LexicalDistanceAvg keeps its historical wire name.
	LexicalDistanceAvg float64  `json:"semantic_distance_avg"`
	ConsensusRate      float64  `json:"consensus_rate"`
	SampleMeanings     []string `json:"sample_meanings"`
}

// ModeMetrics are the per-mode figures of a ModeComparison.
type ModeMetrics struct {
	Count         int     `json:"count"`
	EntropyText   float64 `json:"entropy_text"`
	EntropyTags   float64 `json:"entropy_tags"`
	ConsensusRate float64 `json:"consensus_rate"`
}

// ModeDifferences holds social minus solo for each metric.
type ModeDifferences struct {
	EntropyTextDiff   float64 `json:"entropy_text_diff"`
	EntropyTagsDiff   float64 `json:"entropy_tags_diff"`
	ConsensusRateDiff float64 `json:"consensus_rate_diff"`
}

// ModeComparison contrasts solo and social submissions.
type ModeComparison struct {
	EventTag    string          `json:"event_tag"`
	Solo        ModeMetrics     `json:"solo"`
	Social      ModeMetrics     `json:"social"`
	Differences ModeDifferences `json:"differences"`
}

// Revision is one meaning changed after viewing peers.
type Revision struct {
	Original      string `json:"original"`
	Revised       string `json:"revised"`
	RevisionCount int    `json:"revision_count"`
}

// RevisionReport measures how often social users change their meaning
// after seeing the distribution.
type RevisionReport struct {
	EventTag             string `json:"event_tag"`
	TotalSocial          int    `json:"total_social"`
	TotalSawAlternatives int    `json:"total_saw_alt_meanings"`
	ChangedAfterView     int    `json:"changed_after_view_count"`
	// InfluenceRate is the share of social submissions that viewed
	// other meanings.
	InfluenceRate float64    `json:"influence_rate"`
	ChangeRate    float64    `json:"change_rate"`
	Revisions     []Revision `json:"revisions"`
}

// ComprehensiveSummary bundles the per-category reports, sorted by category.
type ComprehensiveSummary struct {
	TotalEventTypes  int                `json:"total_event_types"`
	EventAnalyses    []*DiversityReport `json:"event_analyses"`
	ModeComparisons  []*ModeComparison  `json:"mode_comparisons"`
	RevisionAnalyses []*RevisionReport  `json:"revision_analyses"`
}

// Overall holds the cross-category rollup.
type Overall struct {
	Diversity      *DiversityReport `json:"diversity"`
	ModeComparison *ModeComparison  `json:"mode_comparison"`
	RevisionImpact *RevisionReport  `json:"revision_impact"`
}

// ComprehensiveReport is every analysis for every category plus a rollup.
type ComprehensiveReport struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Summary     ComprehensiveSummary `json:"summary"`
	Overall     Overall              `json:"overall"`
}

// Analyze dispatches by kind. An empty category means all categories;
// the comprehensive report ignores it.
func (a *Analyzer) Analyze(ctx context.Context, kind Kind, category models.EventCategory) (interface{}, error) {
	switch kind {
	case KindDiversity:
		return a.Diversity(ctx, category)
	case KindModeComparison:
		return a.CompareModes(ctx, category)
	case KindRevisionImpact:
		return a.RevisionImpact(ctx, category)
	case KindComprehensive:
		return a.Comprehensive(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
}

// Diversity analyses meaning diversity for one category, or all when empty.
func (a *Analyzer) Diversity(ctx context.Context, category models.EventCategory) (*DiversityReport, error) {
	subs, err := a.research(ctx, category)
	if err != nil {
		return nil, err
	}
	return diversityOf(label(category), subs), nil
}

// CompareModes compares solo and social submissions for one category, or all when empty.
func (a *Analyzer) CompareModes(ctx context.Context, category models.EventCategory) (*ModeComparison, error) {
	subs, err := a.research(ctx, category)
	if err != nil {
		return nil, err
	}
	return compareModes(label(category), subs), nil
}

// RevisionImpact analyses revisions for one category, or all when empty.
func (a *Analyzer) RevisionImpact(ctx context.Context, category models.EventCategory) (*RevisionReport, error) {
	subs, err := a.research(ctx, category)
	if err != nil {
		return nil, err
	}
	return revisionImpactOf(label(category), subs), nil
}

// Comprehensive runs every analysis for each consented category and for
// the whole dataset. Categories are processed concurrently.
func (a *Analyzer) Comprehensive(ctx context.Context) (*ComprehensiveReport, error) {
	categories, err := a.src.Categories(ctx, store.Filter{ConsentedOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}

	report := &ComprehensiveReport{
		GeneratedAt: a.now().UTC(),
		Summary: ComprehensiveSummary{
			TotalEventTypes:  len(categories),
			EventAnalyses:    make([]*DiversityReport, len(categories)),
			ModeComparisons:  make([]*ModeComparison, len(categories)),
			RevisionAnalyses: make([]*RevisionReport, len(categories)),
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i, category := range categories {
		g.Go(func() error {
			subs, err := a.research(gctx, category)
			if err != nil {
				return err
			}
			l := label(category)
			report.Summary.EventAnalyses[i] = diversityOf(l, subs)
			report.Summary.ModeComparisons[i] = compareModes(l, subs)
			report.Summary.RevisionAnalyses[i] = revisionImpactOf(l, subs)
			return nil
		})
	}

	var all []*models.Submission
	g.Go(func() error {
		var err error
		all, err = a.research(gctx, "")
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Overall = Overall{
		Diversity:      diversityOf(AllCategories, all),
		ModeComparison: compareModes(AllCategories, all),
		RevisionImpact: revisionImpactOf(AllCategories, all),
	}
	return report, nil
}

func (a *Analyzer) research(ctx context.Context, category models.EventCategory) ([]*models.Submission, error) {
	f := store.Research()
	f.Category = category
	subs, err := a.src.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	return subs, nil
}

func label(category models.EventCategory) string {
	if category == "" {
		return AllCategories
	}
	return string(category)
}

func diversityOf(eventTag string, subs []*models.Submission) *DiversityReport {
	texts := meaningTexts(subs)
	samples := make([]string, 0, sampleMeaningLimit)
	for _, t := range texts {
		if len(samples) == sampleMeaningLimit {
			break
		}
		samples = append(samples, t)
	}
	return &DiversityReport{
		EventTag:           eventTag,
		TotalEntries:       len(subs),
		EntropyText:        Entropy(texts),
		EntropyTags:        TagEntropy(subs),
		UniqueMeanings:     UniqueCount(texts),
		DiversityRate:      DiversityRate(texts),
		LexicalDistanceAvg: LexicalDistanceAvg(texts),
		ConsensusRate:      ConsensusRate(subs),
		SampleMeanings:     samples,
	}
}

func modeMetrics(subs []*models.Submission) ModeMetrics {
	return ModeMetrics{
		Count:         len(subs),
		EntropyText:   TextEntropy(subs),
		EntropyTags:   TagEntropy(subs),
		ConsensusRate: ConsensusRate(subs),
	}
}

func compareModes(eventTag string, subs []*models.Submission) *ModeComparison {
	var solo, social []*models.Submission
	for _, s := range subs {
		switch s.Mode {
		case models.ModeSolo:
			solo = append(solo, s)
		case models.ModeSocial:
			social = append(social, s)
		}
	}

	c := &ModeComparison{
		EventTag: eventTag,
		Solo:     modeMetrics(solo),
		Social:   modeMetrics(social),
	}
	c.Differences = ModeDifferences{
		EntropyTextDiff:   c.Social.EntropyText - c.Solo.EntropyText,
		EntropyTagsDiff:   c.Social.EntropyTags - c.Solo.EntropyTags,
		ConsensusRateDiff: c.Social.ConsensusRate - c.Solo.ConsensusRate,
	}
	return c
}

func revisionImpactOf(eventTag string, subs []*models.Submission) *RevisionReport {
	r := &RevisionReport{
		EventTag:  eventTag,
		Revisions: []Revision{},
	}
	for _, s := range subs {
		if s.Mode != models.ModeSocial {
			continue
		}
		r.TotalSocial++
		if !s.SawAlternativeMeanings {
			continue
		}
		r.TotalSawAlternatives++
		if s.ChangedAfterView {
			r.ChangedAfterView++
		}
		if s.Revised() {
			r.Revisions = append(r.Revisions, Revision{
				Original:      s.OriginalMeaning,
				Revised:       s.MeaningText,
				RevisionCount: s.RevisionCount,
			})
		}
	}
	if r.TotalSocial > 0 {
		r.InfluenceRate = float64(r.TotalSawAlternatives) / float64(r.TotalSocial)
	}
	if r.TotalSawAlternatives > 0 {
		r.ChangeRate = float64(r.ChangedAfterView) / float64(r.TotalSawAlternatives)
	}
	return r
}

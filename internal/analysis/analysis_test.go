package analysis

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/kilupskalvis/kotoimi/internal/models"
	"github.com/kilupskalvis/kotoimi/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 9, 21, 10, 30, 0, 0, time.UTC)

// memSource is an in-memory Source.
type memSource struct {
	subs []*models.Submission
	err  error
}

func (m *memSource) Query(_ context.Context, f store.Filter) ([]*models.Submission, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := []*models.Submission{}
	for _, s := range m.subs {
		if f.Match(s) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSource) Categories(ctx context.Context, f store.Filter) ([]models.EventCategory, error) {
	subs, err := m.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	seen := make(map[models.EventCategory]bool)
	var out []models.EventCategory
	for _, s := range subs {
		if !seen[s.EventCategory] {
			seen[s.EventCategory] = true
			out = append(out, s.EventCategory)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *memSource) add(s *models.Submission) *models.Submission {
	s.ID = fmt.Sprintf("rec_%d_%04d", s.Timestamp.UnixMilli(), len(m.subs))
	m.subs = append(m.subs, s)
	return s
}

func entry(mode models.Mode, category models.EventCategory, meaning string, tags ...models.MeaningTag) *models.Submission {
	return &models.Submission{
		AuthorHash:     "anon_tester",
		Timestamp:      baseTime,
		Consent:        true,
		Mode:           mode,
		EventCategory:  category,
		MeaningText:    meaning,
		MeaningTags:    tags,
		ReactionTimeMs: 3000,
		Locale:         models.DefaultLocale,
	}
}

// ==================== Metric Tests ====================

func TestEntropy(t *testing.T) {
	assert.Equal(t, 0.0, Entropy([]string{}))
	assert.Equal(t, 0.0, Entropy([]string{"same", "same", "same"}))

	for _, n := range []int{2, 3, 4, 7} {
		values := make([]string, n)
		for i := range values {
			values[i] = fmt.Sprintf("meaning-%d", i)
		}
		assert.InDelta(t, math.Log2(float64(n)), Entropy(values), 1e-9, "n=%d", n)
	}

	assert.InDelta(t, 1.0, Entropy([]string{"a", "a", "b", "b"}), 1e-9)
}

func TestTagEntropy_IgnoresUntagged(t *testing.T) {
	subs := []*models.Submission{
		entry(models.ModeSolo, models.CategoryWorkLate, "one", models.TagRest),
		entry(models.ModeSolo, models.CategoryWorkLate, "two", models.TagGrowth),
		entry(models.ModeSolo, models.CategoryWorkLate, "three"),
	}
	assert.InDelta(t, 1.0, TagEntropy(subs), 1e-9)
	assert.Equal(t, 0.0, TagEntropy(nil))
}

func TestDiversityRate(t *testing.T) {
	assert.Equal(t, 0.0, DiversityRate([]string(nil)))
	assert.Equal(t, 1.0, DiversityRate([]string{"a", "b"}))
	assert.Equal(t, 0.5, DiversityRate([]string{"same", "same", "other", "same"}))
	assert.Equal(t, 2, UniqueCount([]string{"same", "same", "other", "same"}))
}

func TestConsensusRate(t *testing.T) {
	t.Run("tag in every entry", func(t *testing.T) {
		subs := []*models.Submission{
			entry(models.ModeSolo, models.CategoryWorkLate, "a", models.TagRest),
			entry(models.ModeSolo, models.CategoryWorkLate, "b", models.TagRest, models.TagGrowth),
			entry(models.ModeSolo, models.CategoryWorkLate, "c", models.TagAnxiety, models.TagRest),
		}
		assert.Equal(t, 1.0, ConsensusRate(subs))
	})

	t.Run("untagged entries count in the denominator", func(t *testing.T) {
		subs := []*models.Submission{
			entry(models.ModeSolo, models.CategoryWorkLate, "a", models.TagRest),
			entry(models.ModeSolo, models.CategoryWorkLate, "b"),
		}
		assert.Equal(t, 0.5, ConsensusRate(subs))
	})

	t.Run("no tags", func(t *testing.T) {
		subs := []*models.Submission{entry(models.ModeSolo, models.CategoryWorkLate, "a")}
		assert.Equal(t, 0.0, ConsensusRate(subs))
		assert.Equal(t, 0.0, ConsensusRate(nil))
	})
}

func TestNormalizedEditDistance(t *testing.T) {
	assert.Equal(t, 0.0, NormalizedEditDistance("", ""))
	assert.Equal(t, 0.0, NormalizedEditDistance("Rain Day", "rain day"))
	assert.Equal(t, 1.0, NormalizedEditDistance("abc", ""))
	assert.InDelta(t, 3.0/7.0, NormalizedEditDistance("kitten", "sitting"), 1e-9)
	// rune based, not byte based
	assert.InDelta(t, 1.0/3.0, NormalizedEditDistance("雨の日", "雪の日"), 1e-9)
}

func TestLexicalDistanceAvg(t *testing.T) {
	assert.Equal(t, 0.0, LexicalDistanceAvg(nil))
	assert.Equal(t, 0.0, LexicalDistanceAvg([]string{"only one"}))
	assert.Equal(t, 0.0, LexicalDistanceAvg([]string{"same", "same"}))

	// pairs: (abc,abd)=1/3, (abc,xyz)=1, (abd,xyz)=1
	assert.InDelta(t, (1.0/3.0+2.0)/3.0, LexicalDistanceAvg([]string{"abc", "abd", "xyz"}), 1e-9)
}

// ==================== Analyzer Tests ====================

func TestAnalyzer_Diversity(t *testing.T) {
	src := &memSource{}
	for i := 0; i < 6; i++ {
		src.add(entry(models.ModeSolo, models.CategoryWeatherRain, fmt.Sprintf("meaning number %d", i), models.TagBadLuck))
	}
	spam := entry(models.ModeSolo, models.CategoryWeatherRain, "spam meaning", models.TagRest)
	spam.QualityFlags = models.FlagSpam
	src.add(spam)
	private := entry(models.ModeSolo, models.CategoryWeatherRain, "private meaning", models.TagRest)
	private.Consent = false
	src.add(private)
	src.add(entry(models.ModeSolo, models.CategoryTrainDelay, "other category"))

	a := NewAnalyzer(src)
	r, err := a.Diversity(context.Background(), models.CategoryWeatherRain)
	require.NoError(t, err)

	assert.Equal(t, "weather_rain", r.EventTag)
	assert.Equal(t, 6, r.TotalEntries)
	assert.InDelta(t, math.Log2(6), r.EntropyText, 1e-9)
	assert.Equal(t, 0.0, r.EntropyTags)
	assert.Equal(t, 1.0, r.ConsensusRate)
	assert.Greater(t, r.LexicalDistanceAvg, 0.0)
	assert.Equal(t, 6, r.UniqueMeanings)
	assert.Equal(t, 1.0, r.DiversityRate)
	assert.Equal(t, []string{
		"meaning number 0", "meaning number 1", "meaning number 2",
		"meaning number 3", "meaning number 4",
	}, r.SampleMeanings)

	all, err := a.Diversity(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, AllCategories, all.EventTag)
	assert.Equal(t, 7, all.TotalEntries)
}

func TestAnalyzer_CompareModes(t *testing.T) {
	src := &memSource{}
	src.add(entry(models.ModeSolo, models.CategoryWeatherRain, "plans ruined", models.TagBadLuck))
	src.add(entry(models.ModeSolo, models.CategoryWeatherRain, "plans ruined", models.TagBadLuck))
	src.add(entry(models.ModeSolo, models.CategoryWeatherRain, "time to read", models.TagRest))
	src.add(entry(models.ModeSocial, models.CategoryWeatherRain, "good for plants", models.TagGratitude))
	src.add(entry(models.ModeSocial, models.CategoryWeatherRain, "cozy day indoors", models.TagRest))
	flagged := entry(models.ModeSocial, models.CategoryWeatherRain, "duplicate", models.TagRest)
	flagged.QualityFlags = models.FlagDuplicate
	src.add(flagged)

	a := NewAnalyzer(src)
	res, err := a.Analyze(context.Background(), KindModeComparison, models.CategoryWeatherRain)
	require.NoError(t, err)
	c, ok := res.(*ModeComparison)
	require.True(t, ok)

	assert.Equal(t, "weather_rain", c.EventTag)
	assert.Equal(t, 3, c.Solo.Count)
	assert.Equal(t, 2, c.Social.Count)
	assert.InDelta(t, c.Social.EntropyText-c.Solo.EntropyText, c.Differences.EntropyTextDiff, 1e-12)
	assert.InDelta(t, c.Social.EntropyTags-c.Solo.EntropyTags, c.Differences.EntropyTagsDiff, 1e-12)
	assert.InDelta(t, c.Social.ConsensusRate-c.Solo.ConsensusRate, c.Differences.ConsensusRateDiff, 1e-12)

	assert.InDelta(t, 2.0/3.0, c.Solo.ConsensusRate, 1e-9)
	assert.Equal(t, 0.5, c.Social.ConsensusRate)
	assert.Equal(t, 1.0, c.Social.EntropyText)
}

func TestAnalyzer_RevisionImpact(t *testing.T) {
	src := &memSource{}

	revised := entry(models.ModeSocial, models.CategoryWorkMistake, "a chance to learn")
	revised.SawAlternativeMeanings = true
	revised.ChangedAfterView = true
	revised.OriginalMeaning = "I am useless"
	revised.RevisionCount = 2
	src.add(revised)

	changedNoOriginal := entry(models.ModeSocial, models.CategoryWorkMistake, "changed but no original")
	changedNoOriginal.SawAlternativeMeanings = true
	changedNoOriginal.ChangedAfterView = true
	src.add(changedNoOriginal)

	unchanged := entry(models.ModeSocial, models.CategoryWorkMistake, "kept my meaning")
	unchanged.SawAlternativeMeanings = true
	src.add(unchanged)

	unchanged2 := entry(models.ModeSocial, models.CategoryWorkMistake, "kept it again")
	unchanged2.SawAlternativeMeanings = true
	src.add(unchanged2)

	// social but did not see alternatives; solo is ignored entirely
	src.add(entry(models.ModeSocial, models.CategoryWorkMistake, "never looked"))
	src.add(entry(models.ModeSolo, models.CategoryWorkMistake, "solo entry"))

	a := NewAnalyzer(src)
	r, err := a.RevisionImpact(context.Background(), models.CategoryWorkMistake)
	require.NoError(t, err)

	assert.Equal(t, 5, r.TotalSocial)
	assert.Equal(t, 4, r.TotalSawAlternatives)
	assert.InDelta(t, 0.8, r.InfluenceRate, 1e-9)
	assert.Equal(t, 2, r.ChangedAfterView)
	assert.Equal(t, 0.5, r.ChangeRate)
	assert.Equal(t, []Revision{{Original: "I am useless", Revised: "a chance to learn", RevisionCount: 2}}, r.Revisions)
}

func TestAnalyzer_EmptyDatasetIsComplete(t *testing.T) {
	a := NewAnalyzer(&memSource{}, WithClock(func() time.Time { return baseTime }))
	ctx := context.Background()

	d, err := a.Diversity(ctx, models.CategoryWorkLate)
	require.NoError(t, err)
	assert.Equal(t, 0, d.TotalEntries)
	assert.Equal(t, 0.0, d.DiversityRate)
	assert.NotNil(t, d.SampleMeanings)

	r, err := a.RevisionImpact(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.ChangeRate)
	assert.Equal(t, 0.0, r.InfluenceRate)
	assert.NotNil(t, r.Revisions)

	c, err := a.Comprehensive(ctx)
	require.NoError(t, err)
	assert.Equal(t, baseTime, c.GeneratedAt)
	assert.Equal(t, 0, c.Summary.TotalEventTypes)

	raw, err := json.Marshal(c)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "null")
}

func TestAnalyzer_Comprehensive(t *testing.T) {
	src := &memSource{}
	src.add(entry(models.ModeSolo, models.CategoryWorkLate, "overtime again", models.TagAnxiety))
	src.add(entry(models.ModeSocial, models.CategoryTrainDelay, "time to read a book", models.TagRest))
	src.add(entry(models.ModeSolo, models.CategoryTrainDelay, "late for school", models.TagBadLuck))
	private := entry(models.ModeSolo, models.CategoryStudyExam, "not for research")
	private.Consent = false
	src.add(private)

	a := NewAnalyzer(src, WithConcurrency(2))
	c, err := a.Comprehensive(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, c.Summary.TotalEventTypes)
	require.Len(t, c.Summary.EventAnalyses, 2)
	assert.Equal(t, "train_delay", c.Summary.EventAnalyses[0].EventTag)
	assert.Equal(t, 2, c.Summary.EventAnalyses[0].TotalEntries)
	assert.Equal(t, "work_late", c.Summary.ModeComparisons[1].EventTag)
	assert.Equal(t, "work_late", c.Summary.RevisionAnalyses[1].EventTag)

	assert.Equal(t, AllCategories, c.Overall.Diversity.EventTag)
	assert.Equal(t, 3, c.Overall.Diversity.TotalEntries)
	assert.Equal(t, 2, c.Overall.ModeComparison.Solo.Count)
}

func TestAnalyzer_InvalidKind(t *testing.T) {
	a := NewAnalyzer(&memSource{})
	_, err := a.Analyze(context.Background(), "sentiment", "")
	assert.ErrorIs(t, err, ErrInvalidKind)

	_, err = ParseKind("sentiment")
	assert.ErrorIs(t, err, ErrInvalidKind)

	k, err := ParseKind("revision_impact")
	require.NoError(t, err)
	assert.Equal(t, KindRevisionImpact, k)
}

func TestAnalyzer_SourceError(t *testing.T) {
	boom := errors.New("disk on fire")
	a := NewAnalyzer(&memSource{err: boom})

	_, err := a.Diversity(context.Background(), "")
	assert.ErrorIs(t, err, boom)
	_, err = a.Comprehensive(context.Background())
	assert.ErrorIs(t, err, boom)
	_, err = a.Stats(context.Background())
	assert.ErrorIs(t, err, boom)
}

// ==================== Stats Tests ====================

func TestAnalyzer_Stats(t *testing.T) {
	src := &memSource{}
	day := func(d int) time.Time { return baseTime.AddDate(0, 0, -d) }

	for d := 0; d < 9; d++ {
		s := entry(models.ModeSolo, models.CategoryWorkLate, fmt.Sprintf("day %d meaning", d))
		s.Timestamp = day(d)
		s.ReactionTimeMs = int64(1000 * (d + 1))
		src.add(s)
	}
	social := entry(models.ModeSocial, models.CategoryTrainDelay, "short")
	social.QualityFlags = models.FlagTooShort
	social.ReactionTimeMs = 100
	social.QualityFlags |= models.FlagSpam
	src.add(social)
	private := entry(models.ModeSolo, models.CategoryTrainDelay, "private meaning")
	private.Consent = false
	src.add(private)

	a := NewAnalyzer(src)
	st, err := a.Stats(context.Background())
	require.NoError(t, err)

	b := st.Basic
	assert.Equal(t, 11, b.TotalRecords)
	assert.Equal(t, 10, b.ConsentedRecords)
	assert.InDelta(t, 10.0/11.0, b.ConsentRate, 1e-9)
	assert.Equal(t, map[string]int{"solo": 9, "social": 1}, b.Modes)
	assert.Equal(t, []CategoryCount{{"work_late", 9}, {"train_delay", 1}}, b.Events)
	require.Len(t, b.Daily, 7)
	assert.Equal(t, DailyCount{Date: "2025-09-21", Count: 2}, b.Daily[0])
	assert.Equal(t, "2025-09-15", b.Daily[6].Date)

	q := st.Quality
	assert.Equal(t, 10, q.Total)
	assert.Equal(t, 1, q.Spam)
	assert.Equal(t, 0, q.Duplicate)
	assert.Equal(t, 1, q.TooShort)
	assert.Equal(t, 9, q.HighQuality)
	assert.Equal(t, 10, q.ReactionTime.Count)
	assert.Equal(t, int64(100), q.ReactionTime.Min)
	assert.Equal(t, int64(9000), q.ReactionTime.Max)
	assert.Equal(t, 4500.0, q.ReactionTime.Median)
	assert.InDelta(t, 4510.0, q.ReactionTime.Mean, 1e-9)
}

func TestReactionTimeStats(t *testing.T) {
	assert.Equal(t, ReactionTimeStats{}, reactionTimeStats(nil))

	one := reactionTimeStats([]int64{1200})
	assert.Equal(t, ReactionTimeStats{Count: 1, Mean: 1200, Median: 1200, Min: 1200, Max: 1200}, one)

	st := reactionTimeStats([]int64{3000, 1000, 2000})
	assert.Equal(t, 2000.0, st.Median)
	assert.InDelta(t, 1000.0, st.StdDev, 1e-9)
}

func TestAnalyzer_ExportCSV(t *testing.T) {
	src := &memSource{}
	s := src.add(entry(models.ModeSocial, models.CategoryWorkLate, "a chance, \"really\"", models.TagRest, models.TagGrowth))
	s.ChangedAfterView = true
	s.OriginalMeaning = "awful"
	s.RevisionCount = 1
	s.QualityFlags = models.FlagTooShort
	private := entry(models.ModeSolo, models.CategoryWorkLate, "private meaning")
	private.Consent = false
	src.add(private)

	var buf bytes.Buffer
	n, err := NewAnalyzer(src).ExportCSV(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, exportHeader, rows[0])
	assert.Equal(t, []string{
		s.ID, "2025-09-21T10:30:00Z", "social", "work_late", "",
		"a chance, \"really\"", "rest,growth", "3000", "false",
		"true", "too_short", "awful", "1",
	}, rows[1])
	assert.NotContains(t, buf.String(), "anon_tester")
}

func TestAnalyzer_ExportCSV_NeutralisesFormulas(t *testing.T) {
	src := &memSource{}
	s := entry(models.ModeSolo, models.CategoryWorkLate, "=HYPERLINK(\"http://x\",\"y\")")
	s.EventText = "+1 hour overtime"
	s.OriginalMeaning = "@SUM(A1)"
	src.add(s)
	plain := src.add(entry(models.ModeSolo, models.CategoryWorkLate, "a quiet office - finally"))

	var buf bytes.Buffer
	n, err := NewAnalyzer(src).ExportCSV(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "'+1 hour overtime", rows[1][4])
	assert.Equal(t, "'=HYPERLINK(\"http://x\",\"y\")", rows[1][5])
	assert.Equal(t, "'@SUM(A1)", rows[1][11])
	assert.Equal(t, plain.ID, rows[2][0])
	assert.Equal(t, "a quiet office - finally", rows[2][5])
}

func TestCSVText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"plain", "plain"},
		{"=1+1", "'=1+1"},
		{"-5", "'-5"},
		{"@cmd", "'@cmd"},
		{"\tindent", "'\tindent"},
		{"a=b", "a=b"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, csvText(tt.in))
		})
	}
}

func TestAnalyzer_WithStore(t *testing.T) {
	st, err := store.Open(store.BackendSQLite, filepath.Join(t.TempDir(), "analysis.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	for i, text := range []string{"first meaning", "second meaning", "first meaning"} {
		s := entry(models.ModeSolo, models.CategoryFriendInvite, text, models.TagConnection)
		s.ID = fmt.Sprintf("rec_%d_%04d", baseTime.UnixMilli(), i)
		s.Timestamp = baseTime.Add(time.Duration(i) * time.Second)
		require.NoError(t, st.Insert(ctx, s))
	}

	r, err := NewAnalyzer(st).Diversity(ctx, models.CategoryFriendInvite)
	require.NoError(t, err)
	assert.Equal(t, 3, r.TotalEntries)
	assert.Equal(t, []string{"first meaning", "second meaning", "first meaning"}, r.SampleMeanings)
	assert.Equal(t, 1.0, r.ConsensusRate)
	assert.Equal(t, 2, r.UniqueMeanings)
	assert.InDelta(t, 2.0/3.0, r.DiversityRate, 1e-9)
}

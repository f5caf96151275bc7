package analysis

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/kilupskalvis/kotoimi/internal/models"
	"github.com/kilupskalvis/kotoimi/internal/store"
)

const dailyStatsDays = 7

// CategoryCount is the number of submissions for one category.
type CategoryCount struct {
	EventTag string `json:"event_tag"`
	Count    int    `json:"count"`
}

// DailyCount is the number of consented submissions on one UTC date.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// BasicStats describes the collected dataset as a whole.
type BasicStats struct {
	TotalRecords     int             `json:"total_records"`
	ConsentedRecords int             `json:"consented_records"`
	ConsentRate      float64         `json:"consent_rate"`
	Modes            map[string]int  `json:"mode_distribution"`
	Events           []CategoryCount `json:"event_distribution"`
	Daily            []DailyCount    `json:"daily_counts"`
}

// ReactionTimeStats summarises reaction times in milliseconds.
type ReactionTimeStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    int64   `json:"min"`
	Max    int64   `json:"max"`
	StdDev float64 `json:"std_dev"`
}

// QualityStats counts quality flags among consented submissions.
type QualityStats struct {
	Total        int               `json:"total"`
	Spam         int               `json:"spam"`
	Duplicate    int               `json:"duplicate"`
	TooShort     int               `json:"too_short"`
	HighQuality  int               `json:"high_quality"`
	ReactionTime ReactionTimeStats `json:"reaction_time"`
}

// Stats combines both statistics blocks.
type Stats struct {
	Basic   *BasicStats   `json:"basic"`
	Quality *QualityStats `json:"quality"`
}

// Stats computes dataset and quality statistics.
func (a *Analyzer) Stats(ctx context.Context) (*Stats, error) {
	all, err := a.src.Query(ctx, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	return &Stats{Basic: basicStatsOf(all), Quality: qualityStatsOf(consented(all))}, nil
}

func consented(subs []*models.Submission) []*models.Submission {
	out := make([]*models.Submission, 0, len(subs))
	for _, s := range subs {
		if s.Consent {
			out = append(out, s)
		}
	}
	return out
}

func basicStatsOf(all []*models.Submission) *BasicStats {
	st := &BasicStats{
		TotalRecords: len(all),
		Modes:        map[string]int{string(models.ModeSolo): 0, string(models.ModeSocial): 0},
		Events:       []CategoryCount{},
		Daily:        []DailyCount{},
	}

	events := make(map[models.EventCategory]int)
	days := make(map[string]int)
	for _, s := range all {
		if !s.Consent {
			continue
		}
		st.ConsentedRecords++
		st.Modes[string(s.Mode)]++
		events[s.EventCategory]++
		days[s.Timestamp.UTC().Format(time.DateOnly)]++
	}
	if st.TotalRecords > 0 {
		st.ConsentRate = float64(st.ConsentedRecords) / float64(st.TotalRecords)
	}

	for c, n := range events {
		st.Events = append(st.Events, CategoryCount{EventTag: string(c), Count: n})
	}
	sort.Slice(st.Events, func(i, j int) bool {
		if st.Events[i].Count != st.Events[j].Count {
			return st.Events[i].Count > st.Events[j].Count
		}
		return st.Events[i].EventTag < st.Events[j].EventTag
	})

	for d, n := range days {
		st.Daily = append(st.Daily, DailyCount{Date: d, Count: n})
	}
	sort.Slice(st.Daily, func(i, j int) bool { return st.Daily[i].Date > st.Daily[j].Date })
	if len(st.Daily) > dailyStatsDays {
		st.Daily = st.Daily[:dailyStatsDays]
	}
	return st
}

func qualityStatsOf(subs []*models.Submission) *QualityStats {
	q := &QualityStats{Total: len(subs)}
	rts := make([]int64, 0, len(subs))
	for _, s := range subs {
		if s.QualityFlags.Has(models.FlagSpam) {
			q.Spam++
		}
		if s.QualityFlags.Has(models.FlagDuplicate) {
			q.Duplicate++
		}
		if s.QualityFlags.Has(models.FlagTooShort) {
			q.TooShort++
		}
		if s.IsHighQuality() {
			q.HighQuality++
		}
		rts = append(rts, s.ReactionTimeMs)
	}
	q.ReactionTime = reactionTimeStats(rts)
	return q
}

func reactionTimeStats(rts []int64) ReactionTimeStats {
	st := ReactionTimeStats{Count: len(rts)}
	if len(rts) == 0 {
		return st
	}
	sort.Slice(rts, func(i, j int) bool { return rts[i] < rts[j] })

	var sum float64
	for _, v := range rts {
		sum += float64(v)
	}
	st.Mean = sum / float64(len(rts))
	st.Min = rts[0]
	st.Max = rts[len(rts)-1]

	mid := len(rts) / 2
	if len(rts)%2 == 0 {
		st.Median = float64(rts[mid-1]+rts[mid]) / 2
	} else {
		st.Median = float64(rts[mid])
	}

	if len(rts) > 1 {
		var ss float64
		for _, v := range rts {
			d := float64(v) - st.Mean
			ss += d * d
		}
		st.StdDev = math.Sqrt(ss / float64(len(rts)-1))
	}
	return st
}

var exportHeader = []string{
	"record_id", "timestamp", "mode", "event_tag", "event_text",
	"meaning_text", "meaning_tag", "reaction_time_ms", "saw_alternatives",
	"changed_after_view", "quality_flags", "original_meaning", "revision_count",
}

// csvText neutralises participant text that a spreadsheet would evaluate
// as a formula by prefixing it with a single quote.
func csvText(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}

// ExportCSV writes every consented submission as CSV, oldest first.
// Author hashes are not exported. Returns the number of data rows.
func (a *Analyzer) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	subs, err := a.src.Query(ctx, store.Filter{ConsentedOnly: true})
	if err != nil {
		return 0, fmt.Errorf("query submissions: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	for _, s := range subs {
		row := []string{
			s.ID,
			s.Timestamp.UTC().Format(time.RFC3339Nano),
			string(s.Mode),
			string(s.EventCategory),
			csvText(s.EventText),
			csvText(s.MeaningText),
			models.JoinMeaningTags(s.MeaningTags),
			strconv.FormatInt(s.ReactionTimeMs, 10),
			strconv.FormatBool(s.SawAlternativeMeanings),
			strconv.FormatBool(s.ChangedAfterView),
			s.QualityFlags.String(),
			csvText(s.OriginalMeaning),
			strconv.Itoa(s.RevisionCount),
		}
		if err := cw.Write(row); err != nil {
			return 0, fmt.Errorf("write record %s: %w", s.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}
	return len(subs), nil
}

// Package models defines the core data structures used throughout kotoimi
// including submissions, the closed vocabularies, and quality flags.
package models

import "time"

// DefaultLocale is recorded when a submission does not carry a locale.
const DefaultLocale = "ja-JP"

// Submission is one recorded event/meaning pair.
// Only SawAlternativeMeanings changes after insertion.
type Submission struct {
	ID                     string        `json:"id"`
	AuthorHash             AuthorHash    `json:"user_id_hash"`
	Timestamp              time.Time     `json:"timestamp"`
	Consent                bool          `json:"consent"`
	Mode                   Mode          `json:"mode"`
	EventCategory          EventCategory `json:"event_tag"`
	EventText              string        `json:"event_text,omitempty"`
	MeaningText            string        `json:"meaning_text"`
	MeaningTags            []MeaningTag  `json:"meaning_tags"`
	ReactionTimeMs         int64         `json:"rt_ms"`
	SawAlternativeMeanings bool          `json:"saw_alt_meanings"`
	ChangedAfterView       bool          `json:"changed_after_view"`
	OriginalMeaning        string        `json:"original_meaning,omitempty"`
	RevisionCount          int           `json:"revision_count"`
	QualityFlags           QualityFlags  `json:"quality_flags"`
	Locale                 string        `json:"locale"`
}

// IsHighQuality reports whether no quality flag was raised at ingestion.
func (s *Submission) IsHighQuality() bool {
	return s.QualityFlags == 0
}

// Revised reports whether the author changed their meaning after seeing
// the peer distribution and the original text was kept.
func (s *Submission) Revised() bool {
	return s.ChangedAfterView && s.OriginalMeaning != ""
}

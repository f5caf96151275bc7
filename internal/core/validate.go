package core

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kilupskalvis/kotoimi/internal/models"
)

// Text limits enforced at the boundary.
const (
	MinMeaningLength = 5
	MaxTextLength    = 1000
	maxLocaleLength  = 35
)

var localePattern = regexp.MustCompile(`^[A-Za-z]{2,8}(-[A-Za-z0-9]{1,8})*$`)

// SubmitRequest is the wire form of a new submission. Pointer fields are
// required and distinguish "absent" from the zero value.
type SubmitRequest struct {
	UserIDHash       string `json:"user_id_hash"`
	Consent          *bool  `json:"consent"`
	Mode             string `json:"mode"`
	EventTag         string `json:"event_tag"`
	EventText        string `json:"event_text"`
	MeaningText      string `json:"meaning_text"`
	MeaningTag       string `json:"meaning_tag"`
	ReactionTimeMs   *int64 `json:"rt_ms"`
	SawAltMeanings   bool   `json:"saw_alt_meanings"`
	ChangedAfterView bool   `json:"changed_after_view"`
	OriginalMeaning  string `json:"original_meaning"`
	RevisionCount    int    `json:"revision_count"`
	Locale           string `json:"locale"`

	// QualityFlags is accepted from older clients and discarded.
	QualityFlags json.RawMessage `json:"quality_flags,omitempty"`
}

// Validate converts the request into a submission without ID, timestamp
// or quality flags. Every failure is a *ValidationError.
func (r *SubmitRequest) Validate() (*models.Submission, error) {
	if r.UserIDHash == "" {
		return nil, invalid("user_id_hash", "required")
	}
	author, err := models.ParseAuthorHash(r.UserIDHash)
	if err != nil {
		return nil, invalid("user_id_hash", "%v", err)
	}

	if r.Consent == nil {
		return nil, invalid("consent", "required")
	}

	if r.Mode == "" {
		return nil, invalid("mode", "required")
	}
	mode, err := models.ParseMode(r.Mode)
	if err != nil {
		return nil, invalid("mode", "%v", err)
	}

	if r.EventTag == "" {
		return nil, invalid("event_tag", "required")
	}
	category, err := models.ParseEventCategory(r.EventTag)
	if err != nil {
		return nil, invalid("event_tag", "%v", err)
	}

	meaning := strings.TrimSpace(r.MeaningText)
	if n := utf8.RuneCountInString(meaning); n < MinMeaningLength {
		return nil, invalid("meaning_text", "must be at least %d characters, got %d", MinMeaningLength, n)
	}
	if err := checkLength("meaning_text", meaning); err != nil {
		return nil, err
	}

	eventText := strings.TrimSpace(r.EventText)
	if err := checkLength("event_text", eventText); err != nil {
		return nil, err
	}

	tags, err := models.ParseMeaningTags(r.MeaningTag)
	if err != nil {
		return nil, invalid("meaning_tag", "%v", err)
	}

	if r.ReactionTimeMs == nil {
		return nil, invalid("rt_ms", "required")
	}
	if *r.ReactionTimeMs < 0 {
		return nil, invalid("rt_ms", "must be non-negative")
	}

	if r.RevisionCount < 0 {
		return nil, invalid("revision_count", "must be non-negative")
	}

	locale := r.Locale
	if locale == "" {
		locale = models.DefaultLocale
	}
	if len(locale) > maxLocaleLength || !localePattern.MatchString(locale) {
		return nil, invalid("locale", "malformed locale %q", r.Locale)
	}

	sub := &models.Submission{
		AuthorHash:             author,
		Consent:                *r.Consent,
		Mode:                   mode,
		EventCategory:          category,
		EventText:              eventText,
		MeaningText:            meaning,
		MeaningTags:            tags,
		ReactionTimeMs:         *r.ReactionTimeMs,
		SawAlternativeMeanings: r.SawAltMeanings,
		ChangedAfterView:       r.ChangedAfterView,
		Locale:                 locale,
	}

	// Revision details only exist when the meaning was changed.
	if r.ChangedAfterView {
		original := strings.TrimSpace(r.OriginalMeaning)
		if err := checkLength("original_meaning", original); err != nil {
			return nil, err
		}
		sub.OriginalMeaning = original
		sub.RevisionCount = r.RevisionCount
	}

	return sub, nil
}

func checkLength(field, s string) error {
	if utf8.RuneCountInString(s) > MaxTextLength {
		return invalid(field, "must be at most %d characters", MaxTextLength)
	}
	return nil
}

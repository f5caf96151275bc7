package models

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Mode is the submission flow a user went through.
type Mode string

const (
	ModeSolo   Mode = "solo"
	ModeSocial Mode = "social"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSolo, ModeSocial:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q (must be solo or social)", s)
}

// EventCategory names the situation type a meaning is attached to.
type EventCategory string

const (
	CategoryWorkLate          EventCategory = "work_late"
	CategoryWorkPraise        EventCategory = "work_praise"
	CategoryWorkMistake       EventCategory = "work_mistake"
	CategoryWeatherRain       EventCategory = "weather_rain"
	CategoryWeatherSunny      EventCategory = "weather_sunny"
	CategoryTrainDelay        EventCategory = "train_delay"
	CategoryMessageUnanswered EventCategory = "message_unanswered"
	CategoryFriendInvite      EventCategory = "friend_invite"
	CategoryFamilyArgument    EventCategory = "family_argument"
	CategoryHealthTired       EventCategory = "health_tired"
	CategoryStudyExam         EventCategory = "study_exam"
	CategoryMoneyUnexpected   EventCategory = "money_unexpected"
)

var eventCategories = map[EventCategory]struct{}{
	CategoryWorkLate:          {},
	CategoryWorkPraise:        {},
	CategoryWorkMistake:       {},
	CategoryWeatherRain:       {},
	CategoryWeatherSunny:      {},
	CategoryTrainDelay:        {},
	CategoryMessageUnanswered: {},
	CategoryFriendInvite:      {},
	CategoryFamilyArgument:    {},
	CategoryHealthTired:       {},
	CategoryStudyExam:         {},
	CategoryMoneyUnexpected:   {},
}

// ParseEventCategory validates a category against the closed vocabulary.
func ParseEventCategory(s string) (EventCategory, error) {
	c := EventCategory(s)
	if _, ok := eventCategories[c]; !ok {
		return "", fmt.Errorf("unknown event category %q", s)
	}
	return c, nil
}

// EventCategories returns the vocabulary sorted by name.
func EventCategories() []EventCategory {
	out := make([]EventCategory, 0, len(eventCategories))
	for c := range eventCategories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MeaningTag is a coarse label for a meaning.
type MeaningTag string

const (
	TagGrowth      MeaningTag = "growth"
	TagLearning    MeaningTag = "learning"
	TagBadLuck     MeaningTag = "bad_luck"
	TagSelfBlame   MeaningTag = "self_blame"
	TagOthersFault MeaningTag = "others_fault"
	TagOpportunity MeaningTag = "opportunity"
	TagRest        MeaningTag = "rest"
	TagConnection  MeaningTag = "connection"
	TagAnxiety     MeaningTag = "anxiety"
	TagGratitude   MeaningTag = "gratitude"
	TagNeutral     MeaningTag = "neutral"
	TagOther       MeaningTag = "other"
)

var meaningTags = map[MeaningTag]struct{}{
	TagGrowth:      {},
	TagLearning:    {},
	TagBadLuck:     {},
	TagSelfBlame:   {},
	TagOthersFault: {},
	TagOpportunity: {},
	TagRest:        {},
	TagConnection:  {},
	TagAnxiety:     {},
	TagGratitude:   {},
	TagNeutral:     {},
	TagOther:       {},
}

// ParseMeaningTags splits a comma-separated tag field. Pieces are trimmed,
// empty pieces are skipped and repeated tags collapse to one.
func ParseMeaningTags(s string) ([]MeaningTag, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var tags []MeaningTag
	seen := make(map[MeaningTag]bool)
	for _, piece := range strings.Split(s, ",") {
		t := MeaningTag(strings.TrimSpace(piece))
		if t == "" {
			continue
		}
		if _, ok := meaningTags[t]; !ok {
			return nil, fmt.Errorf("unknown meaning tag %q", t)
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	return tags, nil
}

// JoinMeaningTags renders tags in the comma-separated storage form.
func JoinMeaningTags(tags []MeaningTag) string {
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

// AuthorHash is the anonymous, client-generated author token.
type AuthorHash string

var authorHashPattern = regexp.MustCompile(`^anon_[A-Za-z0-9_-]{1,64}$`)

// ParseAuthorHash validates the anonymous token format.
func ParseAuthorHash(s string) (AuthorHash, error) {
	if !authorHashPattern.MatchString(s) {
		return "", fmt.Errorf("malformed author hash %q", s)
	}
	return AuthorHash(s), nil
}

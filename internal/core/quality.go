package core

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kilupskalvis/kotoimi/internal/models"
)

// Quality thresholds. TooShortLength is stricter than MinMeaningLength:
// texts in between are accepted but flagged.
const (
	SpamReactionTimeMs = 500
	TooShortLength     = 10
	DuplicateWindow    = 24 * time.Hour
)

// DuplicateLookup finds earlier submissions with identical content.
// store.Store satisfies it.
type DuplicateLookup interface {
	HasDuplicate(ctx context.Context, author models.AuthorHash, category models.EventCategory, meaningText string, since time.Time) (bool, error)
}

// Classify computes the quality flags for a submission whose Timestamp is
// already set. Duplicate detection is exact-text only within the trailing
// DuplicateWindow.
func Classify(ctx context.Context, sub *models.Submission, lookup DuplicateLookup) (models.QualityFlags, error) {
	var flags models.QualityFlags

	dup, err := lookup.HasDuplicate(ctx, sub.AuthorHash, sub.EventCategory, sub.MeaningText, sub.Timestamp.Add(-DuplicateWindow))
	if err != nil {
		return 0, fmt.Errorf("classify: %w", err)
	}
	if dup {
		flags |= models.FlagDuplicate
	}

	if sub.ReactionTimeMs < SpamReactionTimeMs {
		flags |= models.FlagSpam
	}

	if utf8.RuneCountInString(strings.TrimSpace(sub.MeaningText)) < TooShortLength {
		flags |= models.FlagTooShort
	}

	return flags, nil
}

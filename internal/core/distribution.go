package core

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/kilupskalvis/kotoimi/internal/models"
	"github.com/kilupskalvis/kotoimi/internal/store"
)

const maxDistributionSamples = 3

// Distribution is the peer view shown to social-mode users.
type Distribution struct {
	Distribution map[models.MeaningTag]int `json:"distribution"`
	Samples      []string                  `json:"samples"`
	TotalCount   int                       `json:"total_count"`
}

// FetchDistribution aggregates tag counts and sample meanings for a
// category. Tag counts are non-exclusive and untagged submissions count
// as "other". Samples are distinct texts in random order.
func (s *Service) FetchDistribution(ctx context.Context, category string) (*Distribution, error) {
	if category == "" {
		return nil, missing("event_tag")
	}
	c, err := models.ParseEventCategory(category)
	if err != nil {
		return nil, invalid("event_tag", "%v", err)
	}

	f := store.Research()
	f.Category = c
	subs, err := s.store.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query distribution: %w", err)
	}

	d := &Distribution{
		Distribution: make(map[models.MeaningTag]int),
		Samples:      []string{},
		TotalCount:   len(subs),
	}

	var texts []string
	seen := make(map[string]bool)
	for _, sub := range subs {
		if len(sub.MeaningTags) == 0 {
			d.Distribution[models.TagOther]++
		}
		for _, t := range sub.MeaningTags {
			d.Distribution[t]++
		}
		if !seen[sub.MeaningText] {
			seen[sub.MeaningText] = true
			texts = append(texts, sub.MeaningText)
		}
	}

	for _, i := range rand.Perm(len(texts)) {
		if len(d.Samples) == maxDistributionSamples {
			break
		}
		d.Samples = append(d.Samples, texts[i])
	}
	return d, nil
}

package analysis

import (
	"math"
	"strings"

	"github.com/kilupskalvis/kotoimi/internal/models"
)

// Entropy returns the Shannon entropy in bits of the value frequencies.
// An empty input has entropy 0.
func Entropy[T comparable](values []T) float64 {
	if len(values) == 0 {
		return 0
	}
	counts := make(map[T]int)
	for _, v := range values {
		counts[v]++
	}

	total := float64(len(values))
	var h float64
	for _, c := range counts {
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	// -0 reads badly in JSON
	if h == 0 {
		return 0
	}
	return h
}

// TextEntropy is the entropy over exact meaning texts.
func TextEntropy(subs []*models.Submission) float64 {
	return Entropy(meaningTexts(subs))
}

// TagEntropy is the entropy over the flattened tag list. Untagged
// submissions contribute nothing.
func TagEntropy(subs []*models.Submission) float64 {
	var tags []models.MeaningTag
	for _, s := range subs {
		tags = append(tags, s.MeaningTags...)
	}
	return Entropy(tags)
}

// ConsensusRate is the count of the most common tag divided by the number
// of submissions, untagged ones included. It is 0 when no tag occurs.
func ConsensusRate(subs []*models.Submission) float64 {
	if len(subs) == 0 {
		return 0
	}
	counts := make(map[models.MeaningTag]int)
	best := 0
	for _, s := range subs {
		for _, t := range s.MeaningTags {
			counts[t]++
			if counts[t] > best {
				best = counts[t]
			}
		}
	}
	return float64(best) / float64(len(subs))
}

// UniqueCount returns the number of distinct values.
func UniqueCount[T comparable](values []T) int {
	seen := make(map[T]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}

// DiversityRate is the share of distinct values. An empty input yields 0.
func DiversityRate[T comparable](values []T) float64 {
	if len(values) == 0 {
		return 0
	}
	return float64(UniqueCount(values)) / float64(len(values))
}

// NormalizedEditDistance is the Levenshtein distance between the
// lowercased texts divided by the longer rune length. Two empty strings
// have distance 0.
func NormalizedEditDistance(a, b string) float64 {
	ra := []rune(strings.ToLower(a))
	rb := []rune(strings.ToLower(b))
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 0
	}
	return float64(levenshtein(ra, rb)) / float64(longest)
}

// LexicalDistanceAvg is the mean NormalizedEditDistance over all unordered
// pairs of texts. It measures surface dissimilarity only and carries no
// semantic information. Fewer than two texts yield 0.
func LexicalDistanceAvg(texts []string) float64 {
	if len(texts) < 2 {
		return 0
	}
	var sum float64
	pairs := 0
	for i := 0; i < len(texts); i++ {
		for j := i + 1; j < len(texts); j++ {
			sum += NormalizedEditDistance(texts[i], texts[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

// levenshtein uses a single rolling row.
func levenshtein(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}
	for i := 1; i <= len(a); i++ {
		prev := row[0]
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur := min(row[j]+1, row[j-1]+1, prev+cost)
			prev = row[j]
			row[j] = cur
		}
	}
	return row[len(b)]
}

func meaningTexts(subs []*models.Submission) []string {
	texts := make([]string, len(subs))
	for i, s := range subs {
		texts[i] = s.MeaningText
	}
	return texts
}

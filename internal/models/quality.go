package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// QualityFlags is the set of quality markers raised at ingestion.
// It is stored as a bitmask so SQL filters can test it directly.
type QualityFlags uint8

const (
	FlagSpam QualityFlags = 1 << iota
	FlagDuplicate
	FlagTooShort
)

// AggregationBlocking is the subset of flags that removes a submission
// from distributions and analyses. too_short is informational only.
const AggregationBlocking = FlagSpam | FlagDuplicate

var flagNames = []struct {
	flag QualityFlags
	name string
}{
	{FlagSpam, "spam"},
	{FlagDuplicate, "duplicate"},
	{FlagTooShort, "too_short"},
}

// Has reports whether every flag in f is set.
func (q QualityFlags) Has(f QualityFlags) bool {
	return q&f == f
}

// Any reports whether at least one flag in f is set.
func (q QualityFlags) Any(f QualityFlags) bool {
	return q&f != 0
}

// Names returns the flag names in a fixed order.
func (q QualityFlags) Names() []string {
	names := []string{}
	for _, fn := range flagNames {
		if q.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return names
}

func (q QualityFlags) String() string {
	return strings.Join(q.Names(), ",")
}

// ParseQualityFlag returns the flag for a name.
func ParseQualityFlag(name string) (QualityFlags, error) {
	for _, fn := range flagNames {
		if fn.name == name {
			return fn.flag, nil
		}
	}
	return 0, fmt.Errorf("unknown quality flag %q", name)
}

// MarshalJSON encodes the set as an array of names.
func (q QualityFlags) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.Names())
}

// UnmarshalJSON decodes an array of names.
func (q *QualityFlags) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("quality flags: %w", err)
	}
	var out QualityFlags
	for _, n := range names {
		f, err := ParseQualityFlag(n)
		if err != nil {
			return err
		}
		out |= f
	}
	*q = out
	return nil
}

// Package engine implements the trade lifecycle and risk-management core:
// plan creation and approval, risk gating, position tracking and exits,
// averaging-in, partial exits, conditional orders, and protective locks.
package engine

import (
	"fmt"
	"sort"
	"strconv"
)

// Schedule maps minimum trade age in minutes to the minimum return percent
// required to exit on schedule.
type Schedule struct {
	keys []int
	vals map[int]float64
}

// NewSchedule builds a schedule from a config table keyed by minute strings.
func NewSchedule(table map[string]float64) (*Schedule, error) {
	s := &Schedule{vals: make(map[int]float64, len(table))}

	for k, v := range table {
		minutes, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("invalid roi key %q: %w", k, err)
		}
		if minutes < 0 {
			return nil, fmt.Errorf("invalid roi key %q: must be non-negative", k)
		}
		s.keys = append(s.keys, minutes)
		s.vals[minutes] = v
	}

	sort.Ints(s.keys)
	return s, nil
}

// Threshold returns the required return for the largest key not exceeding
// the given age. The second result is false when the age is younger than
// every key.
func (s *Schedule) Threshold(ageMinutes int) (float64, bool) {
	var (
		threshold float64
		found     bool
	)
	for _, k := range s.keys {
		if k > ageMinutes {
			break
		}
		threshold = s.vals[k]
		found = true
	}
	return threshold, found
}

// ShouldExit reports whether a position of the given age has met its
// scheduled return. The boundary is inclusive.
func (s *Schedule) ShouldExit(ageMinutes int, currentReturnPct float64) bool {
	threshold, ok := s.Threshold(ageMinutes)
	if !ok {
		return false
	}
	return currentReturnPct >= threshold
}

// Empty reports whether the schedule has no entries.
func (s *Schedule) Empty() bool {
	return len(s.keys) == 0
}

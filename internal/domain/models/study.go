package models

import (
	"encoding/json"
	"time"
)

// StudyVersion is bumped on incompatible changes to the stored layout.
const StudyVersion = 1

// DefaultStudyName is reported when an optimization runs unnamed.
const DefaultStudyName = "unnamed_study"

// Study is the persisted state of a named optimization.
type Study struct {
	Version        int             `json:"version"`
	Name           string          `json:"name"`
	Objective      Objective       `json:"objective"`
	Sampler        string          `json:"sampler"`
	Pruner         string          `json:"pruner"`
	Seed           int64           `json:"seed"`
	Strategy       json.RawMessage `json:"strategy"`
	SearchSpace    SearchSpace     `json:"search_space"`
	BacktestConfig json.RawMessage `json:"backtest_config"`
	Trials         []Trial         `json:"trials"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Best returns the best trial among all recorded trials, complete or pruned,
// and false when nothing has been recorded. Ties keep the earlier trial.
func (s *Study) Best() (Trial, bool) {
	var best Trial
	found := false
	for _, t := range s.Trials {
		if !found || s.Objective.Better(t.Value, best.Value) {
			best = t
			found = true
		}
	}
	return best, found
}

// Counts returns complete and pruned trial counts.
func (s *Study) Counts() (complete, pruned int) {
	for _, t := range s.Trials {
		switch t.State {
		case TrialComplete:
			complete++
		case TrialPruned:
			pruned++
		}
	}
	return complete, pruned
}

// NextTrialNumber is the number the next trial gets.
func (s *Study) NextTrialNumber() int {
	n := 0
	for _, t := range s.Trials {
		if t.Number >= n {
			n = t.Number + 1
		}
	}
	return n
}

package ir

import (
	"time"
)

// Outcome is the result of ensuring a single resource.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeFailed    Outcome = "failed"
)

// Result records what happened to one resource during a run.
type Result struct {
	Address  string        `json:"address"`
	Kind     Kind          `json:"kind"`
	Outcome  Outcome       `json:"outcome"`
	ID       string        `json:"id,omitempty"` // ARN, UUID or API id of the remote resource
	Detail   string        `json:"detail,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Summary counts results per outcome.
type Summary struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// Add counts one outcome.
func (s *Summary) Add(o Outcome) {
	switch o {
	case OutcomeCreated:
		s.Created++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeUnchanged:
		s.Unchanged++
	case OutcomeFailed:
		s.Failed++
	}
}

// Mutations is the number of results that changed remote state.
func (s Summary) Mutations() int {
	return s.Created + s.Updated
}

// Report is the record of one reconciliation run.
type Report struct {
	RunID      string            `json:"runId"`
	Command    string            `json:"command"`
	Preview    bool              `json:"preview"`
	Region     string            `json:"region"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	Results    []*Result         `json:"results"`
	Summary    Summary           `json:"summary"`
	Outputs    map[string]string `json:"outputs,omitempty"`
}

// Record appends a result and updates the summary.
func (r *Report) Record(res *Result) {
	if res.Err != nil && res.Error == "" {
		res.Error = res.Err.Error()
	}
	r.Results = append(r.Results, res)
	r.Summary.Add(res.Outcome)
}

// SetOutput stores a named run output such as a function ARN or the invoke URL.
func (r *Report) SetOutput(key, value string) {
	if r.Outputs == nil {
		r.Outputs = make(map[string]string)
	}
	r.Outputs[key] = value
}

// Count returns how many results of kind ended with outcome.
func (r *Report) Count(kind Kind, outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Kind == kind && res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Failures returns the failed results in run order.
func (r *Report) Failures() []*Result {
	var failed []*Result
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			failed = append(failed, res)
		}
	}
	return failed
}

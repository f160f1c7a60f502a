package jobs

import "time"

// ItemResult is the outcome of one unit of work inside a step, such as one
// scene's image.
type ItemResult struct {
	Key     string `json:"key"`
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StepReport collects per-item outcomes. Item failures never fail a step;
// they are recorded here and logged.
type StepReport struct {
	Step       Step         `json:"step"`
	Items      []ItemResult `json:"items"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt,omitempty"`
}

func newStepReport(step Step, now time.Time) *StepReport {
	return &StepReport{Step: step, StartedAt: now}
}

func (r *StepReport) ok(key string) {
	r.Items = append(r.Items, ItemResult{Key: key, OK: true})
}

func (r *StepReport) skip(key string) {
	r.Items = append(r.Items, ItemResult{Key: key, OK: true, Skipped: true})
}

func (r *StepReport) fail(key string, err error) {
	r.Items = append(r.Items, ItemResult{Key: key, Error: err.Error()})
}

// Failed returns the items that did not succeed.
func (r *StepReport) Failed() []ItemResult {
	var out []ItemResult
	for _, it := range r.Items {
		if !it.OK {
			out = append(out, it)
		}
	}
	return out
}

// Counts returns succeeded, skipped and failed item totals.
func (r *StepReport) Counts() (ok, skipped, failed int) {
	for _, it := range r.Items {
		switch {
		case !it.OK:
			failed++
		case it.Skipped:
			skipped++
		default:
			ok++
		}
	}
	return ok, skipped, failed
}

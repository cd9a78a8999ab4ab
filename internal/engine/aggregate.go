package engine

import (
	"time"

	"github.com/sells-group/mops-cli/internal/model"
)

// ReasonNotAttempted marks quarters that never started.
const ReasonNotAttempted = "not attempted"

// Aggregator builds the SessionResult from per-quarter outcomes. It is the
// single writer of the result.
type Aggregator struct {
	res  *model.SessionResult
	seen map[int]bool
}

// NewAggregator starts a result for the requested quarters.
func NewAggregator(sessionID string, req Request, strict bool, ruleVersion string, started time.Time) *Aggregator {
	return &Aggregator{
		res: &model.SessionResult{
			SessionID:          sessionID,
			CompanyID:          req.CompanyID,
			Year:               req.Year,
			ROCYear:            ROCYear(req.Year),
			StrictMode:         strict,
			RuleVersion:        ruleVersion,
			RequestedQuarters:  append([]int(nil), req.Quarters...),
			DownloadedQuarters: []int{},
			MissingQuarters:    []model.MissingQuarter{},
			Outcomes:           []model.DownloadOutcome{},
			FilePaths:          []string{},
			StartedAt:          started,
		},
		seen: make(map[int]bool),
	}
}

// Add records one quarter's outcome. A second outcome for the same quarter
// is ignored.
func (a *Aggregator) Add(o model.DownloadOutcome) {
	if a.seen[o.Quarter] {
		return
	}
	a.seen[o.Quarter] = true
	a.res.Outcomes = append(a.res.Outcomes, o)

	if o.Success {
		a.res.DownloadedQuarters = append(a.res.DownloadedQuarters, o.Quarter)
		a.res.FilePaths = append(a.res.FilePaths, o.FilePath)
		a.res.TotalBytes += o.Bytes
		return
	}
	a.res.MissingQuarters = append(a.res.MissingQuarters, model.MissingQuarter{
		Quarter: o.Quarter,
		State:   o.State,
		Kind:    o.ErrorKind,
		Reason:  o.Reason,
	})
}

// Finalize fills in any requested quarter that has no outcome, sets the
// success flag and returns the result.
func (a *Aggregator) Finalize(finished time.Time) *model.SessionResult {
	for _, q := range a.res.RequestedQuarters {
		if !a.seen[q] {
			a.Add(model.DownloadOutcome{Quarter: q, State: model.JobPending, Reason: ReasonNotAttempted})
		}
	}
	a.res.FinishedAt = finished
	a.res.Success = len(a.res.RequestedQuarters) > 0 &&
		len(a.res.DownloadedQuarters) == len(a.res.RequestedQuarters)
	return a.res
}

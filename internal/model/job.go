package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// JobState is a position in the per-quarter state machine.
type JobState string

const (
	JobPending        JobState = "PENDING"
	JobListingFetched JobState = "LISTING_FETCHED"
	JobMatched        JobState = "CLASSIFIED_MATCHED"
	JobUnmatched      JobState = "CLASSIFIED_UNMATCHED"
	JobResolving      JobState = "RESOLVING"
	JobResolved       JobState = "RESOLVED"
	JobDownloading    JobState = "DOWNLOADING"
	JobValidated      JobState = "VALIDATED"
	JobComplete       JobState = "COMPLETE"
	JobFailed         JobState = "FAILED"
	JobSkipped        JobState = "SKIPPED"
)

// Terminal reports whether no further transition is allowed.
func (s JobState) Terminal() bool {
	return s == JobComplete || s == JobFailed || s == JobSkipped
}

// transitions lists the forward edges of the state machine. FAILED is
// reachable from every non-terminal state and is handled separately.
// PENDING -> COMPLETE covers quarters satisfied by an existing local file.
var transitions = map[JobState][]JobState{
	JobPending:        {JobListingFetched, JobComplete},
	JobListingFetched: {JobMatched, JobUnmatched},
	JobMatched:        {JobResolving},
	JobUnmatched:      {JobSkipped},
	JobResolving:      {JobResolved},
	JobResolved:       {JobDownloading},
	JobDownloading:    {JobValidated},
	JobValidated:      {JobComplete},
}

// QuarterJob is the unit of work for one requested quarter.
type QuarterJob struct {
	CompanyID string
	Year      int
	Quarter   int
	State     JobState
	History   []JobState
	StartedAt time.Time
}

// NewQuarterJob creates a job in the PENDING state.
func NewQuarterJob(companyID string, year, quarter int) *QuarterJob {
	return &QuarterJob{
		CompanyID: companyID,
		Year:      year,
		Quarter:   quarter,
		State:     JobPending,
		History:   []JobState{JobPending},
		StartedAt: time.Now().UTC(),
	}
}

// Advance moves the job to the next state. Revisiting a state or skipping
// outside the defined edges is rejected.
func (j *QuarterJob) Advance(to JobState) error {
	if j.State.Terminal() {
		return eris.Errorf("job: Q%d already terminal in %s", j.Quarter, j.State)
	}
	if to == JobFailed {
		j.set(to)
		return nil
	}
	for _, next := range transitions[j.State] {
		if next == to {
			j.set(to)
			return nil
		}
	}
	return eris.Errorf("job: Q%d invalid transition %s -> %s", j.Quarter, j.State, to)
}

func (j *QuarterJob) set(to JobState) {
	j.State = to
	j.History = append(j.History, to)
}

// Package model defines the records that flow through a download session:
// listing candidates, their classification, resolved document locations,
// per-quarter jobs and outcomes, and the aggregated session result.
package model

import "fmt"

// Tier ranks how desirable a classified report variant is.
type Tier string

const (
	TierPrimary   Tier = "PRIMARY"
	TierSecondary Tier = "SECONDARY"
	TierRejected  Tier = "REJECTED"
)

// Rank orders tiers so that a larger value is preferred.
func (t Tier) Rank() int {
	switch t {
	case TierPrimary:
		return 2
	case TierSecondary:
		return 1
	default:
		return 0
	}
}

// ReportCandidate is one report row discovered on a quarter's listing page.
type ReportCandidate struct {
	Description  string   `json:"description"`
	FilenameHint string   `json:"filename_hint"`
	Quarter      int      `json:"quarter"`
	RawLinkHints []string `json:"raw_link_hints,omitempty"`
}

func (c ReportCandidate) String() string {
	return fmt.Sprintf("Q%d %q -> %s", c.Quarter, c.Description, c.FilenameHint)
}

// ClassificationResult is the classifier's decision for one candidate.
type ClassificationResult struct {
	Candidate ReportCandidate `json:"candidate"`
	Matched   bool            `json:"matched"`
	Tier      Tier            `json:"tier"`
	Reason    string          `json:"reason"`
}

// ResolvedDocument is a matched candidate with a concrete download location.
type ResolvedDocument struct {
	Candidate          ReportCandidate `json:"candidate"`
	Tier               Tier            `json:"tier"`
	DetailURL          string          `json:"detail_url"`
	AbsoluteURL        string          `json:"absolute_url"`
	ResolutionStrategy string          `json:"resolution_strategy"`
}

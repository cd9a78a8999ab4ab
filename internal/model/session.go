package model

import "time"

// DownloadOutcome records how one quarter ended.
type DownloadOutcome struct {
	Quarter      int       `json:"quarter"`
	Success      bool      `json:"success"`
	State        JobState  `json:"state"`
	FilePath     string    `json:"file_path,omitempty"`
	Bytes        int64     `json:"bytes,omitempty"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	RetryCount   int       `json:"retry_count"`
	Tier         Tier      `json:"tier,omitempty"`
	SourceURL    string    `json:"source_url,omitempty"`
	Strategy     string    `json:"strategy,omitempty"`
	Reused       bool      `json:"reused,omitempty"`
	DownloadedAt time.Time `json:"downloaded_at,omitzero"`
}

// MissingQuarter explains why a requested quarter has no file.
type MissingQuarter struct {
	Quarter int       `json:"quarter"`
	State   JobState  `json:"state"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Reason  string    `json:"reason"`
}

// SessionResult is the aggregate of every quarter requested for one
// company and year.
type SessionResult struct {
	SessionID          string            `json:"session_id"`
	CompanyID          string            `json:"company_id"`
	Year               int               `json:"year"`
	ROCYear            int               `json:"roc_year"`
	StrictMode         bool              `json:"strict_mode"`
	RuleVersion        string            `json:"rule_version"`
	RequestedQuarters  []int             `json:"requested_quarters"`
	DownloadedQuarters []int             `json:"downloaded_quarters"`
	MissingQuarters    []MissingQuarter  `json:"missing_quarters"`
	Outcomes           []DownloadOutcome `json:"outcomes"`
	FilePaths          []string          `json:"file_paths"`
	TotalBytes         int64             `json:"total_bytes"`
	Success            bool              `json:"success"`
	StartedAt          time.Time         `json:"started_at"`
	FinishedAt         time.Time         `json:"finished_at"`
}

// MissingNumbers returns the quarter numbers of MissingQuarters.
func (r *SessionResult) MissingNumbers() []int {
	out := make([]int, 0, len(r.MissingQuarters))
	for _, m := range r.MissingQuarters {
		out = append(out, m.Quarter)
	}
	return out
}

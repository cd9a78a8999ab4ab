package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mops-cli/internal/model"
)

// SidecarName is the per-company metadata file.
const SidecarName = "metadata.json"

// Metadata is the content of a company's sidecar.
type Metadata struct {
	CompanyID   string                   `json:"company_id"`
	LastUpdated time.Time                `json:"last_updated"`
	Downloads   map[string]SessionRecord `json:"downloads"`
}

// SessionRecord is one session's entry in the sidecar.
type SessionRecord struct {
	SessionID   string          `json:"session_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Year        int             `json:"year"`
	StrictMode  bool            `json:"strict_mode"`
	RuleVersion string          `json:"rule_version"`
	Success     bool            `json:"success"`
	Files       []FileRecord    `json:"files"`
	Missing     []MissingRecord `json:"missing"`
}

// FileRecord describes one stored report.
type FileRecord struct {
	Quarter      int        `json:"quarter"`
	Path         string     `json:"path"`
	SourceURL    string     `json:"source_url,omitempty"`
	Tier         model.Tier `json:"tier,omitempty"`
	Strategy     string     `json:"strategy,omitempty"`
	Bytes        int64      `json:"bytes"`
	RetryCount   int        `json:"retry_count"`
	DownloadedAt time.Time  `json:"downloaded_at,omitzero"`
	Reused       bool       `json:"reused,omitempty"`
}

// MissingRecord describes one quarter without a file.
type MissingRecord struct {
	Quarter int             `json:"quarter"`
	Kind    model.ErrorKind `json:"kind,omitempty"`
	Reason  string          `json:"reason"`
}

// SidecarPath returns the sidecar location for a company.
func (l Layout) SidecarPath(companyID string) string {
	return filepath.Join(l.CompanyDir(companyID), SidecarName)
}

// ReadSidecar loads a company's sidecar. A missing file yields empty metadata.
func (l Layout) ReadSidecar(companyID string) (*Metadata, error) {
	data, err := os.ReadFile(l.SidecarPath(companyID))
	if os.IsNotExist(err) {
		return &Metadata{CompanyID: companyID, Downloads: map[string]SessionRecord{}}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "storage: read sidecar for %s", companyID)
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, eris.Wrapf(err, "storage: decode sidecar for %s", companyID)
	}
	if md.Downloads == nil {
		md.Downloads = map[string]SessionRecord{}
	}
	return &md, nil
}

// WriteSidecar merges the session into the company's sidecar. Unreadable
// existing content is replaced.
func (l Layout) WriteSidecar(res *model.SessionResult) (string, error) {
	path := l.SidecarPath(res.CompanyID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", eris.Wrapf(err, "storage: create %s", filepath.Dir(path))
	}

	md, err := l.ReadSidecar(res.CompanyID)
	if err != nil {
		zap.L().Warn("replacing unreadable sidecar", zap.String("path", path), zap.Error(err))
		md = &Metadata{Downloads: map[string]SessionRecord{}}
	}

	ts := res.FinishedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	key := fmt.Sprintf("%d_%s", res.Year, ts.Format("20060102_150405"))
	for i := 2; ; i++ {
		if _, taken := md.Downloads[key]; !taken {
			break
		}
		key = fmt.Sprintf("%d_%s_%d", res.Year, ts.Format("20060102_150405"), i)
	}

	md.CompanyID = res.CompanyID
	md.LastUpdated = ts
	md.Downloads[key] = recordOf(res, ts)

	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "storage: encode sidecar")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "storage: write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", eris.Wrapf(err, "storage: replace %s", path)
	}
	return key, nil
}

func recordOf(res *model.SessionResult, ts time.Time) SessionRecord {
	rec := SessionRecord{
		SessionID:   res.SessionID,
		Timestamp:   ts,
		Year:        res.Year,
		StrictMode:  res.StrictMode,
		RuleVersion: res.RuleVersion,
		Success:     res.Success,
		Files:       []FileRecord{},
		Missing:     []MissingRecord{},
	}
	for _, o := range res.Outcomes {
		if !o.Success {
			continue
		}
		rec.Files = append(rec.Files, FileRecord{
			Quarter:      o.Quarter,
			Path:         o.FilePath,
			SourceURL:    o.SourceURL,
			Tier:         o.Tier,
			Strategy:     o.Strategy,
			Bytes:        o.Bytes,
			RetryCount:   o.RetryCount,
			DownloadedAt: o.DownloadedAt,
			Reused:       o.Reused,
		})
	}
	for _, m := range res.MissingQuarters {
		rec.Missing = append(rec.Missing, MissingRecord{Quarter: m.Quarter, Kind: m.Kind, Reason: m.Reason})
	}
	return rec
}

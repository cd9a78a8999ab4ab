// Package storage is the filesystem side of a session: report file naming,
// existing-file lookup and the per-company metadata sidecar.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// UnknownType is used when a filename hint carries no report type code.
const UnknownType = "UNKNOWN"

var (
	typeRe     = regexp.MustCompile(`_([A-Z0-9]+)\.pdf$`)
	fileNameRe = regexp.MustCompile(`^(\d{4})(\d{2})_([0-9A-Za-z]+)_([A-Z0-9]+)\.pdf$`)
	companyRe  = regexp.MustCompile(`^[0-9A-Za-z]+$`)
	typeCodeRe = regexp.MustCompile(`^[A-Z0-9]+$`)
)

// FileKey identifies one stored report.
type FileKey struct {
	Year      int
	Quarter   int
	CompanyID string
	Type      string
}

// Validate rejects keys ParseFileName could not recover exactly.
func (k FileKey) Validate() error {
	switch {
	case k.Year < 1000 || k.Year > 9999:
		return eris.Errorf("storage: year %d is not four digits", k.Year)
	case k.Quarter < 1 || k.Quarter > 4:
		return eris.Errorf("storage: quarter %d out of range", k.Quarter)
	case !companyRe.MatchString(k.CompanyID):
		return eris.Errorf("storage: company id %q is not alphanumeric", k.CompanyID)
	case !typeCodeRe.MatchString(k.Type):
		return eris.Errorf("storage: report type %q must be upper-case letters and digits", k.Type)
	}
	return nil
}

// FileName renders the key as {year}{quarter:02}_{company}_{type}.pdf.
func (k FileKey) FileName() (string, error) {
	if err := k.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d%02d_%s_%s.pdf", k.Year, k.Quarter, k.CompanyID, k.Type), nil
}

// RelPath is the key's path relative to the download root.
func (k FileKey) RelPath() (string, error) {
	name, err := k.FileName()
	if err != nil {
		return "", err
	}
	return filepath.Join(k.CompanyID, name), nil
}

// ReportType extracts the trailing type code from a portal filename, e.g.
// "A12" from "202401_2330_A12.pdf".
func ReportType(filenameHint string) string {
	if m := typeRe.FindStringSubmatch(filenameHint); m != nil {
		return m[1]
	}
	return UnknownType
}

// ParseFileName recovers the key from a name produced by FileName. Any
// directory part is ignored.
func ParseFileName(name string) (FileKey, error) {
	m := fileNameRe.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return FileKey{}, eris.Errorf("storage: %q is not a report file name", name)
	}
	year, _ := strconv.Atoi(m[1])
	q, _ := strconv.Atoi(m[2])
	if q < 1 || q > 4 {
		return FileKey{}, eris.Errorf("storage: %q has quarter %d", name, q)
	}
	return FileKey{Year: year, Quarter: q, CompanyID: m[3], Type: m[4]}, nil
}

// Layout places report files under Root.
type Layout struct {
	Root string
}

// Path is the absolute-or-root-relative location of key.
func (l Layout) Path(k FileKey) (string, error) {
	rel, err := k.RelPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(l.Root, rel), nil
}

// CompanyDir is the directory holding one company's files.
func (l Layout) CompanyDir(companyID string) string {
	return filepath.Join(l.Root, companyID)
}

// FindExisting returns the largest report file already stored for the
// quarter if it is at least minBytes.
func (l Layout) FindExisting(companyID string, year, quarter int, minBytes int64) (string, int64, bool) {
	pattern := filepath.Join(l.CompanyDir(companyID), fmt.Sprintf("%d%02d_%s_*.pdf", year, quarter, companyID))
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return "", 0, false
	}
	sort.Strings(matches)

	var best string
	var size int64
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Size() > size {
			best, size = m, info.Size()
		}
	}
	if best == "" || size < minBytes {
		return "", 0, false
	}
	return best, size, true
}

// CleanupPartial removes empty report files and leftover .part files for a
// company and returns how many were deleted.
func (l Layout) CleanupPartial(companyID string) (int, error) {
	entries, err := os.ReadDir(l.CompanyDir(companyID))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "storage: read %s", companyID)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(l.CompanyDir(companyID), name)
		stale := strings.HasSuffix(name, ".part")
		if !stale && strings.HasSuffix(name, ".pdf") {
			if info, err := e.Info(); err == nil && info.Size() == 0 {
				stale = true
			}
		}
		if !stale {
			continue
		}
		if err := os.Remove(path); err != nil {
			return removed, eris.Wrapf(err, "storage: remove %s", path)
		}
		removed++
		zap.L().Info("removed partial download", zap.String("path", path))
	}
	return removed, nil
}

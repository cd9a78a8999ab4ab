package engine

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/mops-cli/internal/model"
)

// ROC calendar offset: ROC year = Western year - 1911.
const rocOffset = 1911

// MinYear is the first year the ROC calendar can express.
const MinYear = rocOffset + 1

var companyIDRe = regexp.MustCompile(`^\d{4}$`)

// AllQuarters is the request for a full year.
var AllQuarters = []int{1, 2, 3, 4}

// ROCYear converts a Western year to the portal's calendar.
func ROCYear(year int) int { return year - rocOffset }

// ValidateCompanyID requires a four-digit stock code.
func ValidateCompanyID(id string) error {
	if !companyIDRe.MatchString(id) {
		return model.Errorf(model.ErrValidation, "company id %q must be 4 digits", id)
	}
	return nil
}

// ValidateYear requires a Western year between MinYear and the current year.
func ValidateYear(year int, now time.Time) error {
	if year < MinYear || year > now.Year() {
		return model.Errorf(model.ErrValidation, "year %d must be between %d and %d", year, MinYear, now.Year())
	}
	return nil
}

// ValidateQuarters requires a non-empty list of distinct quarters in 1..4.
func ValidateQuarters(qs []int) error {
	if len(qs) == 0 {
		return model.Errorf(model.ErrValidation, "no quarters requested")
	}
	seen := make(map[int]bool, len(qs))
	for _, q := range qs {
		if q < 1 || q > 4 {
			return model.Errorf(model.ErrValidation, "quarter %d must be 1-4", q)
		}
		if seen[q] {
			return model.Errorf(model.ErrValidation, "quarter %d requested twice", q)
		}
		seen[q] = true
	}
	return nil
}

// ParseQuarters accepts "all" (or empty), a single quarter, or a comma
// separated list such as "1,3".
func ParseQuarters(s string) ([]int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "all" {
		return append([]int(nil), AllQuarters...), nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "q"))
		q, err := strconv.Atoi(part)
		if err != nil {
			return nil, model.Errorf(model.ErrValidation, "quarter %q must be 1-4 or all", part)
		}
		out = append(out, q)
	}
	if err := ValidateQuarters(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Request is one company/year run.
type Request struct {
	CompanyID string
	Year      int
	Quarters  []int
}

// Validate checks every field of the request.
func (r Request) Validate(now time.Time) error {
	if err := ValidateCompanyID(r.CompanyID); err != nil {
		return err
	}
	if err := ValidateYear(r.Year, now); err != nil {
		return err
	}
	return ValidateQuarters(r.Quarters)
}

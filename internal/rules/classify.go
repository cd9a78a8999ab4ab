package rules

import (
	"github.com/sells-group/mops-cli/internal/model"
)

// Reason prefixes produced by Classify.
const (
	ReasonExcluded = "excluded by rule"
	ReasonPrimary  = "matched primary keyword"
	ReasonFilename = "matched filename pattern"
	ReasonFlexible = "matched flexible fallback"
	ReasonNoMatch  = "no matching rule"
)

// Classify decides the tier of one candidate. It is a pure function of its
// inputs: exclusions always win, then primary keywords on the description,
// then filename patterns on the filename hint, then (outside strict mode)
// flexible keywords on the description.
func Classify(c model.ReportCandidate, t *Table, strict bool) model.ClassificationResult {
	res := model.ClassificationResult{Candidate: c, Tier: model.TierRejected}

	for _, r := range t.exclusions {
		if r.match(c.Description) || r.match(c.FilenameHint) {
			res.Reason = ReasonExcluded + ": " + r.label
			return res
		}
	}
	for _, r := range t.primary {
		if r.match(c.Description) {
			return matched(res, model.TierPrimary, ReasonPrimary+": "+r.label)
		}
	}
	for _, r := range t.filenames {
		if r.match(c.FilenameHint) {
			return matched(res, model.TierPrimary, ReasonFilename+": "+r.label)
		}
	}
	if !strict {
		for _, r := range t.flexible {
			if r.match(c.Description) {
				return matched(res, model.TierSecondary, ReasonFlexible+": "+r.label)
			}
		}
	}

	res.Reason = ReasonNoMatch
	return res
}

func matched(res model.ClassificationResult, tier model.Tier, reason string) model.ClassificationResult {
	res.Matched = true
	res.Tier = tier
	res.Reason = reason
	return res
}

// ClassifyAll classifies candidates in listing order.
func ClassifyAll(cands []model.ReportCandidate, t *Table, strict bool) []model.ClassificationResult {
	out := make([]model.ClassificationResult, 0, len(cands))
	for _, c := range cands {
		out = append(out, Classify(c, t, strict))
	}
	return out
}

// SelectBest picks the matched result with the best tier. Among equal tiers
// the first in listing order wins. ok is false when nothing matched.
func SelectBest(results []model.ClassificationResult) (best model.ClassificationResult, ok bool) {
	for _, r := range results {
		if !r.Matched {
			continue
		}
		if !ok || r.Tier.Rank() > best.Tier.Rank() {
			best, ok = r, true
		}
	}
	return best, ok
}

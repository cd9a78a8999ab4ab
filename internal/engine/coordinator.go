// Package engine drives the listing, classification, resolution and
// download stages across the requested quarters of one company and year.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mops-cli/internal/download"
	"github.com/sells-group/mops-cli/internal/model"
	"github.com/sells-group/mops-cli/internal/resilience"
	"github.com/sells-group/mops-cli/internal/rules"
	"github.com/sells-group/mops-cli/internal/storage"
)

// Missing-quarter reasons produced by the coordinator.
const (
	ReasonNoReports        = "no reports listed"
	ReasonFlexibleDisabled = "no matching rule (flexible targets disabled)"
	ReasonCancelled        = "not attempted: cancelled"
)

// ListingFetcher fetches one quarter's candidates in a single attempt.
type ListingFetcher interface {
	FetchListing(ctx context.Context, companyID string, rocYear, quarter int) ([]model.ReportCandidate, error)
}

// Resolver resolves a selected candidate in a single attempt.
type Resolver interface {
	Resolve(ctx context.Context, companyID string, sel model.ClassificationResult) (model.ResolvedDocument, error)
}

// Downloader persists a resolved document, retrying on its own.
type Downloader interface {
	Download(ctx context.Context, doc model.ResolvedDocument, dest string) (download.Result, error)
}

// Options configures a Coordinator.
type Options struct {
	Rules  *rules.Table
	Strict bool
	Layout storage.Layout
	// Policy bounds the listing and resolution retries.
	Policy resilience.Policy
	// OnlyMissing reuses a stored file of at least ExistingMinBytes
	// instead of fetching the quarter again.
	OnlyMissing      bool
	ExistingMinBytes int64
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Coordinator runs quarters strictly one after another.
type Coordinator struct {
	listing    ListingFetcher
	resolver   Resolver
	downloader Downloader
	opts       Options
	log        *zap.Logger
}

// NewCoordinator wires the stages. A missing rule table is a configuration
// error.
func NewCoordinator(l ListingFetcher, r Resolver, d Downloader, opts Options) (*Coordinator, error) {
	if opts.Rules == nil {
		return nil, model.Errorf(model.ErrConfiguration, "engine: no rule table")
	}
	if l == nil || r == nil || d == nil {
		return nil, model.Errorf(model.ErrConfiguration, "engine: listing, resolver and downloader are required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		listing:    l,
		resolver:   r,
		downloader: d,
		opts:       opts,
		log:        zap.L().With(zap.String("component", "engine")),
	}, nil
}

// Run processes every requested quarter and returns the session result.
// Only fatal errors (invalid input or configuration) are returned as errors
// and they abort the remaining quarters; per-quarter failures are recorded
// in the result.
func (c *Coordinator) Run(ctx context.Context, req Request) (*model.SessionResult, error) {
	if err := req.Validate(c.opts.Now()); err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	log := c.log.With(
		zap.String("session_id", sessionID),
		zap.String("company_id", req.CompanyID),
		zap.Int("year", req.Year),
	)
	agg := NewAggregator(sessionID, req, c.opts.Strict, c.opts.Rules.Version(), c.opts.Now().UTC())
	log.Info("session started",
		zap.Ints("quarters", req.Quarters),
		zap.Bool("strict", c.opts.Strict),
		zap.String("rule_version", c.opts.Rules.Version()),
	)

	for _, q := range req.Quarters {
		if ctx.Err() != nil {
			agg.Add(model.DownloadOutcome{
				Quarter:   q,
				State:     model.JobPending,
				ErrorKind: model.ErrCancelled,
				Reason:    ReasonCancelled,
			})
			continue
		}
		o, err := c.runQuarter(ctx, req, q)
		if err != nil {
			log.Error("session aborted", zap.Int("quarter", q), zap.Error(err))
			return nil, err
		}
		agg.Add(o)
	}

	res := agg.Finalize(c.opts.Now().UTC())
	log.Info("session finished",
		zap.Bool("success", res.Success),
		zap.Ints("downloaded", res.DownloadedQuarters),
		zap.Ints("missing", res.MissingNumbers()),
		zap.Int64("total_bytes", res.TotalBytes),
	)
	return res, nil
}

// runQuarter returns a non-nil error only for fatal failures.
func (c *Coordinator) runQuarter(ctx context.Context, req Request, q int) (model.DownloadOutcome, error) {
	job := model.NewQuarterJob(req.CompanyID, req.Year, q)
	log := c.log.With(zap.String("company_id", req.CompanyID), zap.Int("year", req.Year), zap.Int("quarter", q))
	out := model.DownloadOutcome{Quarter: q}

	advance := func(to model.JobState) {
		if err := job.Advance(to); err != nil {
			log.Error("illegal job transition", zap.Error(err))
		}
	}
	fail := func(stage string, err error) (model.DownloadOutcome, error) {
		advance(model.JobFailed)
		if model.IsFatal(err) && ctx.Err() == nil {
			return out, eris.Wrapf(err, "engine: %s quarter %d", stage, q)
		}
		kind := model.KindOf(err)
		if ctx.Err() != nil {
			kind = model.ErrCancelled
		}
		if kind == "" {
			kind = model.ErrNetwork
		}
		out.State = job.State
		out.ErrorKind = kind
		out.Reason = stage + " failed: " + err.Error()
		log.Warn("quarter failed",
			zap.String("stage", stage),
			zap.String("kind", string(kind)),
			zap.Int("retries", out.RetryCount),
			zap.Error(err),
		)
		return out, nil
	}

	if c.opts.OnlyMissing {
		if path, size, ok := c.opts.Layout.FindExisting(req.CompanyID, req.Year, q, c.opts.ExistingMinBytes); ok {
			advance(model.JobComplete)
			log.Info("reusing existing file", zap.String("path", path), zap.Int64("bytes", size))
			out.Success = true
			out.State = job.State
			out.FilePath = path
			out.Bytes = size
			out.Reused = true
			return out, nil
		}
	}

	// A parse failure earns one extra attempt on top of the network budget.
	netBudget := c.opts.Policy.Attempts()
	attempts := 0
	parseRetried := false
	listPolicy := c.opts.Policy.WithMaxAttempts(netBudget + 1).WithRetryable(func(err error) bool {
		switch model.KindOf(err) {
		case model.ErrNetwork:
			return resilience.IsTransient(err) && attempts < netBudget
		case model.ErrParse:
			if parseRetried {
				return false
			}
			parseRetried = true
			return true
		}
		return false
	})
	listPolicy.OnRetry = resilience.RetryLogger("listing", req.CompanyID, q)

	cands, n, err := resilience.DoVal(ctx, listPolicy, func(ctx context.Context) ([]model.ReportCandidate, error) {
		attempts++
		return c.listing.FetchListing(ctx, req.CompanyID, ROCYear(req.Year), q)
	})
	out.RetryCount += n
	if err != nil {
		return fail("listing", err)
	}
	advance(model.JobListingFetched)

	results := rules.ClassifyAll(cands, c.opts.Rules, c.opts.Strict)
	for _, r := range results {
		log.Debug("candidate classified",
			zap.String("description", r.Candidate.Description),
			zap.String("filename", r.Candidate.FilenameHint),
			zap.String("tier", string(r.Tier)),
			zap.String("reason", r.Reason),
		)
	}

	best, ok := rules.SelectBest(results)
	if !ok {
		advance(model.JobUnmatched)
		advance(model.JobSkipped)
		out.State = job.State
		out.Reason = c.unmatchedReason(results)
		log.Info("quarter skipped", zap.Int("candidates", len(results)), zap.String("reason", out.Reason))
		return out, nil
	}
	advance(model.JobMatched)
	out.Tier = best.Tier
	log.Info("candidate selected",
		zap.String("filename", best.Candidate.FilenameHint),
		zap.String("tier", string(best.Tier)),
		zap.String("reason", best.Reason),
	)

	advance(model.JobResolving)
	resPolicy := c.opts.Policy.WithRetryable(func(err error) bool {
		return model.KindOf(err) == model.ErrNetwork && resilience.IsTransient(err)
	})
	resPolicy.OnRetry = resilience.RetryLogger("resolve", req.CompanyID, q)

	doc, n, err := resilience.DoVal(ctx, resPolicy, func(ctx context.Context) (model.ResolvedDocument, error) {
		return c.resolver.Resolve(ctx, req.CompanyID, best)
	})
	out.RetryCount += n
	if err != nil {
		return fail("resolve", err)
	}
	advance(model.JobResolved)
	out.SourceURL = doc.AbsoluteURL
	out.Strategy = doc.ResolutionStrategy

	advance(model.JobDownloading)
	dest, err := c.opts.Layout.Path(storage.FileKey{
		Year:      req.Year,
		Quarter:   q,
		CompanyID: req.CompanyID,
		Type:      storage.ReportType(best.Candidate.FilenameHint),
	})
	if err != nil {
		return fail("download", model.NewError(model.ErrExtraction, err))
	}
	dres, err := c.downloader.Download(ctx, doc, dest)
	out.RetryCount += dres.Retries
	if err != nil {
		return fail("download", err)
	}
	advance(model.JobValidated)
	advance(model.JobComplete)

	out.Success = true
	out.State = job.State
	out.FilePath = dres.Path
	out.Bytes = dres.Bytes
	out.DownloadedAt = c.opts.Now().UTC()
	return out, nil
}

// unmatchedReason explains why nothing was selected: the first exclusion
// if any candidate was excluded, otherwise a plain no-match, noting when
// strict mode hid a flexible match.
func (c *Coordinator) unmatchedReason(results []model.ClassificationResult) string {
	if len(results) == 0 {
		return ReasonNoReports
	}
	for _, r := range results {
		if strings.HasPrefix(r.Reason, rules.ReasonExcluded) {
			return r.Reason
		}
	}
	if c.opts.Strict {
		for _, r := range results {
			if rules.Classify(r.Candidate, c.opts.Rules, false).Matched {
				return ReasonFlexibleDisabled
			}
		}
	}
	return rules.ReasonNoMatch
}

// Describe renders a one-line summary of a missing quarter.
func Describe(m model.MissingQuarter) string {
	if m.Kind == "" {
		return fmt.Sprintf("Q%d %s: %s", m.Quarter, m.State, m.Reason)
	}
	return fmt.Sprintf("Q%d %s [%s]: %s", m.Quarter, m.State, m.Kind, m.Reason)
}

package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/sells-group/mops-cli/internal/config"
	"github.com/sells-group/mops-cli/internal/download"
	"github.com/sells-group/mops-cli/internal/engine"
	"github.com/sells-group/mops-cli/internal/fetcher"
	"github.com/sells-group/mops-cli/internal/listing"
	"github.com/sells-group/mops-cli/internal/model"
	"github.com/sells-group/mops-cli/internal/resolve"
	"github.com/sells-group/mops-cli/internal/rules"
	"github.com/sells-group/mops-cli/internal/storage"
	"github.com/sells-group/mops-cli/internal/store"
)

// runOptions are the per-invocation overrides shared by fetch, batch and
// serve.
type runOptions struct {
	Strict      bool
	OutputDir   string
	OnlyMissing bool
	RulesFile   string
	Progress    download.ProgressFactory
}

// applyTo returns a copy of c with the overrides applied.
func (o runOptions) applyTo(c *config.Config) *config.Config {
	out := *c
	if o.Strict {
		out.StrictMode = true
	}
	if o.OutputDir != "" {
		out.Download.Dir = o.OutputDir
	}
	if o.RulesFile != "" {
		out.Rules.File = o.RulesFile
	}
	return &out
}

// session wires one portal client through every stage and records results
// to the sidecar and the ledger.
type session struct {
	coordinator *engine.Coordinator
	layout      storage.Layout
	ledger      store.Ledger
	rules       *rules.Table
	log         *zap.Logger
}

func newSession(ctx context.Context, c *config.Config, o runOptions) (*session, error) {
	c = o.applyTo(c)

	tbl, err := c.RuleTable()
	if err != nil {
		return nil, err
	}

	f := fetcher.NewHTTPFetcher(c.HTTPOptions())
	policy := c.RetryPolicy()
	layout := storage.Layout{Root: c.Download.Dir}

	lp, err := listing.NewParser(f, listing.Options{
		BaseURL:         c.Portal.BaseURL,
		Encodings:       c.Portal.Encodings,
		MaxInvalidRatio: c.Portal.MaxInvalidRatio,
	})
	if err != nil {
		return nil, err
	}
	rv := resolve.New(f, resolve.Options{
		BaseURL:    c.Portal.BaseURL,
		DocBaseURL: c.Portal.DocBaseURL,
		Encodings:  c.Portal.Encodings,
	})
	dl := download.New(f, download.Options{
		ChunkSize:       c.Download.ChunkSize,
		MinValidBytes:   c.Download.MinValidBytes,
		VerifyStructure: c.Download.VerifyStructure,
		Policy:          policy,
		Progress:        o.Progress,
	})

	co, err := engine.NewCoordinator(lp, rv, dl, engine.Options{
		Rules:            tbl,
		Strict:           c.StrictMode,
		Layout:           layout,
		Policy:           policy,
		OnlyMissing:      o.OnlyMissing,
		ExistingMinBytes: c.Download.ExistingMinBytes,
	})
	if err != nil {
		return nil, err
	}

	ledger, err := store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "session: open ledger")
	}

	return &session{
		coordinator: co,
		layout:      layout,
		ledger:      ledger,
		rules:       tbl,
		log:         zap.L().With(zap.String("component", "session")),
	}, nil
}

// run executes one request and records it. Only invalid input is returned
// as an error.
func (s *session) run(ctx context.Context, req engine.Request) (*model.SessionResult, error) {
	if err := req.Validate(time.Now()); err != nil {
		return nil, err
	}
	if n, err := s.layout.CleanupPartial(req.CompanyID); err != nil {
		s.log.Warn("cleanup of partial files failed", zap.String("company_id", req.CompanyID), zap.Error(err))
	} else if n > 0 {
		s.log.Info("removed partial files", zap.String("company_id", req.CompanyID), zap.Int("count", n))
	}

	res, err := s.coordinator.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	s.record(ctx, res)
	return res, nil
}

// record writes the sidecar and the ledger entry. Failures are logged; the
// downloaded files stay valid either way.
func (s *session) record(ctx context.Context, res *model.SessionResult) {
	if key, err := s.layout.WriteSidecar(res); err != nil {
		s.log.Warn("metadata sidecar not written", zap.String("company_id", res.CompanyID), zap.Error(err))
	} else {
		s.log.Debug("metadata sidecar written", zap.String("key", key), zap.String("path", s.layout.SidecarPath(res.CompanyID)))
	}

	if err := s.ledger.SaveSession(context.WithoutCancel(ctx), res); err != nil {
		s.log.Warn("session not saved to ledger", zap.String("session_id", res.SessionID), zap.Error(err))
	}
}

func (s *session) Close() error {
	return s.ledger.Close()
}

// progressBars renders one byte-counting bar per transfer on w.
func progressBars(w io.Writer) download.ProgressFactory {
	return func(label string, total int64) io.Writer {
		return progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(label),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(w) }),
		)
	}
}

// printSummary writes the downloaded files, the missing quarters with their
// reasons and the byte total.
func printSummary(out io.Writer, res *model.SessionResult) {
	_, _ = fmt.Fprintf(out, "Company %s  year %d (ROC %d)  rules %s  strict=%t\n",
		res.CompanyID, res.Year, res.ROCYear, res.RuleVersion, res.StrictMode)

	if len(res.DownloadedQuarters) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "QUARTER\tTIER\tSTRATEGY\tBYTES\tRETRIES\tFILE")
		for _, o := range res.Outcomes {
			if !o.Success {
				continue
			}
			strategy := o.Strategy
			if o.Reused {
				strategy = "reused"
			}
			_, _ = fmt.Fprintf(w, "Q%d\t%s\t%s\t%d\t%d\t%s\n", o.Quarter, o.Tier, strategy, o.Bytes, o.RetryCount, o.FilePath)
		}
		_ = w.Flush()
	}

	for _, m := range res.MissingQuarters {
		_, _ = fmt.Fprintf(out, "missing %s\n", engine.Describe(m))
	}

	status := "complete"
	if !res.Success {
		status = "partial"
		if len(res.DownloadedQuarters) == 0 {
			status = "nothing downloaded"
		}
	}
	_, _ = fmt.Fprintf(out, "%d/%d quarters, %d bytes, %s\n",
		len(res.DownloadedQuarters), len(res.RequestedQuarters), res.TotalBytes, status)
}

// Package download streams a resolved report to disk, validates it and
// retries transient failures.
package download

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mops-cli/internal/fetcher"
	"github.com/sells-group/mops-cli/internal/model"
	"github.com/sells-group/mops-cli/internal/resilience"
)

// Defaults for Options.
const (
	DefaultChunkSize     = 8192
	DefaultMinValidBytes = 1024
)

// PDFSignature is the leading magic of every accepted document.
var PDFSignature = []byte("%PDF")

// ProgressFactory returns a writer that observes the bytes of one transfer.
// total is -1 when the server sent no length.
type ProgressFactory func(label string, total int64) io.Writer

// Options configures a Downloader.
type Options struct {
	ChunkSize     int
	MinValidBytes int64
	// VerifyStructure additionally parses the file and requires at least
	// one page.
	VerifyStructure bool
	Policy          resilience.Policy
	Progress        ProgressFactory
}

// Result is a persisted document.
type Result struct {
	Path    string
	Bytes   int64
	Retries int
}

// Downloader implements the download stage for one session.
type Downloader struct {
	fetch fetcher.Fetcher
	opts  Options
	log   *zap.Logger
}

// New creates a Downloader.
func New(f fetcher.Fetcher, opts Options) *Downloader {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MinValidBytes <= 0 {
		opts.MinValidBytes = DefaultMinValidBytes
	}
	return &Downloader{fetch: f, opts: opts, log: zap.L().With(zap.String("component", "download"))}
}

// Retryable is the download retry predicate: transient transport faults and
// content that failed validation.
func Retryable(err error) bool {
	if model.KindOf(err) == model.ErrValidationFailure {
		return true
	}
	return resilience.IsTransient(err)
}

// Download fetches doc into dest, retrying per the policy. The file appears
// at dest only after it passed validation. Result.Retries is reported even
// when the download ultimately fails.
func (d *Downloader) Download(ctx context.Context, doc model.ResolvedDocument, dest string) (Result, error) {
	policy := d.opts.Policy.WithRetryable(Retryable)
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, err error, delay time.Duration) {
			d.log.Warn("retrying download",
				zap.String("url", doc.AbsoluteURL),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
		}
	}

	n, retries, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (int64, error) {
		return d.attempt(ctx, doc, dest)
	})
	if err != nil {
		if ctx.Err() != nil && model.KindOf(err) != model.ErrCancelled {
			err = model.NewError(model.ErrCancelled, eris.Wrap(err, "download: cancelled"))
		}
		return Result{Retries: retries}, err
	}

	d.log.Info("document saved",
		zap.String("path", dest),
		zap.Int64("bytes", n),
		zap.Int("retries", retries),
	)
	return Result{Path: dest, Bytes: n, Retries: retries}, nil
}

func (d *Downloader) attempt(ctx context.Context, doc model.ResolvedDocument, dest string) (int64, error) {
	body, total, err := d.fetch.Open(ctx, doc.AbsoluteURL, doc.DetailURL)
	if err != nil {
		if ctx.Err() != nil {
			return 0, model.NewError(model.ErrCancelled, eris.Wrap(ctx.Err(), "download: open"))
		}
		return 0, model.NewError(model.ErrNetwork, eris.Wrapf(err, "download: GET %s", doc.AbsoluteURL))
	}
	defer body.Close() //nolint:errcheck

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, model.NewError(model.ErrConfiguration, eris.Wrapf(err, "download: create %s", filepath.Dir(dest)))
	}

	part := dest + ".part"
	n, err := d.stream(body, part, filepath.Base(dest), total)
	if err != nil {
		_ = os.Remove(part)
		if ctx.Err() != nil {
			return 0, model.NewError(model.ErrCancelled, eris.Wrap(ctx.Err(), "download: stream"))
		}
		return 0, model.NewError(model.ErrNetwork, resilience.NewTransientError(eris.Wrapf(err, "download: stream %s", doc.AbsoluteURL), 0))
	}

	if err := d.validate(part, n); err != nil {
		_ = os.Remove(part)
		return 0, err
	}
	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return 0, model.NewError(model.ErrConfiguration, eris.Wrapf(err, "download: rename to %s", dest))
	}
	return n, nil
}

// stream copies body to path in ChunkSize pieces.
func (d *Downloader) stream(body io.Reader, path, label string, total int64) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrapf(err, "download: create %s", path)
	}

	var w io.Writer = f
	if d.opts.Progress != nil {
		if pw := d.opts.Progress(label, total); pw != nil {
			w = io.MultiWriter(f, pw)
		}
	}

	// The wrappers hide ReaderFrom/WriterTo so CopyBuffer honors the chunk size.
	buf := make([]byte, d.opts.ChunkSize)
	n, err := io.CopyBuffer(struct{ io.Writer }{w}, struct{ io.Reader }{body}, buf)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return n, eris.Wrap(err, "download: copy body")
	}
	return n, nil
}

// validate checks signature and size, and optionally the document
// structure.
func (d *Downloader) validate(path string, n int64) error {
	if n < d.opts.MinValidBytes {
		return model.Errorf(model.ErrValidationFailure, "download: %d bytes is below the %d byte minimum", n, d.opts.MinValidBytes)
	}

	f, err := os.Open(path)
	if err != nil {
		return model.NewError(model.ErrValidationFailure, eris.Wrapf(err, "download: reopen %s", path))
	}
	head := make([]byte, len(PDFSignature))
	_, err = io.ReadFull(f, head)
	_ = f.Close()
	if err != nil || !bytes.Equal(head, PDFSignature) {
		return model.Errorf(model.ErrValidationFailure, "download: content does not start with %q", PDFSignature)
	}

	if d.opts.VerifyStructure {
		pdfCtx, err := api.ReadContextFile(path)
		if err != nil {
			return model.NewError(model.ErrValidationFailure, eris.Wrap(err, "download: parse pdf"))
		}
		if pdfCtx.PageCount < 1 {
			return model.Errorf(model.ErrValidationFailure, "download: pdf has no pages")
		}
	}
	return nil
}

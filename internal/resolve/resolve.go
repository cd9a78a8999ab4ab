// Package resolve turns a classified listing entry into a concrete document
// URL with the portal's two-step protocol: fetch the entry's detail page,
// then extract the document path from it.
package resolve

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mops-cli/internal/fetcher"
	"github.com/sells-group/mops-cli/internal/listing"
	"github.com/sells-group/mops-cli/internal/model"
)

// DefaultDocBaseURL hosts the /pdf/ document paths.
const DefaultDocBaseURL = "https://doc.twse.com.tw"

var readfileHintRe = regexp.MustCompile(`readfile2?\(\s*["']([^"']+)["']\s*,\s*["']([^"']+)["']\s*,\s*["']([^"']+)["']\s*\)`)

// Options configures a Resolver.
type Options struct {
	BaseURL    string
	DocBaseURL string
	Encodings  []string
}

// Resolver implements the resolution stage. Each call is one attempt.
type Resolver struct {
	fetch      fetcher.Fetcher
	opts       Options
	strategies []Strategy
	log        *zap.Logger
}

// New creates a Resolver using DefaultStrategies.
func New(f fetcher.Fetcher, opts Options) *Resolver {
	if opts.BaseURL == "" {
		opts.BaseURL = listing.DefaultBaseURL
	}
	if opts.DocBaseURL == "" {
		opts.DocBaseURL = DefaultDocBaseURL
	}
	return &Resolver{
		fetch:      f,
		opts:       opts,
		strategies: DefaultStrategies(),
		log:        zap.L().With(zap.String("component", "resolve")),
	}
}

// DetailURL derives the detail page for a candidate: from a readfile2 call
// hint, then a plain link hint, then the filename hint.
func (r *Resolver) DetailURL(companyID string, c model.ReportCandidate) (string, error) {
	for _, h := range c.RawLinkHints {
		if m := readfileHintRe.FindStringSubmatch(h); m != nil {
			return r.stepNine(m[1], m[2], m[3]), nil
		}
	}
	for _, h := range c.RawLinkHints {
		if strings.HasPrefix(strings.ToLower(h), "javascript:") || h == "#" {
			continue
		}
		if abs, err := resolveAgainst(r.opts.BaseURL, h); err == nil {
			return abs, nil
		}
	}
	if c.FilenameHint != "" {
		return r.stepNine("A", companyID, c.FilenameHint), nil
	}
	return "", model.Errorf(model.ErrExtraction, "resolve: %s has no detail reference", c)
}

func (r *Resolver) stepNine(kind, companyID, filename string) string {
	q := url.Values{}
	q.Set("step", "9")
	q.Set("kind", kind)
	q.Set("co_id", companyID)
	q.Set("filename", filename)
	return r.opts.BaseURL + "?" + q.Encode()
}

// Resolve fetches the detail page for the selected candidate and runs the
// strategies in order. A failed fetch is a network error; a page that
// yields no plausible path is an extraction error.
func (r *Resolver) Resolve(ctx context.Context, companyID string, sel model.ClassificationResult) (model.ResolvedDocument, error) {
	c := sel.Candidate
	detail, err := r.DetailURL(companyID, c)
	if err != nil {
		return model.ResolvedDocument{}, err
	}

	body, err := r.fetch.Fetch(ctx, detail, r.opts.BaseURL)
	if err != nil {
		if ctx.Err() != nil {
			return model.ResolvedDocument{}, model.NewError(model.ErrCancelled, eris.Wrap(ctx.Err(), "resolve: fetch detail"))
		}
		return model.ResolvedDocument{}, model.NewError(model.ErrNetwork, eris.Wrapf(err, "resolve: fetch detail for %s", c.FilenameHint))
	}

	// Document paths are ASCII, so an undecodable page is still searched raw.
	page, enc, derr := listing.Decode(body, r.opts.Encodings, listing.DefaultMaxInvalidRatio)
	if derr != nil {
		if model.IsFatal(derr) {
			return model.ResolvedDocument{}, derr
		}
		r.log.Debug("detail page not decoded, searching raw bytes",
			zap.String("url", detail),
			zap.Int("bytes", len(body)),
			zap.Error(derr),
		)
		page = string(body)
	} else {
		r.log.Debug("detail page decoded", zap.String("url", detail), zap.String("encoding", enc))
	}

	path, strategy, ok := r.extract(page, c)
	if !ok {
		return model.ResolvedDocument{}, model.Errorf(model.ErrExtraction, "resolve: no strategy found a document path for %s", c)
	}

	abs, err := resolveAgainst(r.opts.DocBaseURL, path)
	if err != nil {
		return model.ResolvedDocument{}, model.NewError(model.ErrExtraction, eris.Wrapf(err, "resolve: bad document path %q", path))
	}

	r.log.Info("document resolved",
		zap.String("company_id", companyID),
		zap.Int("quarter", c.Quarter),
		zap.String("strategy", strategy),
		zap.String("url", abs),
	)
	return model.ResolvedDocument{
		Candidate:          c,
		Tier:               sel.Tier,
		DetailURL:          detail,
		AbsoluteURL:        abs,
		ResolutionStrategy: strategy,
	}, nil
}

func (r *Resolver) extract(page string, c model.ReportCandidate) (string, string, bool) {
	for _, s := range r.strategies {
		if p, ok := s.Extract(page, c); ok {
			return p, s.Name(), true
		}
		r.log.Debug("resolve: strategy found nothing, trying next", zap.String("strategy", s.Name()))
	}
	return "", "", false
}

func resolveAgainst(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", eris.Wrapf(err, "resolve: parse base %q", base)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", eris.Wrapf(err, "resolve: parse reference %q", ref)
	}
	return b.ResolveReference(u).String(), nil
}

// Package listing fetches one quarter's report listing from the disclosure
// portal and turns it into report candidates.
package listing

import (
	"context"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mops-cli/internal/fetcher"
	"github.com/sells-group/mops-cli/internal/model"
)

// DefaultBaseURL is the portal's document query endpoint.
const DefaultBaseURL = "https://doc.twse.com.tw/server-java/t57sb01"

// Options configures a Parser.
type Options struct {
	BaseURL         string
	Encodings       []string
	MaxInvalidRatio float64
}

// Parser implements the listing stage. Each call is one attempt; the caller
// retries network and parse failures.
type Parser struct {
	fetch fetcher.Fetcher
	opts  Options
	log   *zap.Logger
}

// NewParser creates a Parser on top of the session fetcher.
func NewParser(f fetcher.Fetcher, opts Options) (*Parser, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if len(opts.Encodings) == 0 {
		opts.Encodings = DefaultEncodings
	}
	if err := CheckEncodings(opts.Encodings); err != nil {
		return nil, err
	}
	if opts.MaxInvalidRatio <= 0 {
		opts.MaxInvalidRatio = DefaultMaxInvalidRatio
	}
	return &Parser{fetch: f, opts: opts, log: zap.L().With(zap.String("component", "listing"))}, nil
}

// BaseURL returns the endpoint the parser queries.
func (p *Parser) BaseURL() string { return p.opts.BaseURL }

// URL builds the listing query for one explicit quarter.
func (p *Parser) URL(companyID string, rocYear, quarter int) string {
	q := url.Values{}
	q.Set("step", "1")
	q.Set("colorchg", "1")
	q.Set("seamon", strconv.Itoa(quarter))
	q.Set("mtype", "A")
	q.Set("co_id", companyID)
	q.Set("year", strconv.Itoa(rocYear))
	return p.opts.BaseURL + "?" + q.Encode()
}

// FetchListing retrieves and parses the listing for one quarter. Transport
// failures come back as network errors, unreadable pages as parse errors.
func (p *Parser) FetchListing(ctx context.Context, companyID string, rocYear, quarter int) ([]model.ReportCandidate, error) {
	u := p.URL(companyID, rocYear, quarter)

	body, err := p.fetch.Fetch(ctx, u, "")
	if err != nil {
		if ctx.Err() != nil {
			return nil, model.NewError(model.ErrCancelled, eris.Wrap(ctx.Err(), "listing: fetch"))
		}
		return nil, model.NewError(model.ErrNetwork, eris.Wrapf(err, "listing: fetch Q%d", quarter))
	}

	text, enc, err := Decode(body, p.opts.Encodings, p.opts.MaxInvalidRatio)
	if err != nil {
		return nil, err
	}

	cands, err := Parse(text, quarter)
	if err != nil {
		return nil, err
	}

	p.log.Info("listing fetched",
		zap.String("company_id", companyID),
		zap.Int("roc_year", rocYear),
		zap.Int("quarter", quarter),
		zap.String("encoding", enc),
		zap.Int("candidates", len(cands)),
	)
	return cands, nil
}

package resolve

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/mops-cli/internal/model"
)

// Strategy names recorded on a ResolvedDocument.
const (
	StrategyDirectAnchor    = "direct-anchor"
	StrategyScriptParams    = "script-params"
	StrategyPatternFallback = "pattern-fallback"
	StrategyPathConvention  = "path-convention"
)

// Strategy extracts a document path from a detail page.
type Strategy interface {
	Name() string
	Extract(page string, c model.ReportCandidate) (string, bool)
}

// DefaultStrategies returns the strategies in priority order.
func DefaultStrategies() []Strategy {
	return []Strategy{directAnchor{}, scriptParams{}, patternFallback{}, pathConvention{}}
}

var (
	scriptCallRe  = regexp.MustCompile(`\b[A-Za-z_][\w.]*\(([^()]*)\)`)
	quotedArgRe   = regexp.MustCompile(`["']([^"']*)["']`)
	pdfFragmentRe = regexp.MustCompile(`/pdf/[^"'\s<>()]+?\.pdf`)
	conventionRe  = regexp.MustCompile(`^\d{6}_[0-9A-Z]+_[A-Z0-9]+\.pdf$`)
)

type directAnchor struct{}

func (directAnchor) Name() string { return StrategyDirectAnchor }

func (directAnchor) Extract(page string, _ model.ReportCandidate) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", false
	}
	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return true
		}
		if strings.Contains(href, "/pdf/") || strings.HasSuffix(strings.ToLower(href), ".pdf") {
			if plausible(href) {
				found = href
				return false
			}
		}
		return true
	})
	return found, found != ""
}

// scriptParams reads an inline call whose quoted arguments name the file,
// e.g. readfile2("A","2330","202401_2330_AI1.pdf").
type scriptParams struct{}

func (scriptParams) Name() string { return StrategyScriptParams }

func (scriptParams) Extract(page string, _ model.ReportCandidate) (string, bool) {
	for _, call := range scriptCallRe.FindAllStringSubmatch(page, -1) {
		for _, arg := range quotedArgRe.FindAllStringSubmatch(call[1], -1) {
			v := strings.TrimSpace(arg[1])
			if !strings.HasSuffix(strings.ToLower(v), ".pdf") {
				continue
			}
			if !strings.Contains(v, "/") {
				v = "/pdf/" + v
			}
			if plausible(v) {
				return v, true
			}
		}
	}
	return "", false
}

type patternFallback struct{}

func (patternFallback) Name() string { return StrategyPatternFallback }

func (patternFallback) Extract(page string, _ model.ReportCandidate) (string, bool) {
	m := pdfFragmentRe.FindString(page)
	return m, m != "" && plausible(m)
}

// pathConvention builds the document path from the candidate's own
// YYYYQQ_ID_TYPE.pdf name.
type pathConvention struct{}

func (pathConvention) Name() string { return StrategyPathConvention }

func (pathConvention) Extract(_ string, c model.ReportCandidate) (string, bool) {
	if !conventionRe.MatchString(c.FilenameHint) {
		return "", false
	}
	return "/pdf/" + c.FilenameHint, true
}

func plausible(p string) bool {
	if p == "" || strings.ContainsAny(p, " \t\r\n\"'<>") {
		return false
	}
	path := p
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return strings.HasSuffix(strings.ToLower(path), ".pdf") && len(path) > len(".pdf")
}

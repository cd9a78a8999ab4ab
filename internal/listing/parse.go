package listing

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mops-cli/internal/model"
)

// NoDataMarker appears on the portal's page when a quarter has no filings.
const NoDataMarker = "查無"

var (
	periodRe    = regexp.MustCompile(`第\s*([1-4一二三四])\s*季`)
	pdfTokenRe  = regexp.MustCompile(`([^/,"'\s()=&?]+\.pdf)`)
	readfileRe  = regexp.MustCompile(`readfile2?\(\s*["']([^"']+)["']\s*,\s*["']([^"']+)["']\s*,\s*["']([^"']+\.pdf)["']\s*\)`)
	bareFileRe  = regexp.MustCompile(`\b(\d{6}_[0-9A-Z]{4,6}_[A-Z0-9]+\.pdf)\b`)
	describeRe  = regexp.MustCompile(`[^\s<>"'=]*(?:IFRSs|財務報告|財報)[^\s<>"'=]*`)
	quarterWord = map[string]int{"1": 1, "2": 2, "3": 3, "4": 4, "一": 1, "二": 2, "三": 3, "四": 4}
)

type columns struct {
	desc, file, period int
}

// Parse extracts the candidates for quarter from a decoded listing page.
// It prefers the report table and falls back to pattern extraction over the
// raw markup. A page with neither is a parse error unless it carries the
// portal's no-data marker.
func Parse(html string, quarter int) ([]model.ReportCandidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, model.NewError(model.ErrParse, eris.Wrap(err, "listing: parse html"))
	}

	if cands, found := parseTables(doc, quarter); found {
		return cands, nil
	}
	if cands := parseFallback(html, quarter); len(cands) > 0 {
		return cands, nil
	}
	if strings.Contains(html, NoDataMarker) {
		return nil, nil
	}
	return nil, model.Errorf(model.ErrParse, "listing: no report table or document references found")
}

func parseTables(doc *goquery.Document, quarter int) ([]model.ReportCandidate, bool) {
	var out []model.ReportCandidate
	found := false

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		if table.Find("table").Length() > 0 {
			return
		}
		rows := table.Find("tr")
		if rows.Length() == 0 {
			return
		}
		cols, ok := headerColumns(rows.First())
		if !ok {
			return
		}
		found = true

		rows.Slice(1, rows.Length()).Each(func(_ int, row *goquery.Selection) {
			if c, ok := rowCandidate(row, cols, quarter); ok {
				out = append(out, c)
			}
		})
	})
	return out, found
}

func headerColumns(header *goquery.Selection) (columns, bool) {
	cols := columns{desc: -1, file: -1, period: -1}
	header.Find("th, td").Each(func(i int, cell *goquery.Selection) {
		text := strings.TrimSpace(cell.Text())
		switch {
		case strings.Contains(text, "電子檔案"):
			cols.file = i
		case strings.Contains(text, "說明"):
			cols.desc = i
		case strings.Contains(text, "年度") || strings.Contains(text, "季"):
			if cols.period < 0 {
				cols.period = i
			}
		}
	})
	return cols, cols.file >= 0
}

func rowCandidate(row *goquery.Selection, cols columns, quarter int) (model.ReportCandidate, bool) {
	cells := row.Find("td")
	if cells.Length() < 2 {
		return model.ReportCandidate{}, false
	}

	if cols.period >= 0 && cols.period < cells.Length() {
		if q, ok := quarterOf(cells.Eq(cols.period).Text()); ok && q != quarter {
			return model.ReportCandidate{}, false
		}
	}

	c := model.ReportCandidate{Quarter: quarter}
	if cols.desc >= 0 && cols.desc < cells.Length() {
		c.Description = cleanText(cells.Eq(cols.desc).Text())
	}
	if c.Description == "" {
		cells.EachWithBreak(func(_ int, cell *goquery.Selection) bool {
			text := cleanText(cell.Text())
			if strings.Contains(text, "IFRSs") || strings.Contains(text, "財務報告") {
				c.Description = text
				return false
			}
			return true
		})
	}

	row.Find("[href], [onclick]").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"href", "onclick"} {
			if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
				c.RawLinkHints = append(c.RawLinkHints, strings.TrimSpace(v))
			}
		}
	})

	if cols.file < cells.Length() {
		cells.Eq(cols.file).Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			if text := strings.TrimSpace(a.Text()); strings.HasSuffix(strings.ToLower(text), ".pdf") {
				c.FilenameHint = text
				return false
			}
			return true
		})
	}
	if c.FilenameHint == "" {
		for _, h := range c.RawLinkHints {
			if m := pdfTokenRe.FindStringSubmatch(h); m != nil {
				c.FilenameHint = m[1]
				break
			}
		}
	}

	if c.Description == "" && c.FilenameHint == "" {
		return model.ReportCandidate{}, false
	}
	return c, true
}

func parseFallback(html string, quarter int) []model.ReportCandidate {
	var out []model.ReportCandidate
	seen := make(map[string]bool)

	add := func(file, hint string, at int) {
		if seen[file] || !fileInQuarter(file, quarter) {
			return
		}
		seen[file] = true
		c := model.ReportCandidate{
			Description:  lastDescription(html[:at]),
			FilenameHint: file,
			Quarter:      quarter,
		}
		if hint != "" {
			c.RawLinkHints = []string{hint}
		}
		out = append(out, c)
	}

	for _, loc := range readfileRe.FindAllStringSubmatchIndex(html, -1) {
		add(html[loc[6]:loc[7]], html[loc[0]:loc[1]], loc[0])
	}
	for _, loc := range bareFileRe.FindAllStringSubmatchIndex(html, -1) {
		add(html[loc[2]:loc[3]], "", loc[0])
	}
	return out
}

func lastDescription(before string) string {
	all := describeRe.FindAllString(before, -1)
	if len(all) == 0 {
		return ""
	}
	return all[len(all)-1]
}

// fileInQuarter reports whether a YYYYQQ-prefixed filename belongs to
// quarter. Names without that prefix are kept.
func fileInQuarter(file string, quarter int) bool {
	if len(file) < 7 || file[6] != '_' {
		return true
	}
	q, err := strconv.Atoi(file[4:6])
	if err != nil {
		return true
	}
	return q == quarter
}

func quarterOf(text string) (int, bool) {
	m := periodRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	q, ok := quarterWord[m[1]]
	return q, ok
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

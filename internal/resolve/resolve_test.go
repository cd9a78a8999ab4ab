package resolve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/mops-cli/internal/fetcher"
	"github.com/sells-group/mops-cli/internal/model"
	"github.com/sells-group/mops-cli/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func selected(file string, hints ...string) model.ClassificationResult {
	return model.ClassificationResult{
		Candidate: model.ReportCandidate{
			Description:  "IFRSs個別財報",
			FilenameHint: file,
			Quarter:      1,
			RawLinkHints: hints,
		},
		Matched: true,
		Tier:    model.TierPrimary,
	}
}

func detailServer(t *testing.T, page string, status int) (*httptest.Server, *string) {
	t.Helper()
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)
	return srv, &query
}

func newResolver(base string) *Resolver {
	return New(fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}), Options{
		BaseURL:    base + "/server-java/t57sb01",
		DocBaseURL: "https://doc.example.tw",
	})
}

func TestResolve_DirectAnchor(t *testing.T) {
	srv, query := detailServer(t, `<html><a href='/pdf/202401_2330_A12_20240515_101010.pdf'>202401_2330_A12.pdf</a></html>`, 0)
	r := newResolver(srv.URL)

	doc, err := r.Resolve(context.Background(), "2330",
		selected("202401_2330_A12.pdf", `javascript:readfile2("A","2330","202401_2330_A12.pdf");`))
	require.NoError(t, err)
	assert.Equal(t, StrategyDirectAnchor, doc.ResolutionStrategy)
	assert.Equal(t, "https://doc.example.tw/pdf/202401_2330_A12_20240515_101010.pdf", doc.AbsoluteURL)
	assert.Equal(t, model.TierPrimary, doc.Tier)
	assert.Contains(t, *query, "step=9")
	assert.Contains(t, *query, "filename=202401_2330_A12.pdf")
}

func TestResolve_ScriptParams(t *testing.T) {
	srv, _ := detailServer(t, `<script>openfile("2024","01","202401_2330_A12.pdf");</script>`, 0)
	doc, err := newResolver(srv.URL).Resolve(context.Background(), "2330", selected("202401_2330_A12.pdf"))
	require.NoError(t, err)
	assert.Equal(t, StrategyScriptParams, doc.ResolutionStrategy)
	assert.Equal(t, "https://doc.example.tw/pdf/202401_2330_A12.pdf", doc.AbsoluteURL)
}

func TestResolve_PatternFallback(t *testing.T) {
	page := `<html><body>檔案位置 /pdf/202401_8272_A12_20240514_083000.pdf 請稍候</body></html>`
	srv, _ := detailServer(t, page, 0)
	doc, err := newResolver(srv.URL).Resolve(context.Background(), "8272", selected("202401_8272_A12.pdf"))
	require.NoError(t, err)
	assert.Equal(t, StrategyPatternFallback, doc.ResolutionStrategy)
	assert.Equal(t, "https://doc.example.tw/pdf/202401_8272_A12_20240514_083000.pdf", doc.AbsoluteURL)
}

func TestResolve_PathConvention(t *testing.T) {
	srv, _ := detailServer(t, `<html><body>請稍候</body></html>`, 0)
	doc, err := newResolver(srv.URL).Resolve(context.Background(), "8272", selected("202401_8272_A12.pdf"))
	require.NoError(t, err)
	assert.Equal(t, StrategyPathConvention, doc.ResolutionStrategy)
	assert.Equal(t, "https://doc.example.tw/pdf/202401_8272_A12.pdf", doc.AbsoluteURL)
}

func TestResolve_ExtractionError(t *testing.T) {
	srv, _ := detailServer(t, `<html><body>nothing here</body></html>`, 0)
	_, err := newResolver(srv.URL).Resolve(context.Background(), "8272", selected("report.pdf", "/detail?id=1"))
	require.Error(t, err)
	assert.Equal(t, model.ErrExtraction, model.KindOf(err))
}

func TestResolve_DetailNotFound(t *testing.T) {
	srv, _ := detailServer(t, "", http.StatusNotFound)
	_, err := newResolver(srv.URL).Resolve(context.Background(), "8272", selected("202401_8272_A12.pdf"))
	require.Error(t, err)
	assert.Equal(t, model.ErrNetwork, model.KindOf(err))
	assert.False(t, resilience.IsTransient(err))
}

func TestResolve_DetailUnavailable(t *testing.T) {
	srv, _ := detailServer(t, "", http.StatusServiceUnavailable)
	_, err := newResolver(srv.URL).Resolve(context.Background(), "8272", selected("202401_8272_A12.pdf"))
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestResolve_UndecodablePageSearchedRaw(t *testing.T) {
	page := string([]byte{0xff, 0xfe, 0x80, 0x80}) + `<script>var p = "/pdf/202401_8272_A12_20240515.pdf";</script>`
	srv, _ := detailServer(t, page, 0)
	r := newResolver(srv.URL)
	core, logs := observer.New(zap.DebugLevel)
	r.log = zap.New(core)

	doc, err := r.Resolve(context.Background(), "8272", selected("202401_8272_A12.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "https://doc.example.tw/pdf/202401_8272_A12_20240515.pdf", doc.AbsoluteURL)

	entries := logs.FilterMessage("detail page not decoded, searching raw bytes").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], "decoded cleanly")
}

func TestResolve_UnknownEncodingIsFatal(t *testing.T) {
	srv, _ := detailServer(t, `<a href="/pdf/202401_8272_A12.pdf">x</a>`, 0)
	r := New(fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}), Options{
		BaseURL:    srv.URL + "/server-java/t57sb01",
		DocBaseURL: "https://doc.example.tw",
		Encodings:  []string{"no-such-charset"},
	})

	_, err := r.Resolve(context.Background(), "8272", selected("202401_8272_A12.pdf"))
	require.Error(t, err)
	assert.Equal(t, model.ErrConfiguration, model.KindOf(err))
	assert.True(t, model.IsFatal(err))
}

func TestDetailURL(t *testing.T) {
	r := New(nil, Options{BaseURL: "https://portal.example/server-java/t57sb01"})

	u, err := r.DetailURL("2330", model.ReportCandidate{RawLinkHints: []string{`javascript:readfile2("B","2330","x_A12.pdf")`}})
	require.NoError(t, err)
	assert.Equal(t, "https://portal.example/server-java/t57sb01?co_id=2330&filename=x_A12.pdf&kind=B&step=9", u)

	u, err = r.DetailURL("2330", model.ReportCandidate{RawLinkHints: []string{"javascript:void(0)", "/pdf/x.pdf"}})
	require.NoError(t, err)
	assert.Equal(t, "https://portal.example/pdf/x.pdf", u)

	u, err = r.DetailURL("2330", model.ReportCandidate{FilenameHint: "202401_2330_A12.pdf"})
	require.NoError(t, err)
	assert.Contains(t, u, "kind=A")

	_, err = r.DetailURL("2330", model.ReportCandidate{})
	assert.Equal(t, model.ErrExtraction, model.KindOf(err))
}

func TestPlausible(t *testing.T) {
	assert.True(t, plausible("/pdf/a.pdf"))
	assert.True(t, plausible("/pdf/a.PDF?x=1"))
	assert.False(t, plausible(""))
	assert.False(t, plausible(".pdf"))
	assert.False(t, plausible("/pdf/a b.pdf"))
	assert.False(t, plausible("/pdf/a.htm"))
}

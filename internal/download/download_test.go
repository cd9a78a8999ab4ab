package download

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/mops-cli/internal/fetcher"
	"github.com/sells-group/mops-cli/internal/model"
	"github.com/sells-group/mops-cli/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func fakePDF(size int) []byte {
	return append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("0"), size)...)
}

func testPolicy(max int) resilience.Policy {
	return resilience.Policy{MaxAttempts: max, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func newDownloader(max int) *Downloader {
	return New(fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 5 * time.Second}), Options{
		MinValidBytes: 1024,
		Policy:        testPolicy(max),
	})
}

func doc(url string) model.ResolvedDocument {
	return model.ResolvedDocument{AbsoluteURL: url, DetailURL: "http://detail", ResolutionStrategy: "direct-anchor"}
}

// scripted serves the handlers in order, repeating the last one.
func scripted(t *testing.T, handlers ...http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := int(atomic.AddInt32(&calls, 1)) - 1
		if i >= len(handlers) {
			i = len(handlers) - 1
		}
		handlers[i](w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func status(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(code) }
}

func serve(body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}
}

func TestDownload_Success(t *testing.T) {
	srv, calls := scripted(t, serve(fakePDF(4096)))
	dest := filepath.Join(t.TempDir(), "8272", "202401_8272_A12.pdf")

	res, err := newDownloader(3).Download(context.Background(), doc(srv.URL), dest)
	require.NoError(t, err)
	assert.Equal(t, dest, res.Path)
	assert.Equal(t, int64(4096+9), res.Bytes)
	assert.Zero(t, res.Retries)
	assert.Equal(t, int32(1), *calls)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, PDFSignature))
	_, err = os.Stat(dest + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestDownload_SendsReferer(t *testing.T) {
	var referer string
	srv, _ := scripted(t, func(w http.ResponseWriter, r *http.Request) {
		referer = r.Header.Get("Referer")
		_, _ = w.Write(fakePDF(2048))
	})
	_, err := newDownloader(1).Download(context.Background(), doc(srv.URL), filepath.Join(t.TempDir(), "a.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "http://detail", referer)
}

func TestDownload_TwoTransientFailures(t *testing.T) {
	srv, calls := scripted(t, status(503), status(502), serve(fakePDF(2048)))
	dest := filepath.Join(t.TempDir(), "a.pdf")

	res, err := newDownloader(3).Download(context.Background(), doc(srv.URL), dest)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Retries)
	assert.Equal(t, int32(3), *calls)
}

func TestDownload_NeverExceedsMaxAttempts(t *testing.T) {
	srv, calls := scripted(t, status(503))
	dest := filepath.Join(t.TempDir(), "a.pdf")

	res, err := newDownloader(3).Download(context.Background(), doc(srv.URL), dest)
	require.Error(t, err)
	assert.Equal(t, model.ErrNetwork, model.KindOf(err))
	assert.Equal(t, int32(3), *calls)
	assert.Equal(t, 2, res.Retries)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownload_PermanentStatusNotRetried(t *testing.T) {
	srv, calls := scripted(t, status(404))
	_, err := newDownloader(3).Download(context.Background(), doc(srv.URL), filepath.Join(t.TempDir(), "a.pdf"))
	require.Error(t, err)
	assert.Equal(t, int32(1), *calls)
	assert.Equal(t, 404, resilience.StatusCodeOf(err))
}

func TestDownload_ValidationFailureRetried(t *testing.T) {
	html := []byte("<html>" + strings.Repeat("x", 4096) + "</html>")
	srv, calls := scripted(t, serve(html), serve(fakePDF(10)), serve(fakePDF(2048)))
	dest := filepath.Join(t.TempDir(), "a.pdf")

	res, err := newDownloader(3).Download(context.Background(), doc(srv.URL), dest)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Retries)
	assert.Equal(t, int32(3), *calls)
}

func TestDownload_ValidationExhausted(t *testing.T) {
	srv, _ := scripted(t, serve([]byte("not a pdf at all")))
	dest := filepath.Join(t.TempDir(), "a.pdf")

	_, err := newDownloader(2).Download(context.Background(), doc(srv.URL), dest)
	require.Error(t, err)
	assert.Equal(t, model.ErrValidationFailure, model.KindOf(err))
	entries, _ := os.ReadDir(filepath.Dir(dest))
	assert.Empty(t, entries)
}

func TestDownload_VerifyStructureRejectsGarbage(t *testing.T) {
	srv, _ := scripted(t, serve(fakePDF(2048)))
	d := New(fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}), Options{
		MinValidBytes:   1024,
		VerifyStructure: true,
		Policy:          testPolicy(1),
	})
	_, err := d.Download(context.Background(), doc(srv.URL), filepath.Join(t.TempDir(), "a.pdf"))
	require.Error(t, err)
	assert.Equal(t, model.ErrValidationFailure, model.KindOf(err))
}

type countingWriter struct {
	n     int64
	label string
	total int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

func TestDownload_ProgressAndChunks(t *testing.T) {
	body := fakePDF(20000)
	srv, _ := scripted(t, serve(body))
	cw := &countingWriter{}
	d := New(fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}), Options{
		ChunkSize: 512,
		Policy:    testPolicy(1),
		Progress: func(label string, total int64) io.Writer {
			cw.label, cw.total = label, total
			return cw
		},
	})

	res, err := d.Download(context.Background(), doc(srv.URL), filepath.Join(t.TempDir(), "202401_8272_A12.pdf"))
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), cw.n)
	assert.Equal(t, res.Bytes, cw.n)
	assert.Equal(t, "202401_8272_A12.pdf", cw.label)
	assert.Equal(t, int64(len(body)), cw.total)
}

func TestDownload_Cancelled(t *testing.T) {
	srv, calls := scripted(t, serve(fakePDF(2048)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newDownloader(3).Download(ctx, doc(srv.URL), filepath.Join(t.TempDir(), "a.pdf"))
	require.Error(t, err)
	assert.Equal(t, model.ErrCancelled, model.KindOf(err))
	assert.Zero(t, *calls)
}

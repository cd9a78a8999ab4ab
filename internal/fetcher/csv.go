package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// CSVOptions configures the streaming CSV reader.
type CSVOptions struct {
	Delimiter rune            // default ','
	HasHeader bool            // first row goes to HeaderCh instead of the row channel
	HeaderCh  chan<- []string // optional
	Comment   rune            // 0 = none
	// Encoding names the source charset (e.g. "big5"). Empty means UTF-8.
	Encoding string
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// StreamCSV reads r and sends each row, with fields trimmed, to the row
// channel. A leading UTF-8 byte order mark is dropped. Both channels close
// when reading ends; at most one error is sent.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		src, err := sourceReader(r, opts.Encoding)
		if err != nil {
			errCh <- err
			return
		}

		reader := csv.NewReader(src)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1

		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}

			var out chan<- []string = rowCh
			if first && opts.HasHeader {
				first = false
				if opts.HeaderCh == nil {
					continue
				}
				out = opts.HeaderCh
			}
			first = false

			select {
			case out <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

func sourceReader(r io.Reader, encoding string) (io.Reader, error) {
	if encoding != "" && !strings.EqualFold(encoding, "utf-8") && !strings.EqualFold(encoding, "utf8") {
		enc, err := htmlindex.Get(encoding)
		if err != nil {
			return nil, eris.Wrapf(err, "csv: unsupported encoding %q", encoding)
		}
		r = enc.NewDecoder().Reader(r)
	}

	br := bufio.NewReader(r)
	head, _ := br.Peek(len(utf8BOM))
	if bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br, nil
}

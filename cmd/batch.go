package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mops-cli/internal/config"
	"github.com/sells-group/mops-cli/internal/engine"
	"github.com/sells-group/mops-cli/internal/fetcher"
	"github.com/sells-group/mops-cli/internal/model"
)

var (
	batchCSV         string
	batchEncoding    string
	batchYear        int
	batchQuarter     string
	batchLimit       int
	batchStrict      bool
	batchOutput      string
	batchOnlyMissing bool
)

// Accepted header names for the stock list.
var (
	idColumns   = []string{"代號", "公司代號", "股票代號", "company_id", "code"}
	nameColumns = []string{"名稱", "公司名稱", "company_name", "name"}
)

type companyRow struct {
	ID   string
	Name string
}

// batchLine is one company's result in the batch summary.
type batchLine struct {
	Company companyRow
	Result  *model.SessionResult
	Err     error
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Download reports for every company in a stock list CSV",
	Long: `Reads a CSV with a code column (代號 or company_id) and an optional name column
(名稱 or company_name) and fetches each company in turn.

Examples:
  mops-cli batch --csv stocks.csv --year 2024
  mops-cli batch --csv stocks.csv --year 2024 --quarter 4 --limit 20 --only-missing`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate(config.ModeBatch); err != nil {
			return err
		}
		quarters, err := engine.ParseQuarters(batchQuarter)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		f, err := os.Open(batchCSV)
		if err != nil {
			return eris.Wrapf(err, "batch: open %s", batchCSV)
		}
		defer f.Close() //nolint:errcheck

		companies, err := readCompanies(ctx, f, batchEncoding, batchLimit)
		if err != nil {
			return err
		}

		s, err := newSession(ctx, cfg, runOptions{
			Strict:      batchStrict,
			OutputDir:   batchOutput,
			OnlyMissing: batchOnlyMissing,
		})
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		lines := runBatch(ctx, s.run, companies, batchYear, quarters)
		formatBatchSummary(cmd.OutOrStdout(), lines)
		return nil
	},
}

// readCompanies collects up to limit company rows from a stock list.
func readCompanies(ctx context.Context, r io.Reader, encoding string, limit int) ([]companyRow, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	headerCh := make(chan []string, 1)
	rows, errs := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		Encoding:  encoding,
	})

	idIdx, nameIdx := -1, -1
	var out []companyRow
	for row := range rows {
		if idIdx < 0 {
			header := <-headerCh
			idIdx, nameIdx = columnIndex(header, idColumns), columnIndex(header, nameColumns)
			if idIdx < 0 {
				return nil, model.Errorf(model.ErrValidation, "batch: csv has no company code column (want one of %s)", strings.Join(idColumns, ", "))
			}
		}
		if idIdx >= len(row) || row[idIdx] == "" {
			continue
		}
		c := companyRow{ID: row[idIdx]}
		if nameIdx >= 0 && nameIdx < len(row) {
			c.Name = row[nameIdx]
		}
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if limit > 0 && len(out) >= limit {
		return out, nil
	}
	if err := <-errs; err != nil {
		return nil, eris.Wrap(err, "batch: read csv")
	}
	return out, nil
}

func columnIndex(header, names []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, n := range names {
			if h == strings.ToLower(n) {
				return i
			}
		}
	}
	return -1
}

type runFunc func(ctx context.Context, req engine.Request) (*model.SessionResult, error)

// runBatch processes companies one after another. An invalid row is
// reported and skipped; cancellation stops the batch.
func runBatch(ctx context.Context, run runFunc, companies []companyRow, year int, quarters []int) []batchLine {
	log := zap.L().With(zap.String("component", "batch"))
	lines := make([]batchLine, 0, len(companies))
	for i, c := range companies {
		if ctx.Err() != nil {
			log.Warn("batch cancelled", zap.Int("remaining", len(companies)-i))
			break
		}
		log.Info("batch company", zap.Int("index", i+1), zap.Int("total", len(companies)),
			zap.String("company_id", c.ID), zap.String("name", c.Name))

		start := time.Now()
		res, err := run(ctx, engine.Request{CompanyID: c.ID, Year: year, Quarters: quarters})
		if err != nil {
			log.Warn("company skipped", zap.String("company_id", c.ID), zap.Error(err))
		} else {
			log.Info("company done", zap.String("company_id", c.ID),
				zap.Ints("downloaded", res.DownloadedQuarters), zap.Duration("elapsed", time.Since(start)))
		}
		lines = append(lines, batchLine{Company: c, Result: res, Err: err})
	}
	return lines
}

func formatBatchSummary(out io.Writer, lines []batchLine) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COMPANY\tNAME\tDOWNLOADED\tMISSING\tBYTES\tNOTE")
	var complete int
	for _, l := range lines {
		if l.Err != nil {
			_, _ = fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t%v\n", l.Company.ID, l.Company.Name, l.Err)
			continue
		}
		note := ""
		if l.Result.Success {
			complete++
		} else if len(l.Result.MissingQuarters) > 0 {
			note = l.Result.MissingQuarters[0].Reason
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%d\t%s\n", l.Company.ID, l.Company.Name,
			l.Result.DownloadedQuarters, l.Result.MissingNumbers(), l.Result.TotalBytes, note)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "%d/%d companies complete\n", complete, len(lines))
}

func init() {
	f := batchCmd.Flags()
	f.StringVar(&batchCSV, "csv", "", "stock list CSV (required)")
	f.StringVar(&batchEncoding, "encoding", "", "CSV charset, e.g. big5 (default utf-8)")
	f.IntVar(&batchYear, "year", time.Now().Year(), "Western calendar year")
	f.StringVar(&batchQuarter, "quarter", "all", "quarter: 1-4, a list such as 1,3, or all")
	f.IntVar(&batchLimit, "limit", 0, "max companies to process (0 = all)")
	f.BoolVar(&batchStrict, "strict", false, "accept only primary targets")
	f.StringVarP(&batchOutput, "output", "o", "", "download directory (default from config)")
	f.BoolVar(&batchOnlyMissing, "only-missing", false, "skip quarters whose file already exists")
	_ = batchCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(batchCmd)
}

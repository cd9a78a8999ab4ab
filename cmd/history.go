package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/mops-cli/internal/config"
	"github.com/sells-group/mops-cli/internal/model"
	"github.com/sells-group/mops-cli/internal/store"
)

var (
	historyCompany string
	historyYear    int
	historyLimit   int
	historyJSON    bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past download sessions from the ledger",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate(config.ModeHistory); err != nil {
			return err
		}
		ctx := cmd.Context()

		l, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer l.Close() //nolint:errcheck

		sessions, err := l.ListSessions(ctx, store.SessionFilter{
			CompanyID: historyCompany,
			Year:      historyYear,
			Limit:     historyLimit,
		})
		if err != nil {
			return eris.Wrap(err, "history")
		}

		if historyJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sessions)
		}
		if len(sessions) == 0 {
			fmt.Fprintln(os.Stderr, "No sessions found.")
			return nil
		}
		formatSessionList(cmd.OutOrStdout(), sessions)
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the per-quarter outcomes of one session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(config.ModeHistory); err != nil {
			return err
		}
		ctx := cmd.Context()

		l, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer l.Close() //nolint:errcheck

		res, err := l.GetSession(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "history show")
		}
		outcomes, err := l.Outcomes(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "history show")
		}
		formatOutcomes(cmd.OutOrStdout(), res, outcomes)
		return nil
	},
}

// formatSessionList writes a tabular list of sessions to out.
func formatSessionList(out io.Writer, sessions []model.SessionResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SESSION\tCOMPANY\tYEAR\tSTRICT\tDOWNLOADED\tMISSING\tBYTES\tSTARTED\tDURATION")
	for _, s := range sessions {
		id := s.SessionID
		if len(id) > 8 {
			id = id[:8]
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%v\t%v\t%d\t%s\t%s\n",
			id, s.CompanyID, s.Year, s.StrictMode, s.DownloadedQuarters, s.MissingNumbers(), s.TotalBytes,
			s.StartedAt.Format("2006-01-02 15:04"), s.FinishedAt.Sub(s.StartedAt).Round(time.Second))
	}
	_ = w.Flush()
}

func formatOutcomes(out io.Writer, res *model.SessionResult, outcomes []model.DownloadOutcome) {
	_, _ = fmt.Fprintf(out, "Session %s  company %s  year %d  rules %s\n", res.SessionID, res.CompanyID, res.Year, res.RuleVersion)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "QUARTER\tSTATE\tTIER\tRETRIES\tBYTES\tDETAIL")
	for _, o := range outcomes {
		detail := o.FilePath
		if !o.Success {
			detail = o.Reason
			if o.ErrorKind != "" {
				detail = "[" + string(o.ErrorKind) + "] " + detail
			}
		}
		_, _ = fmt.Fprintf(w, "Q%d\t%s\t%s\t%d\t%d\t%s\n", o.Quarter, o.State, o.Tier, o.RetryCount, o.Bytes, detail)
	}
	_ = w.Flush()
}

func init() {
	f := historyCmd.Flags()
	f.StringVar(&historyCompany, "company", "", "filter by stock code")
	f.IntVar(&historyYear, "year", 0, "filter by year")
	f.IntVar(&historyLimit, "limit", 20, "max sessions to list")
	f.BoolVar(&historyJSON, "json", false, "print full session results as JSON")
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

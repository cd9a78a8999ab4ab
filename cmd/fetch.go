package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/mops-cli/internal/config"
	"github.com/sells-group/mops-cli/internal/engine"
)

var (
	fetchCompany     string
	fetchYear        int
	fetchQuarter     string
	fetchStrict      bool
	fetchOutput      string
	fetchOnlyMissing bool
	fetchProgress    bool
	fetchRules       string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the individual financial reports of one company for one year",
	Long: `Fetches the portal listing for each requested quarter, selects the standalone
(individual) IFRS report, resolves its PDF and downloads it.

Examples:
  mops-cli fetch --company 2330 --year 2024
  mops-cli fetch --company 8272 --year 2024 --quarter 1 --strict
  mops-cli fetch --company 2330 --year 2023 --quarter 1,3 --only-missing --progress`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate(config.ModeFetch); err != nil {
			return err
		}
		quarters, err := engine.ParseQuarters(fetchQuarter)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts := runOptions{
			Strict:      fetchStrict,
			OutputDir:   fetchOutput,
			OnlyMissing: fetchOnlyMissing,
			RulesFile:   fetchRules,
		}
		if fetchProgress {
			opts.Progress = progressBars(os.Stderr)
		}

		s, err := newSession(ctx, cfg, opts)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		res, err := s.run(ctx, engine.Request{CompanyID: fetchCompany, Year: fetchYear, Quarters: quarters})
		if err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), res)
		return nil
	},
}

func init() {
	f := fetchCmd.Flags()
	f.StringVar(&fetchCompany, "company", "", "4-digit stock code (required)")
	f.IntVar(&fetchYear, "year", time.Now().Year(), "Western calendar year")
	f.StringVar(&fetchQuarter, "quarter", "all", "quarter: 1-4, a list such as 1,3, or all")
	f.BoolVar(&fetchStrict, "strict", false, "accept only primary targets (disable flexible matches)")
	f.StringVarP(&fetchOutput, "output", "o", "", "download directory (default from config)")
	f.BoolVar(&fetchOnlyMissing, "only-missing", false, "skip quarters whose file already exists")
	f.BoolVar(&fetchProgress, "progress", false, "show a progress bar per download")
	f.StringVar(&fetchRules, "rules", "", "YAML rule table overriding the configured one")
	_ = fetchCmd.MarkFlagRequired("company")
	rootCmd.AddCommand(fetchCmd)
}

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/mops-cli/internal/config"
	"github.com/sells-group/mops-cli/internal/rules"
)

var (
	rulesFile string
	rulesYAML bool
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Print the effective classification rule table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c := runOptions{RulesFile: rulesFile}.applyTo(cfg)
		if err := c.Validate(config.ModeRules); err != nil {
			return err
		}
		tbl, err := c.RuleTable()
		if err != nil {
			return err
		}
		if rulesYAML {
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(tbl.Spec())
		}
		formatRules(cmd.OutOrStdout(), tbl, c.StrictMode)
		return nil
	},
}

func formatRules(out io.Writer, tbl *rules.Table, strict bool) {
	spec := tbl.Spec()
	_, _ = fmt.Fprintf(out, "version: %s\n", spec.Version)
	_, _ = fmt.Fprintf(out, "strict mode: %t\n", strict)
	section := func(name string, items []string) {
		if len(items) == 0 {
			items = []string{"(none)"}
		}
		_, _ = fmt.Fprintf(out, "%s:\n  %s\n", name, strings.Join(items, "\n  "))
	}
	section("exclude keywords", spec.ExcludeKeywords)
	section("exclude patterns", spec.ExcludePatterns)
	section("primary keywords", spec.PrimaryKeywords)
	section("primary filename patterns", spec.FilenamePatterns)
	flexible := spec.FlexibleKeywords
	if strict {
		_, _ = fmt.Fprintln(out, "flexible keywords (disabled by strict mode):")
	} else {
		_, _ = fmt.Fprintln(out, "flexible keywords:")
	}
	if len(flexible) == 0 {
		flexible = []string{"(none)"}
	}
	_, _ = fmt.Fprintf(out, "  %s\n", strings.Join(flexible, "\n  "))
}

func init() {
	rulesCmd.Flags().StringVar(&rulesFile, "rules", "", "YAML rule table to inspect instead of the configured one")
	rulesCmd.Flags().BoolVar(&rulesYAML, "yaml", false, "print the table as YAML")
	rootCmd.AddCommand(rulesCmd)
}

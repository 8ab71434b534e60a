package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config-dir>",
		Short: "Validate CUE domain configurations",
		Long: `Validate CUE domain configurations without producing output.

Every domain is compiled and checked; all findings are reported, not
just the first.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

type validationSummary struct {
	DomainCount int      `json:"domain_count"`
	FieldCount  int      `json:"field_count"`
	Domains     []string `json:"domains"`
}

func runValidate(opts *RootOptions, configDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := LoadDomains(configDir, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputCommandError(formatter, loadErr.Code, loadErr.Message)
		}
		return outputCommandError(formatter, ErrCodeGeneric, loadErrors[0].Error())
	}

	if len(loadErrors) > 0 {
		return outputLoadErrors(formatter, loadErrors)
	}

	summary := validationSummary{DomainCount: len(loadResult.Domains)}
	for _, d := range loadResult.Domains {
		summary.FieldCount += len(d.Fields)
		summary.Domains = append(summary.Domains, d.DomainID)
	}

	if formatter.Format == "json" {
		return formatter.Success(summary)
	}

	fmt.Fprintf(formatter.Writer, "✓ %d domain(s) valid (%d field definitions)\n",
		summary.DomainCount, summary.FieldCount)
	for _, id := range summary.Domains {
		fmt.Fprintf(formatter.Writer, "  %s\n", id)
	}
	return nil
}

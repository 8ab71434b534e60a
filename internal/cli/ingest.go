package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lumehq/reflex/internal/model"
	"github.com/lumehq/reflex/internal/store"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Database string
}

type ingestResult struct {
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <event.json>",
		Short: "Journal an imported event",
		Long: `Journal an imported event into the store.

The event id is derived from the event content, so re-ingesting the
same file is a no-op. A running engine picks journaled events up on its
next recovery pass.

Example:
  reflex ingest --db ./reflex.db ./events/case-created.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runIngest(opts *IngestOptions, eventPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	data, err := os.ReadFile(eventPath)
	if err != nil {
		return outputCommandError(formatter, ErrCodeNotFound, fmt.Sprintf("reading event file: %v", err))
	}

	var ev model.ImportedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return outputCommandError(formatter, ErrCodeGeneric, fmt.Sprintf("parsing event: %v", err))
	}
	if ev.TenantID == "" || ev.Source == "" {
		return outputCommandError(formatter, ErrCodeGeneric, "event requires tenant_id and source")
	}

	id, err := model.EventID(ev)
	if err != nil {
		return outputCommandError(formatter, ErrCodeGeneric, fmt.Sprintf("computing event id: %v", err))
	}
	ev.ID = id

	st, err := store.Open(opts.Database)
	if err != nil {
		return outputCommandError(formatter, ErrCodeNotFound, fmt.Sprintf("opening database: %v", err))
	}
	defer st.Close()

	inserted, err := st.InsertEvent(cmd.Context(), &ev)
	if err != nil {
		return WrapExitError(ExitFailure, "journaling event", err)
	}

	result := ingestResult{EventID: id, Duplicate: !inserted}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	if result.Duplicate {
		fmt.Fprintf(formatter.Writer, "Event %s already journaled\n", id)
	} else {
		fmt.Fprintf(formatter.Writer, "Journaled event %s\n", id)
	}
	return nil
}

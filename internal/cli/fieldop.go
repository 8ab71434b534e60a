package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lumehq/reflex/internal/model"
	"github.com/lumehq/reflex/internal/store"
)

// FieldOpOptions holds flags for the fieldop command.
type FieldOpOptions struct {
	*RootOptions
	Database string
}

type fieldOpResult struct {
	OperationID string `json:"operation_id"`
	Duplicate   bool   `json:"duplicate"`
}

// NewFieldOpCommand creates the fieldop command.
func NewFieldOpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FieldOpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fieldop <operation.json>",
		Short: "Journal a field-definition operation",
		Long: `Journal a field-definition operation (CREATE, UPDATE, DELETE)
into the store.

The operation id is derived from the operation content, so re-running
the same file is a no-op. A running engine picks journaled operations
up on its next recovery pass.

Example:
  reflex fieldop --db ./reflex.db ./ops/add-priority.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFieldOp(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runFieldOp(opts *FieldOpOptions, opPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	data, err := os.ReadFile(opPath)
	if err != nil {
		return outputCommandError(formatter, ErrCodeNotFound, fmt.Sprintf("reading operation file: %v", err))
	}

	var op model.FieldOperation
	if err := json.Unmarshal(data, &op); err != nil {
		return outputCommandError(formatter, ErrCodeGeneric, fmt.Sprintf("parsing operation: %v", err))
	}
	if !op.Type.Known() {
		return outputCommandError(formatter, ErrCodeGeneric, fmt.Sprintf("unknown operation type %q", op.Type))
	}
	if op.TenantID == "" || op.DomainID == "" {
		return outputCommandError(formatter, ErrCodeGeneric, "operation requires tenant_id and domain_id")
	}

	id, err := model.FieldOperationID(op)
	if err != nil {
		return outputCommandError(formatter, ErrCodeGeneric, fmt.Sprintf("computing operation id: %v", err))
	}
	op.ID = id

	st, err := store.Open(opts.Database)
	if err != nil {
		return outputCommandError(formatter, ErrCodeNotFound, fmt.Sprintf("opening database: %v", err))
	}
	defer st.Close()

	inserted, err := st.InsertFieldOperation(cmd.Context(), &op)
	if err != nil {
		return WrapExitError(ExitFailure, "journaling operation", err)
	}

	result := fieldOpResult{OperationID: id, Duplicate: !inserted}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	if result.Duplicate {
		fmt.Fprintf(formatter.Writer, "Operation %s already journaled\n", id)
	} else {
		fmt.Fprintf(formatter.Writer, "Journaled operation %s (%s %s)\n", id, op.Type, op.Field.ID)
	}
	return nil
}

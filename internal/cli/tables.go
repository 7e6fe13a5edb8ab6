package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/aoserv/pkg/aoserv"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// validTableNames lists the standard table names for error messages.
func validTableNames() string {
	names := make([]string, len(types.StandardTables))
	for i, id := range types.StandardTables {
		names[i] = id.String()
	}
	return strings.Join(names, ", ")
}

// withTable attaches a client, looks up name and runs fn.
func (a *app) withTable(ctx context.Context, name string, fn func(types.Table) error) error {
	cfg, err := a.clientConfig()
	if err != nil {
		return sysError("%w", err)
	}
	client := aoserv.New(aoserv.WithLogger(a.logger))
	if err := client.Attach(ctx, cfg); err != nil {
		return classify(fmt.Errorf("attach: %w", err))
	}
	defer client.Detach()

	table, err := client.GetTable(name)
	if err != nil {
		if errors.Is(err, types.ErrTableNotFound) {
			return userError("unknown table %q (valid: %s)", name, validTableNames())
		}
		return classify(err)
	}
	return fn(table)
}

func (a *app) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <table> [column=value...]",
		Short: "List the rows of a table",
		Long: `List prints every row of a table whose columns equal all the given values.

Example:
  aoserv list linux.servers
  aoserv list email.addresses domain=3
  aoserv list backup.partitions ao_server=1 enabled=true --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make(map[string]any)
			for _, arg := range args[1:] {
				column, value, ok := strings.Cut(arg, "=")
				if !ok || column == "" {
					return userError("invalid filter %q (expected column=value)", arg)
				}
				filter[column] = value
			}
			return a.withTable(cmd.Context(), args[0], func(t types.Table) error {
				rows, err := t.Fetch(cmd.Context(), filter)
				if err != nil {
					return classify(err)
				}
				if a.flags.jsonMode {
					return writeJSON(cmd.OutOrStdout(), rows)
				}
				if err := writeRows(cmd.OutOrStdout(), t.Columns(), rows); err != nil {
					return sysError("%w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Total: %s row(s)\n", humanize.Comma(int64(len(rows))))
				return nil
			})
		},
	}
}

func (a *app) newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <table> <key>",
		Short: "Print one row by key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withTable(cmd.Context(), args[0], func(t types.Table) error {
				row, err := t.GetKey(cmd.Context(), args[1])
				if err != nil {
					if errors.Is(err, types.ErrNotFound) {
						return userError("row %q not found in table %q", args[1], args[0])
					}
					return classify(err)
				}
				return writeJSON(cmd.OutOrStdout(), row)
			})
		},
	}
}

func (a *app) newRemoveCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "remove <table> <key>",
		Short: "Remove one row by key",
		Long: `Remove deletes a row. The master refuses while other rows refer to it and
lists every such row. With --check nothing is removed; the blocking rows are
listed instead.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withTable(cmd.Context(), args[0], func(t types.Table) error {
				out := cmd.OutOrStdout()
				if check {
					reasons, err := t.CheckRemoveKey(cmd.Context(), args[1])
					if err != nil {
						return classify(err)
					}
					if len(reasons) == 0 {
						fmt.Fprintf(out, "%s %s can be removed\n", args[0], args[1])
						return nil
					}
					writeReasons(out, reasons)
					return userError("%s %s cannot be removed", args[0], args[1])
				}

				err := t.RemoveKey(cmd.Context(), args[1])
				var blocked *types.CannotRemoveError
				if errors.As(err, &blocked) {
					writeReasons(out, blocked.Reasons)
					return userError("%s %s cannot be removed", args[0], args[1])
				}
				if err != nil {
					return classify(err)
				}
				fmt.Fprintf(out, "Removed %s %s\n", args[0], args[1])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "only list what blocks the removal")
	return cmd
}

func writeReasons(w io.Writer, reasons []types.CannotRemoveReason) {
	fmt.Fprintf(w, "Blocked by %s row(s):\n", humanize.Comma(int64(len(reasons))))
	for _, r := range reasons {
		fmt.Fprintf(w, "  %s\n", r)
	}
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return sysError("marshal: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// writeRows prints rows as a table with one column per stored column.
func writeRows(w io.Writer, columns []string, rows []any) error {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.ToUpper(strings.Join(columns, "\t")))
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var fields map[string]any
		if err := dec.Decode(&fields); err != nil {
			return err
		}
		cells := make([]string, len(columns))
		for i, col := range columns {
			switch v := fields[col].(type) {
			case nil:
				cells[i] = "-"
			case string:
				cells[i] = v
			default:
				cells[i] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
	return nil
}

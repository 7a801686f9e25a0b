package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/prism/internal/core"
)

type parseFlags struct {
	rows      int
	asJSON    bool
	sample    int
	maxSizeMB int
}

func newParseCmd() *cobra.Command {
	var f parseFlags

	cmd := &cobra.Command{
		Use:   "parse FILE",
		Short: "Parse a .csv, .json or .txt file and show its columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := parseFile(cmd, args[0], f)
			if err != nil {
				return fmt.Errorf("%s: %s", filepath.Base(args[0]), core.FormatUserError(err))
			}
			if f.asJSON {
				return writeDatasetJSON(cmd.OutOrStdout(), ds, f.rows)
			}
			renderDataset(cmd.OutOrStdout(), filepath.Base(args[0]), ds, f.rows)
			return nil
		},
	}

	cmd.Flags().IntVarP(&f.rows, "rows", "n", 10, "rows to preview (0 for none, -1 for all)")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the parsed dataset as JSON")
	cmd.Flags().IntVar(&f.sample, "sample", 10, "rows used for column type inference")
	cmd.Flags().IntVar(&f.maxSizeMB, "max-size-mb", core.DefaultMaxFileSizeMB, "reject files larger than this")

	return cmd
}

func parseFile(cmd *cobra.Command, path string, f parseFlags) (*core.ParsedDataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var size int64
	if st, err := file.Stat(); err == nil {
		size = st.Size()
	}

	p := core.NewParser(f.maxSizeMB, f.sample)
	return p.ParseTimed(cmd.Context(), core.File{Name: path, Size: size, Reader: file})
}

func previewRows(rows []core.ParsedRow, n int) []core.ParsedRow {
	if n < 0 || n >= len(rows) {
		return rows
	}
	return rows[:n]
}

// renderDataset prints the summary, column and preview tables.
func renderDataset(w io.Writer, name string, ds *core.ParsedDataset, n int) {
	fmt.Fprintf(w, "%s: %d rows, %d columns, %.3f MB, parsed in %.1f ms\n\n",
		name, ds.Summary.RowCount, ds.Summary.ColumnCount, ds.Summary.MemoryUsageMB, ds.Summary.ProcessingTimeMs)

	cols := newTable(w)
	cols.AppendHeader(table.Row{"#", "column", "type", "nullable"})
	for i, c := range ds.Columns {
		cols.AppendRow(table.Row{i + 1, c.Name, c.Type, c.Nullable})
	}
	cols.Render()

	if rows := previewRows(ds.Rows, n); len(rows) > 0 {
		fmt.Fprintln(w)
		header := table.Row{""}
		for _, c := range ds.Columns {
			header = append(header, c.Name)
		}
		preview := newTable(w)
		preview.AppendHeader(header)
		for i, r := range rows {
			line := table.Row{i + 1}
			for _, c := range ds.Columns {
				v, _ := r.Get(c.Name)
				line = append(line, v)
			}
			preview.AppendRow(line)
		}
		preview.Render()
	}

	if len(ds.Errors) > 0 {
		fmt.Fprintln(w)
		for _, e := range ds.Errors {
			fmt.Fprintf(w, "warning: %s\n", e)
		}
	}
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format = table.FormatOptions{
		Footer: text.FormatDefault,
		Header: text.FormatDefault,
		Row:    text.FormatDefault,
	}
	t.Style().Options.DrawBorder = false
	t.SuppressTrailingSpaces()
	return t
}

func writeDatasetJSON(w io.Writer, ds *core.ParsedDataset, n int) error {
	out := *ds
	out.Rows = previewRows(ds.Rows, n)
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvimport/internal/core"
)

func newHeaderCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "header FILE",
		Short: "Print the column names of a CSV file",
		Long: `Print the column names found on the first line of FILE.

With --no-header the first line is treated as data and the synthesized
names Column1..ColumnN are printed instead. No database is needed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := root.dialect(cmd)
			if err != nil {
				return err
			}
			header, err := readHeader(args[0], d, root.cfg.Import.MaxFileSize)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(root.stdout, header)
			}
			for i, name := range header {
				fmt.Fprintf(root.stdout, "%d\t%s\n", i+1, name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// readHeader reads the header of path without a database connection.
func readHeader(path string, d core.Dialect, maxSize int64) (core.Header, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &core.FileAccessError{Path: path, Err: err}
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, &core.FileAccessError{Path: path, Err: core.ErrFileTooLarge}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &core.FileAccessError{Path: path, Err: err}
	}
	defer f.Close()

	header, _, err := core.NewReader(core.NewDecoder(f, d.Encoding()), d).ReadHeader()
	return header, err
}

func newPreviewCmd(root *rootOptions) *cobra.Command {
	var (
		table  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "preview FILE",
		Short: "Show the first rows of a CSV file mapped onto a table",
		Long: `Show the header, the default column mapping against --table and the
first IMPORT_PREVIEW_ROWS rows of FILE. Nothing is written to the database.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := root.dialect(cmd)
			if err != nil {
				return err
			}
			svc, target, err := root.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer target.Close()

			preview, err := svc.LoadPreview(cmd.Context(), args[0], d, table)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(root.stdout, preview)
			}
			printPreview(root.stdout, preview)
			for _, w := range preview.Warnings {
				fmt.Fprintln(root.stderr, "warning:", w)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&table, "table", "t", "", "target table (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

// printPreview renders the header, the mapping line and the rows as aligned
// columns. Skipped source columns show "-" in the mapping line.
func printPreview(w io.Writer, p *core.Preview) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(p.Header, "\t"))
	targets := make([]string, len(p.Mapping))
	for i, m := range p.Mapping {
		targets[i] = "-> " + m
		if m == "" {
			targets[i] = "-"
		}
	}
	fmt.Fprintln(tw, strings.Join(targets, "\t"))
	for _, row := range p.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

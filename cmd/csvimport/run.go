package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/JonMunkholm/csvimport/internal/core"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		table   string
		mapFlag string
		dryRun  bool
		quiet   bool
	)

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Import a CSV file into a table",
		Long: `Import every row of FILE into --table as one atomic unit.

All rows are inserted inside a save-point; if any row fails, or the import
is interrupted, the table is left exactly as it was. Progress is written to
stderr.

By default source columns map to table columns by position. --map names the
target column for each source column in order; an empty entry or "-" skips
that column:

  csvimport run people.csv --table people --map id,-,last_name`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := root.dialect(cmd)
			if err != nil {
				return err
			}
			var mapping core.Mapping
			if cmd.Flags().Changed("map") {
				mapping = parseMapping(mapFlag)
			}

			svc, target, err := root.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer target.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), svc.ImportTimeout())
			defer cancel()

			if dryRun {
				return printPlan(ctx, root.stdout, svc, args[0], d, table, mapping)
			}

			req := core.Request{Path: args[0], Table: table, Dialect: d, Mapping: mapping}

			var (
				progress chan core.Progress
				rendered chan struct{}
			)
			if !quiet {
				progress = make(chan core.Progress)
				rendered = make(chan struct{})
				go func() {
					defer close(rendered)
					renderProgress(root.stderr, table, progress)
				}()
			}

			result, err := svc.Import(ctx, req, progress)
			if progress != nil {
				close(progress)
				<-rendered
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(root.stdout, "imported %d row(s) into %s in %s",
				result.Executed, table, result.Duration.Round(time.Millisecond))
			if result.Discarded > 0 {
				fmt.Fprintf(root.stdout, " (%d malformed row(s) skipped)", result.Discarded)
			}
			fmt.Fprintln(root.stdout)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&table, "table", "t", "", "target table (required)")
	f.StringVar(&mapFlag, "map", "", "comma-separated target column per source column")
	f.BoolVar(&dryRun, "dry-run", false, "print the generated statements instead of executing them")
	f.BoolVarP(&quiet, "quiet", "q", false, "do not report progress")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

// parseMapping splits a --map value. "" and "-" skip a column.
func parseMapping(s string) core.Mapping {
	parts := strings.Split(s, ",")
	m := make(core.Mapping, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p != "-" {
			m[i] = p
		}
	}
	return m
}

// printPlan writes the statements an import would execute.
func printPlan(ctx context.Context, w io.Writer, svc *core.Service, path string, d core.Dialect, table string, mapping core.Mapping) error {
	src, err := svc.LoadSource(ctx, path, d)
	if err != nil {
		return err
	}

	if mapping == nil {
		cols, err := svc.TableColumns(ctx, table)
		if err != nil {
			return err
		}
		mapping = core.Reconcile(src.Header, cols).Mapping
	} else if len(mapping) != len(src.Header) {
		return &core.SchemaMismatchError{Table: table, Source: len(src.Header), Target: len(mapping)}
	}

	plan, err := core.BuildPlan(table, mapping, src.Rows)
	if err != nil {
		return err
	}
	for _, stmt := range plan.Statements {
		fmt.Fprintln(w, stmt.SQL)
	}
	return nil
}

// renderProgress draws a progress bar on terminals and plain lines
// elsewhere. It returns when ch is closed.
func renderProgress(w io.Writer, table string, ch <-chan core.Progress) {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		renderBar(f, table, ch)
		return
	}
	renderLines(w, table, ch)
}

func renderBar(w io.Writer, table string, ch <-chan core.Progress) {
	p := mpb.New(mpb.WithOutput(w), mpb.WithWidth(40))
	bar := p.AddBar(0,
		mpb.PrependDecorators(
			decor.Name(table, decor.WCSyncSpaceR),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)

	finished := false
	for ev := range ch {
		if finished {
			continue
		}
		if ev.Total > 0 {
			bar.SetTotal(int64(ev.Total), false)
		}
		bar.SetCurrent(int64(ev.Statement))
		if ev.Done {
			finished = true
			if ev.Success {
				bar.SetTotal(-1, true)
			} else {
				bar.Abort(false)
			}
		}
	}
	if !finished {
		bar.Abort(false)
	}
	p.Wait()
}

func renderLines(w io.Writer, table string, ch <-chan core.Progress) {
	last := -2
	for ev := range ch {
		switch {
		case ev.Done && ev.Success:
			fmt.Fprintf(w, "%s: committed %d/%d\n", table, ev.Statement, ev.Total)
		case ev.Done:
			fmt.Fprintf(w, "%s: rolled back after %d statement(s): %s\n", table, ev.Statement, ev.Error)
		case ev.Percent != last:
			fmt.Fprintf(w, "%s: %3d%% (%d/%d)\n", table, ev.Percent, ev.Statement, ev.Total)
		}
		last = ev.Percent
	}
}

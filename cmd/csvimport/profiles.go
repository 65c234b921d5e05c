package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvimport/internal/config"
)

func newProfilesCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List or export dialect profiles",
	}
	cmd.AddCommand(newProfilesListCmd(root), newProfilesExportCmd(root))
	return cmd
}

func newProfilesListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the profiles from --profiles and the environment default",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(root.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSEPARATOR\tLINES\tENCLOSURE\tESCAPE\tNULL\tENCODING\tHEADER")

			list := append([]config.Profile{root.cfg.Import.DefaultProfile()}, root.profiles.List()...)
			for _, p := range list {
				header := "YES"
				if p.HeaderOnTop != nil && !*p.HeaderOnTop {
					header = "NO"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					p.Name, show(p.Separator), show(p.LineTerminator), show(p.Enclosure),
					show(p.Escape), show(p.NullKeyword), show(p.Encoding), header)
			}
			return tw.Flush()
		},
	}
}

func newProfilesExportCmd(root *rootOptions) *cobra.Command {
	var withDefault bool

	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "Write the loaded profiles to an HCL file",
		Long: `Write the loaded profiles to FILE in HCL. With --with-default the dialect
configured through CSV_* variables and flags is added as profile "default",
which turns the current settings into a reusable file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := make(config.Profiles, len(root.profiles)+1)
			for name, p := range root.profiles {
				out[name] = p
			}
			if withDefault {
				d, err := root.dialect(cmd)
				if err != nil {
					return err
				}
				opts := d.Options()
				out["default"] = config.Profile{
					Name:           "default",
					Separator:      opts.Separator,
					LineTerminator: opts.LineTerminator,
					Enclosure:      opts.Enclosure,
					Escape:         opts.Escape,
					NullKeyword:    opts.NullKeyword,
					Encoding:       opts.Encoding,
					HeaderOnTop:    opts.HeaderOnTop,
				}
			}

			if err := config.ExportProfiles(args[0], out); err != nil {
				return err
			}
			fmt.Fprintf(root.stdout, "wrote %d profile(s) to %s\n", len(out), args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&withDefault, "with-default", false, "include the current dialect as profile \"default\"")
	return cmd
}

func show(s string) string {
	switch s {
	case "":
		return "-"
	case "\t":
		return "TAB"
	}
	return s
}

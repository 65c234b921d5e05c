// Command csvimport loads CSV files into database tables from the shell.
//
// Configuration comes from the same environment variables as the server
// (DB_DRIVER, DATABASE_URL, CSV_*, IMPORT_*), optionally read from .env, and
// can be overridden with flags:
//
//	csvimport header data.csv --separator ';'
//	csvimport preview data.csv --table people
//	csvimport run data.csv --table people --profile excel
//	csvimport profiles list
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
	"github.com/JonMunkholm/csvimport/internal/logging"
	"github.com/JonMunkholm/csvimport/internal/store"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
	exitFatal   = 3 // rollback failed, target state unknown
)

// codeError attaches a process exit code to an error.
type codeError struct {
	code int
	err  error
}

func (e *codeError) Error() string { return e.err.Error() }
func (e *codeError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &codeError{code: code, err: err}
}

func exitCode(err error) int {
	var ce *codeError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ce):
		return ce.code
	case core.IsFatal(err):
		return exitFatal
	default:
		return exitFailure
	}
}

func main() {
	// Variables already set in the environment win over .env.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()

	if err != nil {
		reportError(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}

// reportError prints the technical error and, for engine errors, the
// user-facing message with its support code.
func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "csvimport: %v\n", err)
	if core.IsUserFacing(err) {
		fmt.Fprintln(w, core.FormatUserError(err))
	}
}

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	stdout io.Writer
	stderr io.Writer

	driver       string
	dbURL        string
	profilesPath string
	profile      string
	logLevel     string
	logFormat    string

	separator      string
	lineTerminator string
	enclosure      string
	escape         string
	nullKeyword    string
	encoding       string
	noHeader       bool

	cfg      *config.Config
	profiles config.Profiles
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:           "csvimport",
		Short:         "Import CSV files into database tables",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.driver, "driver", "", "database driver: sqlite, postgres, mysql, sqlserver, libsql (env DB_DRIVER)")
	f.StringVar(&opts.dbURL, "db", "", "database connection string (env DATABASE_URL)")
	f.StringVar(&opts.profilesPath, "profiles", "", "HCL file of dialect profiles (env IMPORT_PROFILES)")
	f.StringVarP(&opts.profile, "profile", "p", "", "named dialect profile to use")
	f.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (env LOG_LEVEL)")
	f.StringVar(&opts.logFormat, "log-format", "", "log format: text or json (env LOG_FORMAT)")

	f.StringVar(&opts.separator, "separator", "", "field separator: , ; : | or TAB")
	f.StringVar(&opts.lineTerminator, "line-terminator", "", "line terminator: LF, CR or CRLF")
	f.StringVar(&opts.enclosure, "enclosure", "", "field enclosure character")
	f.StringVar(&opts.escape, "escape", "", "escape character inside enclosed fields")
	f.StringVar(&opts.nullKeyword, "null-keyword", "", "treat unquoted NULL as SQL NULL: YES or NO")
	f.StringVar(&opts.encoding, "encoding", "", "file encoding: UTF-8 or UTF-16")
	f.BoolVar(&opts.noHeader, "no-header", false, "the first line is data; columns are named Column1..N")

	cmd.AddCommand(
		newHeaderCmd(opts),
		newPreviewCmd(opts),
		newRunCmd(opts),
		newProfilesCmd(opts),
	)
	return cmd
}

// setup loads configuration and profiles and configures logging. Database
// settings are validated only by commands that connect.
func (o *rootOptions) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadEnv()
	if err != nil {
		return withCode(exitUsage, err)
	}

	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Database.Driver = o.driver
	}
	if flags.Changed("db") {
		cfg.Database.URL = o.dbURL
	}
	if flags.Changed("profiles") {
		cfg.Import.ProfilesPath = o.profilesPath
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = o.logFormat
	}
	o.cfg = cfg

	slog.SetDefault(logging.New(o.stderr, cfg.Logging.Level, cfg.Logging.Format))

	profiles, err := config.LoadProfiles(cfg.Import.ProfilesPath)
	if err != nil {
		return withCode(exitUsage, err)
	}
	o.profiles = profiles
	return nil
}

// dialect resolves the dialect: the named profile (or the environment
// default) with any dialect flags layered on top.
func (o *rootOptions) dialect(cmd *cobra.Command) (core.Dialect, error) {
	p := o.cfg.Import.DefaultProfile()
	if o.profile != "" {
		named, ok := o.profiles.Get(o.profile)
		if !ok {
			return core.Dialect{}, withCode(exitUsage, fmt.Errorf("unknown profile %q", o.profile))
		}
		p = named
	}

	flags := cmd.Flags()
	overrides := []struct {
		flag  string
		value string
		field *string
	}{
		{"separator", o.separator, &p.Separator},
		{"line-terminator", o.lineTerminator, &p.LineTerminator},
		{"enclosure", o.enclosure, &p.Enclosure},
		{"escape", o.escape, &p.Escape},
		{"null-keyword", o.nullKeyword, &p.NullKeyword},
		{"encoding", o.encoding, &p.Encoding},
	}
	for _, ov := range overrides {
		if flags.Changed(ov.flag) {
			*ov.field = ov.value
		}
	}
	if flags.Changed("no-header") {
		header := !o.noHeader
		p.HeaderOnTop = &header
	}

	d, err := core.DialectFromProfile(p)
	if err != nil {
		return core.Dialect{}, withCode(exitUsage, err)
	}
	return d, nil
}

// openService validates the database settings, connects and builds the
// import service. The caller closes the returned target.
func (o *rootOptions) openService(ctx context.Context) (*core.Service, store.Target, error) {
	if err := o.cfg.Validate(); err != nil {
		return nil, nil, withCode(exitUsage, err)
	}

	target, err := store.Open(ctx, o.cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	svc, err := core.NewService(target, o.cfg)
	if err != nil {
		target.Close()
		return nil, nil, err
	}
	slog.Debug("connected to database", "driver", target.Driver())
	return svc, target, nil
}

/*
main.go - Command line runner for the payroll pipeline

PURPOSE:
  Runs a preview or a process against local files, without the server or
  a database. Useful for checking a week's exports before uploading them.

USAGE:
  payrollctl preview --time week.csv --roster roster.csv
  payrollctl process --time a.xlsx --time b.csv --roster roster.xlsx \
      --bonus bonus.csv --loans loans.xlsx \
      --template cash=Cash.xlsx --out ./out

  Settings come from --settings (yaml/json) plus PAYROLL_ environment
  overrides. Without --settings the built-in defaults are used.

OUTPUT:
  The secretary message is printed unless --json is set, in which case the
  full summary is printed as JSON. Process writes the filled workbooks to
  --out.
*/
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/logging"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/pipeline"
	"github.com/warp/payroll-engine/sheet"
)

type options struct {
	time      []string
	roster    string
	bonus     string
	loans     string
	settings  string
	templates []string
	layouts   []string
	overrides string
	out       string
	json      bool
	verbose   bool
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "payrollctl",
		Short:         "Reconcile a week of timesheets into payroll workbooks",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.StringArrayVar(&opts.time, "time", nil, "timesheet file (csv, xlsx or xls); repeatable")
	pf.StringVar(&opts.roster, "roster", "", "roster file (csv or xlsx)")
	pf.StringVar(&opts.bonus, "bonus", "", "bonus sheet")
	pf.StringVar(&opts.loans, "loans", "", "loans sheet")
	pf.StringVar(&opts.settings, "settings", "", "settings file (yaml or json)")
	pf.StringArrayVar(&opts.templates, "template", nil, "category=path of a template workbook; repeatable")
	pf.StringArrayVar(&opts.layouts, "layout", nil, "category=path of a layout YAML; repeatable")
	pf.StringVar(&opts.overrides, "overrides", "", "JSON file approving days over the sanity limit")
	pf.BoolVar(&opts.json, "json", false, "print the summary as JSON")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline stages to stderr")
	_ = root.MarkPersistentFlagRequired("time")
	_ = root.MarkPersistentFlagRequired("roster")

	preview := &cobra.Command{
		Use:   "preview",
		Short: "Show what a run would fill, without writing workbooks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(stdout, opts, pipeline.ModePreview)
		},
	}

	process := &cobra.Command{
		Use:   "process",
		Short: "Fill the workbooks and write them to --out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(stdout, opts, pipeline.ModeProcess)
		},
	}
	process.Flags().StringVar(&opts.out, "out", ".", "directory for the filled workbooks")

	root.AddCommand(preview, process)
	return root
}

func execute(stdout io.Writer, opts *options, mode pipeline.Mode) error {
	logger := zap.NewNop()
	if opts.verbose {
		l, err := logging.New(config.LogConfig{Level: "debug", Format: "console"})
		if err != nil {
			return err
		}
		logger = l
		defer logger.Sync() //nolint:errcheck
	}

	settings, err := config.Load(opts.settings)
	if err != nil {
		return err
	}

	in, err := buildInput(opts)
	if err != nil {
		return err
	}

	runner, err := pipeline.New(settings, logger)
	if err != nil {
		return err
	}
	res, err := runner.Run(in, mode)
	if err != nil {
		var sanity *payroll.SanityCheckFailure
		if errors.As(err, &sanity) {
			for _, v := range sanity.Violations {
				fmt.Fprintf(os.Stderr, "  %s %s: %s hours (limit %s)\n", v.Employee, v.Date, v.Hours.StringFixed(2), v.Limit.StringFixed(2))
			}
		}
		return err
	}

	if mode == pipeline.ModeProcess {
		if err := os.MkdirAll(opts.out, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		for _, o := range res.Outputs {
			path := filepath.Join(opts.out, o.FileName)
			if err := os.WriteFile(path, o.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", o.FileName, err)
			}
			logger.Info("output written", zap.String("path", path))
		}
	}

	if opts.json {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Summary)
	}
	fmt.Fprintln(stdout, res.Summary.Message)
	return nil
}

func buildInput(opts *options) (pipeline.Input, error) {
	var in pipeline.Input

	for _, path := range opts.time {
		src, err := readSource(path)
		if err != nil {
			return in, err
		}
		in.Time = append(in.Time, *src)
	}

	roster, err := readSource(opts.roster)
	if err != nil {
		return in, err
	}
	if in.Roster, err = pipeline.ReadRoster(roster.Name, roster.Data); err != nil {
		return in, err
	}

	if opts.bonus != "" {
		if in.Bonus, err = readSource(opts.bonus); err != nil {
			return in, err
		}
	}
	if opts.loans != "" {
		if in.Loans, err = readSource(opts.loans); err != nil {
			return in, err
		}
	}

	in.Templates = make(map[sheet.Category][]byte)
	for _, arg := range opts.templates {
		c, path, err := categoryPath("template", arg)
		if err != nil {
			return in, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return in, fmt.Errorf("read template: %w", err)
		}
		in.Templates[c] = data
	}

	in.Layouts = make(map[sheet.Category]sheet.Layout)
	for _, arg := range opts.layouts {
		c, path, err := categoryPath("layout", arg)
		if err != nil {
			return in, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return in, fmt.Errorf("read layout: %w", err)
		}
		l, err := sheet.ParseLayout(data)
		if err != nil {
			return in, err
		}
		if l.Category != c {
			return in, &payroll.ValidationError{Field: "layout", Value: arg, Reason: "layout is for category " + string(l.Category)}
		}
		in.Layouts[c] = l
	}

	if opts.overrides != "" {
		data, err := os.ReadFile(opts.overrides)
		if err != nil {
			return in, fmt.Errorf("read overrides: %w", err)
		}
		var req struct {
			All  bool                     `json:"all"`
			Days []payroll.SanityOverride `json:"days"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return in, &payroll.ValidationError{Field: "overrides", Reason: "not valid JSON: " + err.Error()}
		}
		in.Overrides = payroll.NewOverrideSet(req.Days...)
		in.Overrides.All = req.All
	}
	return in, nil
}

func readSource(path string) (*pipeline.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &pipeline.Source{Name: filepath.Base(path), Data: data}, nil
}

// categoryPath splits "cash=Cash.xlsx".
func categoryPath(flag, arg string) (sheet.Category, string, error) {
	name, path, ok := strings.Cut(arg, "=")
	if !ok || path == "" {
		return "", "", &payroll.ValidationError{Field: flag, Value: arg, Reason: "expected category=path"}
	}
	c, err := sheet.ParseCategory(name)
	if err != nil {
		return "", "", err
	}
	return c, path, nil
}

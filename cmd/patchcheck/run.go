package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/scott-cotton/cli"

	"github.com/spachava753/patchcheck/internal/config"
	"github.com/spachava753/patchcheck/internal/executor"
	"github.com/spachava753/patchcheck/internal/models"
)

func runPipeline(ctx context.Context, cfg *RunConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Run.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 0 {
		return fmt.Errorf("%w: run takes no arguments, got %v", cli.ErrUsage, args)
	}

	jc, err := cfg.jobConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return cli.ExitCodeErr(1)
	}
	setPath(&jc.Lockfile, cfg.Lockfile)
	setPath(&jc.Output, cfg.Out)
	setPath(&jc.Report, cfg.Report)
	if cfg.Script != "" {
		jc.BuildScript = cfg.Script
	}
	if cfg.Env != "" {
		jc.Environment.Type = cfg.Env
	}
	jc.StrictPatchPaths = jc.StrictPatchPaths || cfg.Strict
	jc.KeepWorkTree = jc.KeepWorkTree || cfg.Keep
	if err := config.Validate(jc); err != nil {
		slog.Error("invalid configuration", "error", err)
		return cli.ExitCodeErr(1)
	}
	slog.SetDefault(newLogger(jc.LogLevel, jc.LogFormat, os.Stderr))

	p, err := executor.NewPipelineFromConfig(jc, cc.Out, os.Stderr)
	if err != nil {
		slog.Error("setting up pipeline", "error", err)
		return cli.ExitCodeErr(1)
	}

	run, err := p.Run(ctx)
	printSummary(cc.Out, run, err, useColor(cc.Out))
	if err != nil {
		slog.Error("patch test failed", "error", err)
		return cli.ExitCodeErr(1)
	}
	return nil
}

// useColor reports whether w is a terminal.
func useColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd())
}

func printSummary(w io.Writer, run *models.RunResult, err error, colored bool) {
	pass := color.New(color.FgGreen, color.Bold)
	fail := color.New(color.FgRed, color.Bold)
	faint := color.New(color.Faint)
	for _, c := range []*color.Color{pass, fail, faint} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	fmt.Fprintln(w)
	if err != nil {
		fail.Fprint(w, "FAIL")
		fmt.Fprintf(w, " %s\n", describe(run))
		fmt.Fprintf(w, "  %s\n", errorLine(err))
	} else {
		pass.Fprint(w, "PASS")
		fmt.Fprintf(w, " %s\n", describe(run))
		fmt.Fprintf(w, "  marker: %s\n", run.Output)
	}
	if run == nil || run.Build == nil {
		return
	}
	b := run.Build
	if len(b.Patched) > 0 {
		fmt.Fprintf(w, "  patched: %v\n", b.Patched)
	}
	if b.ExitCode != nil {
		fmt.Fprintf(w, "  script %q exited %d\n", b.Script, *b.ExitCode)
	}
	timing := fmt.Sprintf("  total %.2fs", b.Durations.TotalSec)
	if b.Durations.FetchSec != nil {
		timing += fmt.Sprintf(", fetch %.2fs", *b.Durations.FetchSec)
	}
	if b.Durations.BuildSec != nil {
		timing += fmt.Sprintf(", build %.2fs", *b.Durations.BuildSec)
	}
	faint.Fprintln(w, timing)
}

func describe(run *models.RunResult) string {
	if run == nil {
		return "(build not started)"
	}
	name := run.Package
	if name == "" {
		name = run.Manifest
	}
	return fmt.Sprintf("%s (%d patches)", name, len(run.Patches))
}

// errorLine renders err with its kind exactly once. Typed errors already
// carry the kind in their message.
func errorLine(err error) string {
	if models.ErrorTypeOf(err) != "" {
		return err.Error()
	}
	return fmt.Sprintf("%s: %v", errorKind(err), err)
}

func errorKind(err error) string {
	if t := models.ErrorTypeOf(err); t != "" {
		return string(t)
	}
	return string(models.ErrInternalError)
}

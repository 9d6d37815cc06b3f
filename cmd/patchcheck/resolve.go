package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/scott-cotton/cli"
	"github.com/segmentio/encoding/json"

	"github.com/spachava753/patchcheck/internal/executor"
	"github.com/spachava753/patchcheck/internal/models"
)

type resolveOutput struct {
	Manifest  string                  `json:"manifest"`
	Patches   models.ResolvedPatchSet `json:"patches"`
	Overrides models.OverrideSet      `json:"overrides"`
}

func resolve(ctx context.Context, cfg *ResolveConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Resolve.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 0 {
		return fmt.Errorf("%w: resolve takes no arguments, got %v", cli.ErrUsage, args)
	}

	jc, err := cfg.jobConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return cli.ExitCodeErr(1)
	}
	jc.StrictPatchPaths = jc.StrictPatchPaths || cfg.Strict
	// nothing is built, so no remote environment is needed
	jc.Environment.Type = "local"
	slog.SetDefault(newLogger(jc.LogLevel, jc.LogFormat, os.Stderr))

	p, err := executor.NewPipelineFromConfig(jc, cc.Out, os.Stderr)
	if err != nil {
		slog.Error("setting up pipeline", "error", err)
		return cli.ExitCodeErr(1)
	}
	prep, err := p.Prepare(ctx)
	if err != nil {
		slog.Error("resolving patches", "error", err)
		return cli.ExitCodeErr(1)
	}

	out := resolveOutput{
		Manifest:  prep.Manifest.Path,
		Patches:   prep.Patches,
		Overrides: prep.Overrides,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err = fmt.Fprintf(cc.Out, "%s\n", data)
	return err
}

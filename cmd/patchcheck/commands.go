package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/scott-cotton/cli"

	"github.com/spachava753/patchcheck/internal/config"
	"github.com/spachava753/patchcheck/internal/models"
)

type MainConfig struct {
	Config    string `cli:"name=config aliases=c desc='harness config file (yaml or toml)'"`
	Manifest  string `cli:"name=manifest aliases=m desc='package.json to test'"`
	LogLevel  string `cli:"name=log-level desc='debug, info, warn or error'"`
	LogFormat string `cli:"name=log-format desc='text or json'"`
	Verbose   bool   `cli:"name=v desc='shorthand for -log-level debug'"`

	Main *cli.Command
}

// jobConfig loads -config when given, otherwise the defaults, and applies
// the command line overrides on top.
func (cfg *MainConfig) jobConfig() (models.JobConfig, error) {
	jc := config.DefaultJobConfig()
	if cfg.Config != "" {
		var err error
		jc, err = config.LoadJobConfig(cfg.Config)
		if err != nil {
			return jc, err
		}
	}
	setPath(&jc.Manifest, cfg.Manifest)
	if cfg.LogLevel != "" {
		jc.LogLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" {
		jc.LogFormat = cfg.LogFormat
	}
	if cfg.Verbose {
		jc.LogLevel = "debug"
	}
	return jc, nil
}

// setPath replaces *dst with an absolute form of v when v is set.
func setPath(dst *string, v string) {
	if v == "" {
		return
	}
	if abs, err := filepath.Abs(v); err == nil {
		v = abs
	}
	*dst = v
}

func MainCommand(ctx context.Context) *cli.Command {
	cfg := &MainConfig{}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Main, "patchcheck").
		WithSynopsis("patchcheck [opts] command [opts]").
		WithDescription("patchcheck verifies that patchedDependencies are applied before a package builds.").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return patchcheckMain(cfg, cc, args)
		}).
		WithSubs(
			RunCommand(ctx, cfg),
			ResolveCommand(ctx, cfg))
}

func patchcheckMain(cfg *MainConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Main.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return cli.ErrNoCommandProvided
	}
	sub := cfg.Main.FindSub(cc, args[0])
	if sub == nil {
		return fmt.Errorf("%w: %q not found", cli.ErrNoSuchCommand, args[0])
	}
	return sub.Run(cc, args[1:])
}

type RunConfig struct {
	*MainConfig

	Lockfile string `cli:"name=lockfile aliases=l desc='bun.lock path (default: next to the manifest)'"`
	Script   string `cli:"name=script aliases=s desc='package.json script to run'"`
	Out      string `cli:"name=out aliases=o desc='success marker path'"`
	Report   string `cli:"name=report desc='write a JSON report to this path'"`
	Env      string `cli:"name=env desc='environment: local, docker or modal'"`
	Strict   bool   `cli:"name=strict desc='reject absolute or escaping patch paths'"`
	Keep     bool   `cli:"name=keep desc='keep the work tree after the build'"`

	Run *cli.Command
}

func RunCommand(ctx context.Context, mainCfg *MainConfig) *cli.Command {
	cfg := &RunConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Run, "run").
		WithAliases("r").
		WithSynopsis("run [-lockfile f] [-script s] [-out f] [-env e]").
		WithDescription("fetch dependencies with patches applied, run the build script and record the result").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return runPipeline(ctx, cfg, cc, args)
		})
}

type ResolveConfig struct {
	*MainConfig

	Strict bool `cli:"name=strict desc='reject absolute or escaping patch paths'"`

	Resolve *cli.Command
}

func ResolveCommand(ctx context.Context, mainCfg *MainConfig) *cli.Command {
	cfg := &ResolveConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Resolve, "resolve").
		WithSynopsis("resolve [-strict]").
		WithDescription("print resolved patch paths and overrides as JSON without fetching or building").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return resolve(ctx, cfg, cc, args)
		})
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilnworks/imagekiln/internal/cache"
	"github.com/kilnworks/imagekiln/internal/config"
	"github.com/kilnworks/imagekiln/internal/daemon"
	"github.com/kilnworks/imagekiln/internal/executor"
	"github.com/kilnworks/imagekiln/internal/kilnerr"
	"github.com/kilnworks/imagekiln/internal/progress"
	"github.com/kilnworks/imagekiln/internal/steps"
	"github.com/kilnworks/imagekiln/internal/version"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"imagekiln.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Build struct {
		Load          bool   `help:"Load the built image into the local daemon"`
		Tar           string `help:"Write the built image as a tar archive at the given path"`
		Push          bool   `help:"Push the built image to the target registry"`
		Serialized    bool   `help:"Run build steps one at a time instead of concurrently"`
		Workers       int    `help:"Worker pool size (0 = CPU-proportional)"`
		DockerBinary  string `help:"Daemon CLI to load images with" default:"docker"`
		MetricsListen string `help:"Address to serve build metrics on (empty = disabled)"`
	} `cmd:"" help:"Build the configured container image"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Cache struct {
	} `cmd:"" help:"Show layer cache statistics"`

	Version struct {
	} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	switch ctx.Command() {
	case "build":
		if err := runBuild(); err != nil {
			slog.Error("Build failed", "category", kilnerr.GetCategory(err), "error", err)
			os.Exit(1)
		}
	case "init":
		if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Created %s\n", CLI.Config)
	case "cache":
		if err := runCacheStats(); err != nil {
			slog.Error("Cache inspection failed", "error", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("imagekiln %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
	default:
		slog.Error("Unknown command", "command", ctx.Command())
		os.Exit(1)
	}
}

func runBuild() error {
	selected := 0
	if CLI.Build.Load {
		selected++
	}
	if CLI.Build.Tar != "" {
		selected++
	}
	if CLI.Build.Push {
		selected++
	}
	if selected != 1 {
		return kilnerr.New(kilnerr.CategoryConfig, "select exactly one of --load, --tar, --push")
	}

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}

	layerCache, err := cache.Open(cfg.Cache.Directory)
	if err != nil {
		return err
	}
	defer layerCache.Close()

	factory, err := steps.NewBuildFactory(cfg, layerCache)
	if err != nil {
		return err
	}

	serialized := cfg.Execution.Serialized || CLI.Build.Serialized
	workers := cfg.Execution.Workers
	if CLI.Build.Workers > 0 {
		workers = CLI.Build.Workers
	}

	sink := progress.Sink(progress.LogSink{})
	if CLI.Build.MetricsListen != "" {
		reg := prometheus.NewRegistry()
		sink = progress.MultiSink{sink, progress.NewMetricsSink(reg)}
		go serveMetrics(CLI.Build.MetricsListen, reg)
	}

	runner := steps.NewRunner(factory,
		steps.WithExecutor(executor.New(serialized, workers)),
		steps.WithProgressSink(sink),
	)

	switch {
	case CLI.Build.Load:
		err = runner.DaemonLoadSteps(daemon.NewCLIClient(CLI.Build.DockerBinary))
	case CLI.Build.Tar != "":
		err = runner.TarBuildSteps(CLI.Build.Tar)
	case CLI.Build.Push:
		err = runner.RegistryPushSteps()
	}
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := runner.Run(runCtx)
	if err != nil {
		return err
	}

	fmt.Printf("Built %s\n", result.ImageDigest)
	fmt.Printf("  image id:    %s\n", result.ImageID)
	fmt.Printf("  destination: %s\n", result.Destination)
	for _, tag := range result.Tags {
		fmt.Printf("  tag:         %s\n", tag)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Warn("Metrics endpoint stopped", "error", err)
	}
}

func runCacheStats() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	layerCache, err := cache.Open(cfg.Cache.Directory)
	if err != nil {
		return err
	}
	defer layerCache.Close()

	count, err := layerCache.Count()
	if err != nil {
		return err
	}
	fmt.Printf("Cache directory: %s\n", cfg.Cache.Directory)
	fmt.Printf("Cached layers:   %d\n", count)
	return nil
}

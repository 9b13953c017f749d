// Package main provides swapctl, a tool to inspect swap trees, extract
// preimages from chain data and compute EVM swap authorizations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/klingon-exchange/swapcore/internal/chain"
	"github.com/klingon-exchange/swapcore/internal/config"
	"github.com/klingon-exchange/swapcore/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

// app is the state shared by all subcommands.
type app struct {
	cfg *config.Config
	log *logging.Logger
	out io.Writer
}

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"tree":        {"tree [flags] <tree.json>", runTree},
	"preimage":    {"preimage [flags] <symbol> <txid>", runPreimage},
	"commit-hash": {"commit-hash [flags]", runCommitHash},
	"blocks":      {"blocks <symbol>", runBlocks},
}

func main() {
	var (
		configFile  = flag.String("config", "", "Config file path (default: "+config.ConfigPath(config.DefaultDataDir)+" if present)")
		network     = flag.String("network", "", "Network (mainnet, testnet, regtest, signet), overrides config")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		logJSON     = flag.Bool("log-json", false, "Log as JSON")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Usage = usage
	flag.Parse()

	log := logging.New(&logging.Config{Level: "info"})
	logging.SetDefault(log)

	if *showVersion {
		fmt.Printf("swapctl %s (commit: %s)\n", version, commit)
		return
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// CLI flags take precedence over the config file
	if *network != "" {
		n, err := chain.ParseNetwork(*network)
		if err != nil {
			log.Fatal("Invalid network", "error", err)
		}
		cfg.Network = n
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logJSON {
		cfg.Logging.JSON = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", "error", err)
	}

	log = logging.New(cfg.LoggerConfig())
	logging.SetDefault(log)

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		log.Error("Unknown command", "command", args[0])
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := &app{cfg: cfg, log: log, out: os.Stdout}
	if err := cmd.run(ctx, a, args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Command failed", "command", args[0], "error", err)
		os.Exit(1)
	}
}

// loadConfig reads path, or the default location if it exists, or falls
// back to the defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadConfig(path)
	}
	cfg, err := config.LoadConfig(config.ConfigPath(config.DefaultDataDir))
	if errors.Is(err, os.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	return cfg, err
}

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintf(w, "Usage: swapctl [global flags] <command> [args]\n\nCommands:\n")
	for _, name := range []string{"tree", "preimage", "commit-hash", "blocks"} {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
	fmt.Fprintf(w, "\nGlobal flags:\n")
	flag.PrintDefaults()
}

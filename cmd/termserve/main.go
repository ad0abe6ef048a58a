// Copyright 2025 The TermServe Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package main implements the term matching server and CLI application.

TermServe finds controlled vocabulary terms inside free text. A flat code -> term
dictionary is loaded once at startup, every term is normalized (case, accents,
punctuation and identifier separators) and indexed, and each request text is cut
into word windows that are fuzzy matched against the index. The answer is a flat
map of matched text to code:

	{"tumor": "M8000", "breast cancer": "C50"}

# Usage

Serve HTTP and WebSocket clients on the configured address:

	termserve -dict code_to_term_variable.json

Serve a parent process over msgpack on stdin/stdout:

	termserve -ipc

Match interactively, or every line of a file:

	termserve -c -threshold 80
	termserve -batch notes.txt > matches.jsonl

# Configuration

Runtime configuration is read from a TOML file, created with defaults when missing:

	[server]
	addr = "127.0.0.1:8000"
	allowed_origins = ["http://localhost:3000"]
	cache_size = 1024
	enable_websocket = true

	[match]
	default_threshold = 60
	max_phrase_words = 6
	max_text_length = 20000

	[dict]
	path = "code_to_term_variable.json"

	[cli]
	show_scores = true

	[log]
	format = "text"
	caller = false

Flags override the file: -dict, -threshold, -addr and -log-format.

# Command Line Flags

	-config string
	    Path to config.toml (default: user config dir)
	-dict string
	    Dictionary file, .json or .msgpack
	-threshold int
	    Default similarity threshold in [0,100]
	-addr string
	    HTTP listen address
	-ipc
	    Serve msgpack requests on stdin/stdout
	-c  Run the interactive CLI
	-batch string
	    Match every line of a file ("-" for stdin), one JSON object per line
	-d  Enable debug mode with detailed logging
	-log-format string
	    text, json or logfmt
	-rebuild-config
	    Write a fresh default config file and exit
	-version
	    Show current version

A dictionary that cannot be loaded stops the process with exit status 1.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/idea4rc/termserve/internal/cli"
	"github.com/idea4rc/termserve/internal/logger"
	"github.com/idea4rc/termserve/internal/utils"
	"github.com/idea4rc/termserve/pkg/config"
	"github.com/idea4rc/termserve/pkg/dictionary"
	"github.com/idea4rc/termserve/pkg/match"
	"github.com/idea4rc/termserve/pkg/server"
)

const (
	Version = "0.3.0"
	AppName = "termserve"
	gh      = "https://github.com/idea4rc/termserve"
)

// sigHandler returns a context canceled on the first interrupt.
// A second interrupt exits immediately.
func sigHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		fmt.Fprintf(os.Stderr, "\nExiting...\n")
		cancel()
		<-c
		os.Exit(1)
	}()
	return ctx
}

// main loads config and the dictionary, then hands over to the selected mode.
// main() does not implement logic for them and only manages the flow.
func main() {
	ctx := sigHandler()

	showVersion := flag.Bool("version", false, "Show current version")
	configPath := flag.String("config", "", "Path to config.toml")
	dictPath := flag.String("dict", "", "Dictionary file (.json, .msgpack or .mpk)")
	threshold := flag.Int("threshold", -1, "Default similarity threshold in [0,100]")
	addr := flag.String("addr", "", "HTTP listen address")
	debugMode := flag.Bool("d", false, "Toggle debug mode")
	ipcMode := flag.Bool("ipc", false, "Serve msgpack requests on stdin/stdout")
	cliMode := flag.Bool("c", false, "Run CLI -- useful for testing and debugging")
	batchFile := flag.String("batch", "", "Match every line of a file (- for stdin)")
	logFormat := flag.String("log-format", "", "Log format: text, json or logfmt")
	rebuildConfig := flag.Bool("rebuild-config", false, "Write a fresh default config file and exit")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	level := log.WarnLevel
	if *debugMode {
		level = log.DebugLevel
	}
	log.SetLevel(level)
	log.SetReportTimestamp(*debugMode)

	if *rebuildConfig {
		path, err := config.RebuildConfigFile()
		if err != nil {
			log.Fatalf("Failed to rebuild config: %v", err)
		}
		fmt.Fprintf(os.Stderr, "Wrote default config to %s\n", path)
		os.Exit(0)
	}

	cfg, usedConfigPath, err := config.LoadConfigWithPriority(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg, *dictPath, *threshold, *addr, *logFormat)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	formatter, err := parseFormatter(cfg.Log.Format)
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.SetDefault(logger.NewWithConfig("", level, cfg.Log.Caller, *debugMode, formatter))
	log.Debugf("Using config: %s", config.GetActiveConfigPath(usedConfigPath))

	resolvedDict := cfg.Dict.Path
	configDir := ""
	if pathResolver, err := utils.NewPathResolver(); err == nil {
		resolvedDict = pathResolver.GetDictionaryPath(cfg.Dict.Path)
		configDir = pathResolver.GetConfigDir()
	} else {
		log.Warnf("Failed to initialize path resolver: %v", err)
	}

	dict, err := dictionary.Load(resolvedDict)
	if err != nil {
		log.Error("supported dictionary formats", "formats", supportedFormats())
		log.Fatalf("Failed to load dictionary: %v", err)
	}

	engine, err := match.New(dict,
		match.WithDefaultThreshold(cfg.Match.DefaultThreshold),
		match.WithMaxPhraseWords(cfg.Match.MaxPhraseWords),
		match.WithMaxTextLength(cfg.Match.MaxTextLength),
	)
	if err != nil {
		log.Fatalf("Failed to init matcher: %v", err)
	}

	// CLI and batch modes are mainly used for testing and dbg purposes.
	switch {
	case *batchFile != "":
		if err := runBatch(ctx, engine, *batchFile); err != nil {
			log.Fatalf("Batch error: %v", err)
		}
		return

	case *cliMode:
		go exitOnDone(ctx)
		inputHandler := cli.NewInputHandler(engine, engine.DefaultThreshold(), cfg.CLI.ShowScores, os.Stdin, os.Stdout)
		if err := inputHandler.Start(ctx); err != nil {
			log.Fatalf("CLI error: %v", err)
		}
		return
	}

	matcher, err := server.NewCachedMatcher(engine, cfg.Server.CacheSize)
	if err != nil {
		log.Fatalf("Failed to init result cache: %v", err)
	}

	if *ipcMode {
		log.Debug("spawning IPC")
		go exitOnDone(ctx)
		srv := server.NewIPCServer(matcher, os.Stdin, os.Stdout)
		if err := srv.Start(ctx); err != nil {
			log.Fatalf("IPC error: %v", err)
		}
		return
	}

	showStartupInfo(resolvedDict, configDir, dict.Stats(), cfg)
	if err := serveHTTP(ctx, matcher, cfg.Server); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// exitOnDone ends modes that block on stdin reads.
func exitOnDone(ctx context.Context) {
	<-ctx.Done()
	os.Exit(0)
}

func applyFlags(cfg *config.Config, dictPath string, threshold int, addr, logFormat string) {
	if dictPath != "" {
		cfg.Dict.Path = dictPath
	}
	if threshold >= 0 {
		cfg.Match.DefaultThreshold = threshold
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
}

func parseFormatter(format string) (log.Formatter, error) {
	switch format {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	default:
		return log.TextFormatter, fmt.Errorf("unknown log format %q", format)
	}
}

func supportedFormats() string {
	var parts []string
	for _, info := range dictionary.ListSupportedFormats() {
		parts = append(parts, fmt.Sprintf("%s (%s)", info.Description, strings.Join(info.Extensions, ", ")))
	}
	return strings.Join(parts, "; ")
}

func runBatch(ctx context.Context, matcher match.Matcher, path string) error {
	var in io.Reader = os.Stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		in = file
	}
	return cli.RunBatch(ctx, matcher, matcher.DefaultThreshold(), in, os.Stdout)
}

func serveHTTP(ctx context.Context, matcher match.Matcher, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: server.NewRouter(matcher, server.RouterOptions{
			AllowedOrigins:  cfg.AllowedOrigins,
			EnableWebSocket: cfg.EnableWebSocket,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func printVersion() {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    false,
		ReportTimestamp: false,
		Prefix:          "",
	})

	styles := log.DefaultStyles()
	styles.Values["version"] = lipgloss.NewStyle().Bold(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"})
	styles.Values["gh"] = lipgloss.NewStyle().Italic(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"})
	logger.SetStyles(styles)

	logger.Print("")
	logger.Print("[ TermServe ] Finds vocabulary terms in free text")
	logger.Print("", "version", Version)
	logger.Print("")
	logger.Print("use -h or --help to see available options")
	logger.Print("Github Repo", "gh", gh)
}

// showStartupInfo displays some basic info about the init process.
func showStartupInfo(dictPath, configDir string, stats dictionary.Stats, cfg *config.Config) {
	currentLevel := log.GetLevel()
	log.SetLevel(log.InfoLevel)

	println("===========")
	println(" TermServe ")
	println("===========")
	log.Infof("Version: %s", Version)
	log.Infof("Process ID: [ %d ]", os.Getpid())
	log.Infof("dictionary: ( %s ) %d codes, %d terms", dictPath, stats.Codes, stats.Terms)
	if configDir != "" {
		log.Infof("config dir: %s", configDir)
	}
	log.Infof("threshold: %d", cfg.Match.DefaultThreshold)
	log.Infof("listening: http://%s", cfg.Server.Addr)
	log.Info("status: ready")
	println("===========")
	println("Press Ctrl+C to exit")

	log.SetLevel(currentLevel)
}

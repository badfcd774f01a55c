package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"ragchat/internal/config"
)

const usage = `Usage: ragchat [--config=config.yaml] <command> [args]

Commands:
  serve                     run the HTTP API
  chat [file ...]           index optional files, then open the chat UI
  ingest file [file ...]    index local files
  search [-type t] [-k n] query
  stats                     show knowledge base statistics
  clear                     remove every indexed chunk
`

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/ragchat/config.yaml)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var (
		cfg *config.AppConfig
		err error
	)
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "serve":
		err = runServe(ctx, cfg)
	case "chat":
		err = runChat(ctx, cfg, rest)
	case "ingest":
		err = runIngest(ctx, cfg, rest)
	case "search":
		err = runSearch(ctx, cfg, rest)
	case "stats":
		err = runStats(ctx, cfg)
	case "clear":
		err = runClear(ctx, cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		stop()
		log.Fatalf("%s: %v", cmd, err)
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/driftpay/driftpay/internal/config"
	"github.com/driftpay/driftpay/internal/logging"
	"github.com/driftpay/driftpay/internal/server"
	"github.com/driftpay/driftpay/internal/termio"
)

const serverVersion = "v0.1.0"

func main() {
	if hasHelpFlag(os.Args[1:]) {
		printServerUsage()
		return
	}
	if hasVersionFlag(os.Args[1:]) {
		fmt.Fprintln(termio.Stdout(), serverVersion)
		return
	}

	cfg := config.ParseServerConfig()
	logger := logging.New("driftserv", cfg.LogLevel)

	var store server.Store
	if cfg.DatabaseURL != "" {
		pg, err := server.NewPgStore(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		store = pg
		logger.Info("using postgres store")
	} else {
		store = server.NewMemStore()
		logger.Info("using in-memory store")
	}
	defer store.Close()

	srv := server.New(store, logger)

	fmt.Fprintf(termio.Stdout(), "starting server addr=%s\n", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, srv.Handler()); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func printServerUsage() {
	fmt.Fprintln(termio.Stderr(), "usage: driftserv [flags]")
	fmt.Fprintln(termio.Stderr(), "flags:")
	fmt.Fprintln(termio.Stderr(), "  -addr          listen address (default :8080)")
	fmt.Fprintln(termio.Stderr(), "  -log-level     debug, info, warn, error (default info)")
	fmt.Fprintln(termio.Stderr(), "  -database-url  postgres connection string (default: in-memory store)")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}

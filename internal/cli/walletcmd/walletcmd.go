// Package walletcmd implements the non-interactive wallet commands:
// reserve, release, balance, history, and sync.
package walletcmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftpay/driftpay/internal/config"
	"github.com/driftpay/driftpay/internal/logging"
	"github.com/driftpay/driftpay/internal/termio"
	"github.com/driftpay/driftpay/internal/wallet"
)

func openService(name string, args []string) (*wallet.Service, config.ClientConfig) {
	fs := flag.NewFlagSet("driftpay "+name, flag.ExitOnError)
	cfg := config.ParseClientConfigWith(fs, args)
	if cfg.Email == "" {
		fmt.Fprintln(termio.Stderr(), "missing --email (or DRIFTPAY_EMAIL)")
		os.Exit(2)
	}

	logger := logging.New("driftpay", cfg.LogLevel)
	svc, err := wallet.New(wallet.Config{
		Email:     cfg.Email,
		ServerURL: cfg.ServerURL,
		DataDir:   cfg.DataDir,
		Logger:    logger,
	})
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "open wallet: %v\n", err)
		os.Exit(1)
	}
	return svc, cfg
}

func parseAmount(name string, args []string) (decimal.Decimal, []string) {
	// The amount is the first positional argument: driftpay reserve 50
	if len(args) == 0 || args[0] == "" || args[0][0] == '-' {
		fmt.Fprintf(termio.Stderr(), "usage: driftpay %s <amount> [flags]\n", name)
		os.Exit(2)
	}
	amount, err := decimal.NewFromString(args[0])
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "invalid amount %q\n", args[0])
		os.Exit(2)
	}
	return amount, args[1:]
}

func RunReserve(args []string) {
	amount, rest := parseAmount("reserve", args)
	svc, _ := openService("reserve", rest)
	defer svc.Close()

	rec, err := svc.Reserve(context.Background(), amount)
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "reserve failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(termio.Stdout(), "reserved %s for offline use\n", amount)
	fmt.Fprintf(termio.Stdout(), "offline balance: %s\n", rec.Amount)
}

func RunRelease(args []string) {
	amount, rest := parseAmount("release", args)
	svc, _ := openService("release", rest)
	defer svc.Close()

	rec, err := svc.Release(context.Background(), amount)
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "release failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(termio.Stdout(), "released %s back to the online balance\n", amount)
	fmt.Fprintf(termio.Stdout(), "offline balance: %s\n", rec.Amount)
}

func RunBalance(args []string) {
	svc, _ := openService("balance", args)
	defer svc.Close()

	bal, err := svc.Balances(context.Background())
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "read balances: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(termio.Stdout(), "offline balance: %s\n", bal.Offline)
	if bal.Online != nil {
		fmt.Fprintf(termio.Stdout(), "online balance:  %s\n", bal.Online.OnlineBalance)
		fmt.Fprintf(termio.Stdout(), "reserved:        %s\n", bal.Online.ReservedBalance)
	} else {
		fmt.Fprintln(termio.Stdout(), "online balance:  (server unreachable)")
	}
}

func RunHistory(args []string) {
	svc, _ := openService("history", args)
	defer svc.Close()

	txs, err := svc.History(context.Background())
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "read history: %v\n", err)
		os.Exit(1)
	}
	if len(txs) == 0 {
		fmt.Fprintln(termio.Stdout(), "no transactions")
		return
	}
	for _, tx := range txs {
		ts := time.UnixMilli(tx.TimestampMs).Format("2006-01-02 15:04")
		synced := ""
		if tx.Synced {
			synced = " synced"
		}
		fmt.Fprintf(termio.Stdout(), "%s  %-7s %10s  %-9s %s%s\n",
			ts, tx.Direction, tx.Amount.String(), tx.Status, tx.CounterpartyID, synced)
		if tx.Note != "" {
			fmt.Fprintf(termio.Stdout(), "  note: %s\n", tx.Note)
		}
	}
}

func RunSync(args []string) {
	svc, _ := openService("sync", args)
	defer svc.Close()

	report, err := svc.Sync(context.Background())
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "sync failed: %v\n", err)
		os.Exit(1)
	}
	if report.Pushed == 0 {
		fmt.Fprintln(termio.Stdout(), "nothing to sync")
		return
	}
	fmt.Fprintf(termio.Stdout(), "synced %d of %d transactions\n", report.Synced, report.Pushed)
}

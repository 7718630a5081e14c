// Package receiver implements the "driftpay receive" command: the answering
// side of an offline payment.
package receiver

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/driftpay/driftpay/internal/cli/qrterm"
	"github.com/driftpay/driftpay/internal/config"
	"github.com/driftpay/driftpay/internal/logging"
	"github.com/driftpay/driftpay/internal/termio"
	"github.com/driftpay/driftpay/internal/wallet"
)

func Run(args []string) {
	fs := flag.NewFlagSet("driftpay receive", flag.ExitOnError)
	fs.Usage = printReceiverUsage
	cfg := config.ParseClientConfigWith(fs, args)

	if cfg.Email == "" {
		fmt.Fprintln(termio.Stderr(), "missing --email (or DRIFTPAY_EMAIL)")
		os.Exit(2)
	}

	logger := logging.New("driftpay", cfg.LogLevel)
	svc, err := wallet.New(wallet.Config{
		Email:       cfg.Email,
		ServerURL:   cfg.ServerURL,
		DataDir:     cfg.DataDir,
		STUNServers: cfg.STUNServers,
		Logger:      logger,
	})
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "open wallet: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	ctx := context.Background()

	rcv, release, err := svc.NewReceiver()
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "cannot receive: %v\n", err)
		os.Exit(1)
	}
	defer release()
	defer rcv.Close()

	fmt.Fprintln(termio.Stdout(), "paste the sender's offer chunks here:")
	offer, err := qrterm.ReadSignal(os.Stdin, termio.Stdout())
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "read offer: %v\n", err)
		os.Exit(1)
	}

	answer, err := rcv.Answer(ctx, offer)
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "create answer: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(termio.Stdout(), "\nanswer for %s to scan:\n\n", rcv.SenderID())
	if err := qrterm.PrintSignal(termio.Stdout(), answer); err != nil {
		fmt.Fprintf(termio.Stderr(), "render answer: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintln(termio.Stdout(), "waiting for payment...")
	tx, err := rcv.AwaitPayment(ctx)
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "receive failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(termio.Stdout(), "received %s from %s\n", tx.Amount, tx.CounterpartyID)
	if tx.Note != "" {
		fmt.Fprintf(termio.Stdout(), "note: %s\n", tx.Note)
	}
	fmt.Fprintf(termio.Stdout(), "transaction %s completed (receipt %s)\n", tx.ID, tx.ReceiptID)

	if bal, err := svc.Balances(ctx); err == nil {
		fmt.Fprintf(termio.Stdout(), "offline balance: %s\n", bal.Offline)
	}
}

func printReceiverUsage() {
	fmt.Fprintln(termio.Stderr(), "usage: driftpay receive [flags]")
	fmt.Fprintln(termio.Stderr(), "flags:")
	fmt.Fprintln(termio.Stderr(), "  --email       account email")
	fmt.Fprintln(termio.Stderr(), "  --server-url  wallet server URL")
	fmt.Fprintln(termio.Stderr(), "  --data-dir    device database directory")
	fmt.Fprintln(termio.Stderr(), "  --stun        STUN server URL (repeatable)")
}

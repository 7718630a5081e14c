// Package sender implements the "driftpay send" command: the offering side
// of an offline payment.
package sender

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/driftpay/driftpay/internal/cli/qrterm"
	"github.com/driftpay/driftpay/internal/config"
	"github.com/driftpay/driftpay/internal/logging"
	"github.com/driftpay/driftpay/internal/termio"
	"github.com/driftpay/driftpay/internal/wallet"
)

func Run(args []string) {
	fs := flag.NewFlagSet("driftpay send", flag.ExitOnError)
	fs.Usage = printSenderUsage
	amountFlag := fs.String("amount", "", "amount to send")
	note := fs.String("note", "", "optional payment note")
	cfg := config.ParseClientConfigWith(fs, args)

	amountStr := *amountFlag
	if amountStr == "" && fs.NArg() > 0 {
		amountStr = fs.Arg(0)
	}
	if amountStr == "" {
		fmt.Fprintln(termio.Stderr(), "missing amount")
		printSenderUsage()
		os.Exit(2)
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "invalid amount %q\n", amountStr)
		os.Exit(2)
	}
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

	snd, release, err := svc.NewSender(amount, *note)
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "cannot send: %v\n", err)
		os.Exit(1)
	}
	defer release()
	defer snd.Close()

	offer, err := snd.Offer(ctx)
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "create offer: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(termio.Stdout(), "sending %s to scan\n\n", amount)
	if err := qrterm.PrintSignal(termio.Stdout(), offer); err != nil {
		fmt.Fprintf(termio.Stderr(), "render offer: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintln(termio.Stdout(), "have the receiver scan the code above, then paste their answer chunks here:")
	answer, err := qrterm.ReadSignal(os.Stdin, termio.Stdout())
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "read answer: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintln(termio.Stdout(), "connecting...")
	tx, err := snd.Complete(ctx, answer)
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "payment failed: %v\n", err)
		if tx.ID != "" {
			fmt.Fprintf(termio.Stderr(), "transaction %s recorded as %s\n", tx.ID, tx.Status)
		}
		os.Exit(1)
	}

	fmt.Fprintf(termio.Stdout(), "sent %s to %s\n", tx.Amount, tx.CounterpartyID)
	fmt.Fprintf(termio.Stdout(), "transaction %s completed (receipt %s)\n", tx.ID, tx.ReceiptID)

	if bal, err := svc.Balances(ctx); err == nil {
		fmt.Fprintf(termio.Stdout(), "offline balance: %s\n", bal.Offline)
	}
}

func printSenderUsage() {
	fmt.Fprintln(termio.Stderr(), "usage: driftpay send --amount <amount> [--note <text>] [flags]")
	fmt.Fprintln(termio.Stderr(), "flags:")
	fmt.Fprintln(termio.Stderr(), "  --amount      amount to send (or first positional argument)")
	fmt.Fprintln(termio.Stderr(), "  --note        optional payment note")
	fmt.Fprintln(termio.Stderr(), "  --email       account email")
	fmt.Fprintln(termio.Stderr(), "  --server-url  wallet server URL")
	fmt.Fprintln(termio.Stderr(), "  --data-dir    device database directory")
	fmt.Fprintln(termio.Stderr(), "  --stun        STUN server URL (repeatable)")
}

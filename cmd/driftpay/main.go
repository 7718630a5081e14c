package main

import (
	"fmt"
	"os"

	"github.com/driftpay/driftpay/internal/cli/receiver"
	"github.com/driftpay/driftpay/internal/cli/sender"
	"github.com/driftpay/driftpay/internal/cli/walletcmd"
	"github.com/driftpay/driftpay/internal/termio"
)

const (
	version = "v0.1.0"
	banner  = `
██████╗ ██████╗ ██╗███████╗████████╗██████╗  █████╗ ██╗   ██╗
██╔══██╗██╔══██╗██║██╔════╝╚══██╔══╝██╔══██╗██╔══██╗╚██╗ ██╔╝
██║  ██║██████╔╝██║█████╗     ██║   ██████╔╝███████║ ╚████╔╝
██║  ██║██╔══██╗██║██╔══╝     ██║   ██╔═══╝ ██╔══██║  ╚██╔╝
██████╔╝██║  ██║██║██║        ██║   ██║     ██║  ██║   ██║
╚═════╝ ╚═╝  ╚═╝╚═╝╚═╝        ╚═╝   ╚═╝     ╚═╝  ╚═╝   ╚═╝
DriftPay ` + version + `
Offline peer-to-peer payments.
Money moves even when the network doesn't.
`
)

func main() {
	termio.Init()
	args := os.Args[1:]
	if len(args) == 0 {
		printBanner()
		printUsage()
		return
	}
	if hasVersionFlag(args) {
		printBanner()
		return
	}

	cmdName := args[0]
	switch cmdName {
	case "send":
		sender.Run(args[1:])
	case "receive":
		receiver.Run(args[1:])
	case "reserve":
		walletcmd.RunReserve(args[1:])
	case "release":
		walletcmd.RunRelease(args[1:])
	case "balance":
		walletcmd.RunBalance(args[1:])
	case "history":
		walletcmd.RunHistory(args[1:])
	case "sync":
		walletcmd.RunSync(args[1:])
	default:
		if hasHelpFlag(args) {
			printUsage()
			return
		}
		fmt.Fprintf(termio.Stderr(), "unknown command: %s\n", cmdName)
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintln(termio.Stderr(), "usage: driftpay <command> [args]")
	fmt.Fprintln(termio.Stderr(), "commands:")
	fmt.Fprintln(termio.Stderr(), "  send     pay another device offline")
	fmt.Fprintln(termio.Stderr(), "  receive  accept an offline payment")
	fmt.Fprintln(termio.Stderr(), "  reserve  move online funds into the offline balance")
	fmt.Fprintln(termio.Stderr(), "  release  return offline funds to the online balance")
	fmt.Fprintln(termio.Stderr(), "  balance  show offline and online balances")
	fmt.Fprintln(termio.Stderr(), "  history  list this device's transactions")
	fmt.Fprintln(termio.Stderr(), "  sync     push completed transactions to the server")
	fmt.Fprintln(termio.Stderr(), "quick examples:")
	fmt.Fprintln(termio.Stderr(), "  driftpay reserve 50 --email you@example.com")
	fmt.Fprintln(termio.Stderr(), "  driftpay send --amount 20 --note lunch")
	fmt.Fprintln(termio.Stderr(), "  driftpay receive")
	fmt.Fprintln(termio.Stderr(), "to learn detailed usage:")
	fmt.Fprintln(termio.Stderr(), "  driftpay send --help")
	fmt.Fprintln(termio.Stderr(), "  driftpay receive --help")
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

func printBanner() {
	fmt.Fprint(termio.Stdout(), banner)
}

// Package qrterm renders connection signals as terminal QR codes and reads
// them back from pasted chunk text. It is the manual relay boundary between
// two devices with no shared network.
package qrterm

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/driftpay/driftpay/internal/qrcodec"
	"github.com/driftpay/driftpay/pkg/protocol"
)

// PrintSignal writes the signal's QR chunks to w, each as a scannable QR
// code followed by the raw chunk text for copy-paste relay.
func PrintSignal(w io.Writer, sig protocol.Signal) error {
	chunks, err := qrcodec.Split(sig)
	if err != nil {
		return fmt.Errorf("split signal: %w", err)
	}

	for i, chunk := range chunks {
		if len(chunks) > 1 {
			fmt.Fprintf(w, "chunk %d of %d:\n", i+1, len(chunks))
		}
		qr, err := qrcode.New(chunk, qrcode.Medium)
		if err != nil {
			// Payloads near the chunk cap can exceed QR capacity at this
			// error level; the raw text below still relays fine.
			fmt.Fprintf(w, "(QR rendering unavailable: %v)\n", err)
		} else {
			fmt.Fprint(w, qr.ToSmallString(false))
		}
		fmt.Fprintf(w, "%s\n\n", chunk)
	}
	return nil
}

// ReadSignal collects chunk lines from r until the signal is complete.
// Blank lines are skipped; a malformed line is reported on prompt and does
// not abort collection.
func ReadSignal(r io.Reader, prompt io.Writer) (protocol.Signal, error) {
	collector := qrcodec.NewCollector()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		complete, err := collector.Add(line)
		if err != nil {
			fmt.Fprintf(prompt, "invalid chunk: %v\n", err)
			continue
		}
		if complete {
			return collector.Signal()
		}
		fmt.Fprintf(prompt, "%d chunks remaining\n", collector.Remaining())
	}
	if err := scanner.Err(); err != nil {
		return protocol.Signal{}, fmt.Errorf("read chunks: %w", err)
	}
	return protocol.Signal{}, fmt.Errorf("input ended before signal was complete")
}

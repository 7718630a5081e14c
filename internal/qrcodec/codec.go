// Package qrcodec encodes connection handshake signals into QR-code-sized
// strings and reassembles them on the scanning side. It is pure data
// transformation with no dependency on any transport.
package qrcodec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/driftpay/driftpay/pkg/protocol"
)

const (
	// singlePrefix marks a chunk carrying a complete encoded signal.
	singlePrefix = "DPC1:"
	// multiPrefix marks one part of a chunked signal; the full header form
	// is "DPC1/<index>/<total>:".
	multiPrefix = "DPC1/"

	// MaxChunkLen bounds every produced chunk, prefix included, so it fits
	// a comfortably scannable QR code.
	MaxChunkLen = 2400

	// multiHeaderReserve is the worst-case header length budgeted per
	// multi-part chunk.
	multiHeaderReserve = 16
)

var (
	ErrEmptyChunk         = errors.New("empty chunk")
	ErrInvalidChunkPrefix = errors.New("invalid chunk prefix")
	ErrInvalidChunkHeader = errors.New("invalid chunk header")
	ErrInvalidEncoding    = errors.New("invalid signal encoding")
	ErrIncompleteChunks   = errors.New("incomplete chunk set")
	ErrChunkMismatch      = errors.New("chunks belong to different payloads")
	ErrChunkedPayload     = errors.New("chunked payload requires Join")
)

// Encode serializes a signal to its canonical compact text form:
// base64url JSON behind the single-payload prefix.
func Encode(sig protocol.Signal) (string, error) {
	if err := sig.ValidateBasic(); err != nil {
		return "", fmt.Errorf("encode signal: %w", err)
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return "", fmt.Errorf("encode signal: %w", err)
	}
	return singlePrefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode is the inverse of Encode. It rejects chunked payloads (use Join),
// malformed encodings, and signals missing required fields.
func Decode(raw string) (protocol.Signal, error) {
	var sig protocol.Signal

	if raw == "" {
		return sig, ErrEmptyChunk
	}
	if strings.HasPrefix(raw, multiPrefix) {
		return sig, ErrChunkedPayload
	}
	if !strings.HasPrefix(raw, singlePrefix) {
		return sig, ErrInvalidChunkPrefix
	}

	data, err := base64.RawURLEncoding.DecodeString(raw[len(singlePrefix):])
	if err != nil {
		return sig, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if err := json.Unmarshal(data, &sig); err != nil {
		return sig, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if err := sig.ValidateBasic(); err != nil {
		return sig, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return sig, nil
}

// Split encodes a signal and partitions it into displayable chunks. Signals
// that fit the single-chunk bound come back as a one-element slice holding
// the raw encoded string; oversized signals are sliced into parts whose
// headers carry (index, total) so a scanner needs no external context.
func Split(sig protocol.Signal) ([]string, error) {
	encoded, err := Encode(sig)
	if err != nil {
		return nil, err
	}
	if len(encoded) <= MaxChunkLen {
		return []string{encoded}, nil
	}

	body := encoded[len(singlePrefix):]
	sliceLen := MaxChunkLen - multiHeaderReserve
	total := (len(body) + sliceLen - 1) / sliceLen

	chunks := make([]string, 0, total)
	for i := 0; i < total; i++ {
		start := i * sliceLen
		end := start + sliceLen
		if end > len(body) {
			end = len(body)
		}
		chunks = append(chunks, fmt.Sprintf("%s%d/%d:%s", multiPrefix, i+1, total, body[start:end]))
	}
	return chunks, nil
}

// Join reassembles scanned chunks in index order and decodes the result.
// Chunks may arrive in any order and may repeat; every index in [1..total]
// must be present exactly once in the reassembled payload.
func Join(chunks []string) (protocol.Signal, error) {
	var sig protocol.Signal

	if len(chunks) == 0 {
		return sig, ErrIncompleteChunks
	}

	parts := make(map[int]string)
	total := 0
	for _, raw := range chunks {
		kind, idx, tot, payload, err := parseChunk(raw)
		if err != nil {
			return sig, err
		}
		if kind == chunkSingle {
			if len(chunks) == 1 {
				return Decode(raw)
			}
			return sig, ErrChunkMismatch
		}
		if total == 0 {
			total = tot
		} else if tot != total {
			return sig, ErrChunkMismatch
		}
		if prev, seen := parts[idx]; seen && prev != payload {
			return sig, ErrChunkMismatch
		}
		parts[idx] = payload
	}

	if len(parts) != total {
		return sig, fmt.Errorf("%w: have %d of %d", ErrIncompleteChunks, len(parts), total)
	}

	indexes := make([]int, 0, total)
	for idx := range parts {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var body strings.Builder
	for _, idx := range indexes {
		body.WriteString(parts[idx])
	}
	return Decode(singlePrefix + body.String())
}

type chunkKind int

const (
	chunkSingle chunkKind = iota
	chunkPart
)

// parseChunk classifies a scanned string and, for multi-part chunks,
// extracts its (index, total) header and payload.
func parseChunk(raw string) (chunkKind, int, int, string, error) {
	if raw == "" {
		return chunkSingle, 0, 0, "", ErrEmptyChunk
	}
	if strings.HasPrefix(raw, multiPrefix) {
		rest := raw[len(multiPrefix):]
		colon := strings.IndexByte(rest, ':')
		if colon < 0 {
			return chunkPart, 0, 0, "", ErrInvalidChunkHeader
		}
		header := rest[:colon]
		payload := rest[colon+1:]

		slash := strings.IndexByte(header, '/')
		if slash < 0 {
			return chunkPart, 0, 0, "", ErrInvalidChunkHeader
		}
		idx, err := strconv.Atoi(header[:slash])
		if err != nil {
			return chunkPart, 0, 0, "", fmt.Errorf("%w: bad index", ErrInvalidChunkHeader)
		}
		total, err := strconv.Atoi(header[slash+1:])
		if err != nil {
			return chunkPart, 0, 0, "", fmt.Errorf("%w: bad total", ErrInvalidChunkHeader)
		}
		if total < 1 || idx < 1 || idx > total {
			return chunkPart, 0, 0, "", fmt.Errorf("%w: index %d of %d", ErrInvalidChunkHeader, idx, total)
		}
		return chunkPart, idx, total, payload, nil
	}
	if strings.HasPrefix(raw, singlePrefix) {
		return chunkSingle, 1, 1, raw[len(singlePrefix):], nil
	}
	return chunkSingle, 0, 0, "", ErrInvalidChunkPrefix
}

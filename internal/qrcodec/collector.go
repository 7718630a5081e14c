package qrcodec

import (
	"strings"

	"github.com/driftpay/driftpay/pkg/protocol"
)

// Collector aggregates chunks as they are scanned. Waiting for more chunks
// is ordinary progress, not an error, so Add only fails on malformed or
// mismatched input.
type Collector struct {
	total  int
	parts  map[int]string
	single string
	done   bool
}

// NewCollector returns an empty collector ready to receive scans.
func NewCollector() *Collector {
	return &Collector{parts: make(map[int]string)}
}

// Add records one scanned chunk and reports whether the payload is complete.
// Duplicate scans of the same chunk are ignored.
func (c *Collector) Add(raw string) (bool, error) {
	if c.done {
		return true, nil
	}

	kind, idx, total, payload, err := parseChunk(raw)
	if err != nil {
		return false, err
	}

	if kind == chunkSingle {
		if len(c.parts) > 0 {
			return false, ErrChunkMismatch
		}
		c.single = raw
		c.done = true
		return true, nil
	}

	if c.single != "" {
		return false, ErrChunkMismatch
	}
	if c.total == 0 {
		c.total = total
	} else if total != c.total {
		return false, ErrChunkMismatch
	}
	if prev, seen := c.parts[idx]; seen {
		if prev != payload {
			return false, ErrChunkMismatch
		}
		return false, nil
	}
	c.parts[idx] = payload

	c.done = len(c.parts) == c.total
	return c.done, nil
}

// Remaining reports how many chunks are still missing.
func (c *Collector) Remaining() int {
	if c.done {
		return 0
	}
	if c.total == 0 {
		return 1
	}
	return c.total - len(c.parts)
}

// Signal decodes the completed payload. It fails with ErrIncompleteChunks
// until Add has reported completion.
func (c *Collector) Signal() (protocol.Signal, error) {
	if !c.done {
		return protocol.Signal{}, ErrIncompleteChunks
	}
	if c.single != "" {
		return Decode(c.single)
	}

	var body strings.Builder
	for idx := 1; idx <= c.total; idx++ {
		body.WriteString(c.parts[idx])
	}
	return Decode(singlePrefix + body.String())
}

package qrcodec

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/driftpay/driftpay/pkg/protocol"
)

func testSignal(sdpLen int) protocol.Signal {
	rng := rand.New(rand.NewSource(42))
	var sdp strings.Builder
	sdp.WriteString("v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\n")
	chars := "abcdefghijklmnopqrstuvwxyz0123456789"
	for sdp.Len() < sdpLen {
		sdp.WriteByte(chars[rng.Intn(len(chars))])
	}
	return protocol.Signal{
		Role:         protocol.RoleOffer,
		SDP:          sdp.String(),
		OriginatorID: "alice@example.com",
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	sig := testSignal(600)

	encoded, err := Encode(sig)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "DPC1:") {
		t.Fatalf("encoded form missing single-payload prefix: %q", encoded[:10])
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded != sig {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, sig)
	}
}

func TestEncode_InvalidSignal(t *testing.T) {
	if _, err := Encode(protocol.Signal{Role: protocol.RoleOffer}); err == nil {
		t.Fatal("expected error for signal without sdp")
	}
	if _, err := Encode(protocol.Signal{Role: "bogus", SDP: "v=0"}); err == nil {
		t.Fatal("expected error for signal with unknown role")
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", "", ErrEmptyChunk},
		{"no prefix", "hello world", ErrInvalidChunkPrefix},
		{"bad base64", "DPC1:!!!not-base64!!!", ErrInvalidEncoding},
		{"bad json", "DPC1:bm90IGpzb24", ErrInvalidEncoding},
		{"chunked", "DPC1/1/2:abc", ErrChunkedPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.raw)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDecode_MissingRequiredFields(t *testing.T) {
	// Valid base64 JSON but role/sdp absent.
	_, err := Decode("DPC1:" + "eyJub3RlIjoiaGkifQ")
	if !errors.Is(err, ErrInvalidEncoding) {
		t.Fatalf("err = %v, want ErrInvalidEncoding", err)
	}
}

func TestSplit_SingleChunk(t *testing.T) {
	sig := testSignal(600)

	chunks, err := Split(sig)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("chunk count = %d, want 1", len(chunks))
	}

	decoded, err := Decode(chunks[0])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded != sig {
		t.Error("single chunk did not round trip")
	}
}

func TestSplitJoin_Oversized(t *testing.T) {
	sig := testSignal(6000)

	chunks, err := Split(sig)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("chunk count = %d, want at least 2 for oversized payload", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > MaxChunkLen {
			t.Errorf("chunk %d length = %d, exceeds bound %d", i, len(chunk), MaxChunkLen)
		}
		if !strings.HasPrefix(chunk, "DPC1/") {
			t.Errorf("chunk %d missing multi-part prefix", i)
		}
	}

	joined, err := Join(chunks)
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if joined != sig {
		t.Error("join(split(x)) != x")
	}
}

func TestJoin_OutOfOrderAndDuplicates(t *testing.T) {
	sig := testSignal(6000)
	chunks, err := Split(sig)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	shuffled := make([]string, len(chunks))
	copy(shuffled, chunks)
	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	// Scan one chunk twice.
	shuffled = append(shuffled, chunks[0])

	joined, err := Join(shuffled)
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if joined != sig {
		t.Error("out-of-order join mismatch")
	}
}

func TestJoin_MissingChunk(t *testing.T) {
	sig := testSignal(6000)
	chunks, err := Split(sig)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	_, err = Join(chunks[:len(chunks)-1])
	if !errors.Is(err, ErrIncompleteChunks) {
		t.Fatalf("err = %v, want ErrIncompleteChunks", err)
	}
}

func TestJoin_MismatchedTotals(t *testing.T) {
	_, err := Join([]string{"DPC1/1/2:aaaa", "DPC1/2/3:bbbb"})
	if !errors.Is(err, ErrChunkMismatch) {
		t.Fatalf("err = %v, want ErrChunkMismatch", err)
	}
}

func TestJoin_BadHeader(t *testing.T) {
	cases := []string{
		"DPC1/0/2:aaaa",
		"DPC1/3/2:aaaa",
		"DPC1/x/2:aaaa",
		"DPC1/1:aaaa",
		"DPC1/1/2aaaa",
	}
	for _, raw := range cases {
		if _, err := Join([]string{raw}); !errors.Is(err, ErrInvalidChunkHeader) {
			t.Errorf("Join(%q) err = %v, want ErrInvalidChunkHeader", raw, err)
		}
	}
}

func TestCollector_Incremental(t *testing.T) {
	sig := testSignal(6000)
	chunks, err := Split(sig)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	c := NewCollector()
	for i := len(chunks) - 1; i >= 0; i-- {
		complete, err := c.Add(chunks[i])
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if complete != (i == 0) {
			t.Fatalf("complete = %v after chunk %d", complete, i)
		}
	}

	if c.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", c.Remaining())
	}

	got, err := c.Signal()
	if err != nil {
		t.Fatalf("Signal failed: %v", err)
	}
	if got != sig {
		t.Error("collector payload mismatch")
	}
}

func TestCollector_SinglePayload(t *testing.T) {
	sig := testSignal(500)
	chunks, err := Split(sig)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	c := NewCollector()
	complete, err := c.Add(chunks[0])
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !complete {
		t.Fatal("single payload should complete on first scan")
	}

	got, err := c.Signal()
	if err != nil {
		t.Fatalf("Signal failed: %v", err)
	}
	if got != sig {
		t.Error("collector payload mismatch")
	}
}

func TestCollector_SignalBeforeComplete(t *testing.T) {
	sig := testSignal(6000)
	chunks, _ := Split(sig)

	c := NewCollector()
	if _, err := c.Add(chunks[0]); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := c.Signal(); !errors.Is(err, ErrIncompleteChunks) {
		t.Fatalf("err = %v, want ErrIncompleteChunks", err)
	}
	if c.Remaining() != len(chunks)-1 {
		t.Errorf("Remaining = %d, want %d", c.Remaining(), len(chunks)-1)
	}
}

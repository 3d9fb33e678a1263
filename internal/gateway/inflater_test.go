package gateway

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"
)

// compressPayloads runs each payload through one continuous zlib stream,
// sync-flushing after each so every chunk ends with the 00 00 FF FF trailer,
// and returns the compressed chunk per payload.
func compressPayloads(t *testing.T, payloads ...[]byte) [][]byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)

	chunks := make([][]byte, 0, len(payloads))
	for _, p := range payloads {
		if _, err := zw.Write(p); err != nil {
			t.Fatalf("compress payload: %v", err)
		}
		if err := zw.Flush(); err != nil {
			t.Fatalf("flush payload: %v", err)
		}
		chunk := make([]byte, buf.Len())
		copy(chunk, buf.Bytes())
		buf.Reset()
		chunks = append(chunks, chunk)
	}
	return chunks
}

func pollComplete(t *testing.T, z *Inflater) []byte {
	t.Helper()
	out, err := z.Poll()
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if out == nil {
		t.Fatal("expected a complete payload")
	}
	return z.Take()
}

func TestInflaterSinglePayload(t *testing.T) {
	payload := []byte(`{"op":10,"d":{"heartbeat_interval":41250}}`)
	chunks := compressPayloads(t, payload)

	z := NewInflater()
	z.Extend(chunks[0])

	got := pollComplete(t, z)
	if !bytes.Equal(got, payload) {
		t.Errorf("decompressed %q, want %q", got, payload)
	}
}

func TestInflaterFragmentBoundaries(t *testing.T) {
	// Output must be identical however the compressed bytes are split.
	payload := []byte(`{"op":0,"t":"MESSAGE_CREATE","s":42,"d":{"content":"` + strings.Repeat("na", 4096) + `"}}`)
	chunks := compressPayloads(t, payload)
	compressed := chunks[0]

	for _, fragSize := range []int{1, 2, 3, 7, 64, len(compressed)} {
		z := NewInflater()
		var got []byte
		for off := 0; off < len(compressed); off += fragSize {
			end := off + fragSize
			if end > len(compressed) {
				end = len(compressed)
			}
			z.Extend(compressed[off:end])

			out, err := z.Poll()
			if err != nil {
				t.Fatalf("frag %d: poll: %v", fragSize, err)
			}
			if out != nil {
				got = z.Take()
			}
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("frag %d: output mismatch (got %d bytes, want %d)", fragSize, len(got), len(payload))
		}
	}
}

func TestInflaterContextPersistsAcrossPayloads(t *testing.T) {
	// Later payloads may back-reference earlier ones; the decompression
	// context is stream level, not per message.
	first := []byte(`{"op":0,"t":"GUILD_CREATE","s":1,"d":{"name":"the quick brown fox jumps over the lazy dog"}}`)
	second := []byte(`{"op":0,"t":"GUILD_UPDATE","s":2,"d":{"name":"the quick brown fox jumps over the lazy dog"}}`)
	third := []byte(`{"op":11,"d":null}`)
	chunks := compressPayloads(t, first, second, third)

	z := NewInflater()
	for i, want := range [][]byte{first, second, third} {
		z.Extend(chunks[i])
		got := pollComplete(t, z)
		if !bytes.Equal(got, want) {
			t.Errorf("payload %d: got %q, want %q", i, got, want)
		}
		z.Clear()
	}
}

func TestInflaterIncomplete(t *testing.T) {
	payload := []byte(`{"op":1,"d":12}`)
	chunks := compressPayloads(t, payload)
	truncated := chunks[0][:len(chunks[0])-4]

	z := NewInflater()
	z.Extend(truncated)

	for i := 0; i < 3; i++ {
		out, err := z.Poll()
		if err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
		if out != nil {
			t.Fatalf("poll %d: expected incomplete, got %d bytes", i, len(out))
		}
	}

	// Completing the trailer makes the payload available.
	z.Extend(chunks[0][len(chunks[0])-4:])
	got := pollComplete(t, z)
	if !bytes.Equal(got, payload) {
		t.Errorf("got %q, want %q", got, payload)
	}
}

func TestInflaterCorruptHeader(t *testing.T) {
	z := NewInflater()
	z.Extend([]byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x00, 0xff, 0xff})

	if _, err := z.Poll(); err == nil {
		t.Fatal("expected a decompression error for a corrupt header")
	}
}

func TestInflaterReset(t *testing.T) {
	payload := []byte(`{"op":10,"d":{"heartbeat_interval":41250}}`)

	z := NewInflater()
	z.Extend(compressPayloads(t, payload)[0])
	if got := pollComplete(t, z); !bytes.Equal(got, payload) {
		t.Fatalf("first stream: got %q", got)
	}

	// A reset inflater accepts a brand-new stream with its own header.
	z.Reset()
	z.Extend(compressPayloads(t, payload)[0])
	if got := pollComplete(t, z); !bytes.Equal(got, payload) {
		t.Errorf("second stream: got %q", got)
	}
}

func TestInflaterTakeLeavesEmptyBuffer(t *testing.T) {
	payload := []byte(`{"op":11,"d":null}`)
	z := NewInflater()
	z.Extend(compressPayloads(t, payload)[0])

	out, err := z.Poll()
	if err != nil || out == nil {
		t.Fatalf("poll: out=%v err=%v", out, err)
	}

	taken := z.Take()
	if !bytes.Equal(taken, payload) {
		t.Fatalf("take: got %q", taken)
	}
	if again := z.Take(); len(again) != 0 {
		t.Errorf("second take should be empty, got %d bytes", len(again))
	}
}

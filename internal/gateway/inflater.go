package gateway

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/flate"
)

// zlibSuffix is the 4-byte Z_SYNC_FLUSH trailer. A logical payload is
// complete exactly when the accumulated compressed bytes end with it.
var zlibSuffix = []byte{0x00, 0x00, 0xff, 0xff}

const (
	// inflateScratchSize is the fixed capacity of the working buffer for
	// one decompression step.
	inflateScratchSize = 32 * 1024

	// inflateWindowSize is the DEFLATE back-reference window. The last
	// window of decompressed output is carried across payload boundaries
	// so the decompression context persists for the whole connection.
	inflateWindowSize = 32 * 1024

	// inflateShrinkInterval bounds how often Clear releases excess buffer
	// capacity on long-lived connections.
	inflateShrinkInterval = time.Minute
)

// Inflater decodes the gateway's continuous zlib-compressed byte stream into
// complete JSON payloads. One Inflater serves one transport connection; it is
// owned by the shard's main loop and is not safe for concurrent use.
type Inflater struct {
	compressed []byte
	scratch    []byte
	output     []byte

	// window holds the tail of previously decompressed output, fed back as
	// the flate dictionary so back-references may cross payload boundaries.
	window []byte

	fr         io.ReadCloser
	src        *bytes.Reader
	headerRead bool
	lastShrink time.Time
}

// NewInflater returns an Inflater ready for a fresh connection.
func NewInflater() *Inflater {
	return &Inflater{
		scratch:    make([]byte, inflateScratchSize),
		lastShrink: time.Now(),
	}
}

// Extend appends raw bytes from the transport to the compressed accumulator.
func (z *Inflater) Extend(p []byte) {
	z.compressed = append(z.compressed, p...)
}

// Poll decompresses the buffered bytes if they form a complete payload.
// It returns nil with no error while the payload is still incomplete. The
// returned slice is owned by the Inflater; use Take to assume ownership.
func (z *Inflater) Poll() ([]byte, error) {
	if !bytes.HasSuffix(z.compressed, zlibSuffix) {
		return nil, nil
	}

	src := z.compressed
	if !z.headerRead {
		n, err := zlibHeaderLen(src)
		if err != nil {
			return nil, err
		}
		src = src[n:]
		z.headerRead = true
	}

	if z.src == nil {
		z.src = bytes.NewReader(src)
		z.fr = flate.NewReaderDict(z.src, z.window)
	} else {
		z.src.Reset(src)
		if err := z.fr.(flate.Resetter).Reset(z.src, z.window); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
		}
	}

	z.output = z.output[:0]
	for {
		n, err := z.fr.Read(z.scratch)
		z.output = append(z.output, z.scratch[:n]...)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			// The sync-flush boundary leaves the decompressor wanting
			// the next block, which lives in a future payload.
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
		}
		if n < len(z.scratch) && z.src.Len() == 0 {
			break
		}
	}

	z.rememberWindow()
	z.compressed = z.compressed[:0]
	return z.output, nil
}

// Take removes and returns the current decompressed payload, leaving an
// empty buffer in its place. The caller assumes ownership without a copy.
func (z *Inflater) Take() []byte {
	out := z.output
	z.output = nil
	return out
}

// Clear empties the buffers between payloads. At most once per minute it
// also releases excess capacity so a burst does not pin memory for the
// lifetime of the connection.
func (z *Inflater) Clear() {
	z.compressed = z.compressed[:0]
	if z.output != nil {
		z.output = z.output[:0]
	}

	if time.Since(z.lastShrink) >= inflateShrinkInterval {
		if cap(z.compressed) > inflateScratchSize {
			z.compressed = make([]byte, 0, inflateScratchSize)
		}
		if cap(z.output) > inflateScratchSize {
			z.output = make([]byte, 0, inflateScratchSize)
		}
		z.lastShrink = time.Now()
	}
}

// Reset fully reinitializes the inflater with a new decompression context.
// Every transport connection starts a new compressed stream, so the shard
// calls this whenever it reconnects, before any handshake payload arrives.
func (z *Inflater) Reset() {
	z.compressed = z.compressed[:0]
	z.output = z.output[:0]
	z.window = z.window[:0]
	z.headerRead = false
	if z.fr != nil {
		z.fr.Close()
		z.fr = nil
		z.src = nil
	}
}

// rememberWindow retains the newest inflateWindowSize bytes of decompressed
// output as the dictionary for the next payload.
func (z *Inflater) rememberWindow() {
	if len(z.output) >= inflateWindowSize {
		z.window = append(z.window[:0], z.output[len(z.output)-inflateWindowSize:]...)
		return
	}
	keep := inflateWindowSize - len(z.output)
	if len(z.window) > keep {
		copy(z.window, z.window[len(z.window)-keep:])
		z.window = z.window[:keep]
	}
	z.window = append(z.window, z.output...)
}

// zlibHeaderLen validates the two-byte zlib stream header at the front of a
// fresh stream and returns its length, accounting for an optional preset
// dictionary id.
func zlibHeaderLen(b []byte) (int, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("%w: short stream header", ErrDecompress)
	}
	cmf, flg := b[0], b[1]
	if cmf&0x0f != 8 {
		return 0, fmt.Errorf("%w: unsupported compression method %d", ErrDecompress, cmf&0x0f)
	}
	if (uint16(cmf)<<8|uint16(flg))%31 != 0 {
		return 0, fmt.Errorf("%w: corrupt stream header", ErrDecompress)
	}
	if flg&0x20 != 0 {
		if len(b) < 6 {
			return 0, fmt.Errorf("%w: short preset dictionary header", ErrDecompress)
		}
		return 6, nil
	}
	return 2, nil
}

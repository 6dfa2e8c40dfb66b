package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/oriys/workerproc/internal/rpcerr"
)

// DefaultMaxFrameBytes is the length-prefix cap used when a transport isn't
// configured with an explicit limit.
const DefaultMaxFrameBytes uint32 = 64 << 20

const lengthPrefixSize = 4

// WriteFrame writes a single length-prefixed frame: a 4-byte little-endian
// payload length followed by payload itself. It performs at most two
// underlying Write calls (one for the header, one for the payload), mirroring
// vsock.go's sendLocked shape.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [lengthPrefixSize]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("rpc: write frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("rpc: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r. A length prefix greater
// than maxFrameBytes is a ProtocolError and the caller must stop reading from
// r afterward: the stream position is no longer framing-aligned.
func ReadFrame(r io.Reader, maxFrameBytes uint32) ([]byte, error) {
	if maxFrameBytes == 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	var header [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("rpc: read frame header: %w", err)
	}
	length := binary.LittleEndian.Uint32(header[:])
	if length > maxFrameBytes {
		return nil, &rpcerr.ProtocolError{
			Reason: fmt.Sprintf("frame length %d exceeds limit %d", length, maxFrameBytes),
		}
	}
	if length == 0 {
		return []byte{}, nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, &rpcerr.ProtocolError{Reason: "truncated frame payload", Cause: err}
	}
	return payload, nil
}

package codec

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/oriys/workerproc/internal/rpcerr"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello worker")
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestReadFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, nil); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestReadFrameEOF(t *testing.T) {
	var buf bytes.Buffer
	_, err := ReadFrame(&buf, 0)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("got %v, want io.EOF", err)
	}
}

func TestReadFrameExceedsLimit(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, make([]byte, 100)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	_, err := ReadFrame(&buf, 10)
	var protoErr *rpcerr.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("got %v (%T), want *rpcerr.ProtocolError", err, err)
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("abcdef")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:len(buf.Bytes())-2])
	_, err := ReadFrame(truncated, 0)
	var protoErr *rpcerr.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("got %v (%T), want *rpcerr.ProtocolError", err, err)
	}
}

func TestReadFrameMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	frames := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, f := range frames {
		if err := WriteFrame(&buf, f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	for _, want := range frames {
		got, err := ReadFrame(&buf, 0)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

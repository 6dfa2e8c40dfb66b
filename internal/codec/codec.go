// Package codec encodes and decodes the message envelopes exchanged between
// the parent process and its worker, and frames them on the wire.
//
// Two codecs share the same framing (framing.go): a portable JSON codec
// (portable.go) and a rich binary structured-clone analogue (rich.go) that
// preserves buffers, typed numeric slices, big integers, dates, regular
// expressions, maps and sets with arbitrary key/element types, cyclic
// object graphs, and errors with their cause chain. The codec mode is
// chosen once per worker and never changes for its lifetime.
package codec

import "github.com/oriys/workerproc/internal/rpcerr"

// Mode selects which wire encoding a worker uses for its lifetime.
type Mode int

const (
	// ModePortable is the JSON text codec. It cannot represent functions,
	// cyclic graphs, or most non-plain-object values; Dates are encoded as
	// RFC3339 strings and are never reconstructed on decode.
	ModePortable Mode = iota
	// ModeRich is the binary structured-clone codec. It preserves the full
	// value-kind set documented in the package comment.
	ModeRich
)

func (m Mode) String() string {
	switch m {
	case ModePortable:
		return "portable"
	case ModeRich:
		return "rich"
	default:
		return "unknown"
	}
}

// ParseMode parses the wire/config string form of a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "portable", "":
		return ModePortable, nil
	case "rich":
		return ModeRich, nil
	default:
		return ModePortable, &rpcerr.SerializationError{
			Direction: "decode",
			Kind:      "codec.Mode",
			Cause:     errUnknownMode(s),
		}
	}
}

type errUnknownMode string

func (e errUnknownMode) Error() string { return "unknown serialization mode " + string(e) }

// Codec encodes a Go value to bytes and decodes bytes back into a Go value
// for one wire mode.
type Codec interface {
	Mode() Mode
	// Encode serializes v into a payload suitable for framing. argument
	// names the argument/field being encoded for error context; it may be
	// empty.
	Encode(v any, argument string) ([]byte, error)
	// Decode deserializes payload into *out. out must be a pointer (to
	// `any` when the caller doesn't know the shape ahead of time).
	Decode(payload []byte, out any) error
}

// For selects the Codec implementation for a given Mode.
func For(mode Mode) Codec {
	switch mode {
	case ModeRich:
		return &richCodec{}
	default:
		return &portableCodec{}
	}
}

package codec

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/oriys/workerproc/internal/rpcerr"
)

// portableCodec is the JSON wire encoding. time.Time values marshal to
// RFC3339 strings via json.Marshal's default handling and are never
// reconstructed on decode: a portable-mode caller reading a field that was a
// time.Time on the worker side gets a plain string back. That asymmetry is
// deliberate, not a bug — ModeRich exists for callers who need the round
// trip.
type portableCodec struct{}

func (c *portableCodec) Mode() Mode { return ModePortable }

func (c *portableCodec) Encode(v any, argument string) ([]byte, error) {
	if err := precheckPortable(v, argument); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, &rpcerr.SerializationError{
			Direction: "encode",
			Argument:  argument,
			Kind:      kindOf(v),
			Cause:     err,
		}
	}
	return payload, nil
}

func (c *portableCodec) Decode(payload []byte, out any) error {
	if err := json.Unmarshal(payload, out); err != nil {
		return &rpcerr.SerializationError{
			Direction: "decode",
			Kind:      kindOf(out),
			Cause:     err,
		}
	}
	return nil
}

func kindOf(v any) string {
	if v == nil {
		return "nil"
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() {
		return fmt.Sprintf("*%s", rv.Elem().Kind())
	}
	return rv.Kind().String()
}

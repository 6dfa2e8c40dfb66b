package codec

// Tag identifies the wire shape of the value that follows it in the rich
// binary codec.
type Tag byte

const (
	TagNil Tag = iota
	TagBool
	TagInt
	TagUint
	TagFloat
	TagString
	TagBytes
	TagBigInt
	TagTime
	TagRegexp
	TagSlice
	TagTypedInt8
	TagTypedInt16
	TagTypedInt32
	TagTypedInt64
	TagTypedUint8
	TagTypedUint16
	TagTypedUint32
	TagTypedUint64
	TagTypedFloat32
	TagTypedFloat64
	TagMap
	TagSet
	TagError
	TagStruct
	TagCallbackRef
	TagRef
)

// Set is the rich codec's analogue of a JS Set: an ordered collection of
// unique-by-encoding elements. Go has no builtin set type, so callers that
// want Set semantics on the wire construct one of these explicitly; any
// []any is encoded as TagSlice instead.
type Set struct {
	Values []any
}

// CallbackRef is the rich-mode wire shape of a callback placeholder. It
// replaces a func argument the way portable mode's `{__callback: id}` object
// does, but travels as a dedicated tag instead of a plain map.
type CallbackRef struct {
	ID uint64
}

// RichStruct is what a struct value decodes into: the rich codec has no
// type registry, so the concrete Go type can't be reconstructed on the
// decoding side. Encoding preserves the type name and every exported,
// non-`rpc:"-"` field; decoding hands the caller this generic shape back.
type RichStruct struct {
	TypeName string
	Fields   map[string]any
}

// RichError is the decoded shape of a TagError value: name, message, and
// stack survive verbatim, own exported fields nest under Fields, and Cause
// holds the decoded errors.Unwrap() chain (nil, another *RichError, or
// whatever TagError/TagNil decoded to).
type RichError struct {
	Name    string
	Message string
	Stack   string
	Fields  map[string]any
	Cause   any
}

func (e *RichError) Error() string { return e.Message }

package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"reflect"
	"regexp"
	"time"

	"github.com/oriys/workerproc/internal/rpcerr"
)

// richCodec is the binary structured-clone analogue described in the
// package comment. It is written in vsock.go's low-level framing style
// (binary.LittleEndian, explicit length-prefixed sub-fields) rather than
// wrapped around a general-purpose serialization library, since no library
// in reach covers this exact combined type set (buffers, typed numeric
// slices, big integers, dates, regexes, sets, cyclic graphs, error cause
// chains) in one wire format.
type richCodec struct{}

func (c *richCodec) Mode() Mode { return ModeRich }

func (c *richCodec) Encode(v any, argument string) ([]byte, error) {
	var buf bytes.Buffer
	enc := &richEncoder{buf: &buf, memo: make(map[uintptr]uint32)}
	if err := enc.encode(reflect.ValueOf(v)); err != nil {
		return nil, &rpcerr.SerializationError{
			Direction: "encode",
			Argument:  argument,
			Kind:      kindOf(v),
			Cause:     err,
		}
	}
	return buf.Bytes(), nil
}

func (c *richCodec) Decode(payload []byte, out any) error {
	dec := &richDecoder{r: bytes.NewReader(payload), refs: map[uint32]any{}}
	v, err := dec.decode()
	if err != nil {
		return &rpcerr.SerializationError{Direction: "decode", Kind: "rich", Cause: err}
	}
	ptr, ok := out.(*any)
	if !ok {
		return &rpcerr.SerializationError{
			Direction: "decode",
			Kind:      "rich",
			Cause:     errors.New("rich codec decode target must be *any"),
		}
	}
	*ptr = v
	return nil
}

// --- encoding ---

type richEncoder struct {
	buf    *bytes.Buffer
	memo   map[uintptr]uint32
	nextID uint32
}

func (e *richEncoder) writeTag(t Tag) { e.buf.WriteByte(byte(t)) }

func (e *richEncoder) writeUint32(n uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], n)
	e.buf.Write(b[:])
}

func (e *richEncoder) writeUint64(n uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], n)
	e.buf.Write(b[:])
}

func (e *richEncoder) writeBytes(b []byte) {
	e.writeUint32(uint32(len(b)))
	e.buf.Write(b)
}

func (e *richEncoder) writeString(s string) { e.writeBytes([]byte(s)) }

// memoize registers addr if not already seen. It returns (refID, true) when
// the caller should emit a TagRef instead of encoding the value again.
func (e *richEncoder) memoize(addr uintptr) (uint32, bool) {
	if id, ok := e.memo[addr]; ok {
		return id, true
	}
	e.nextID++
	e.memo[addr] = e.nextID
	return e.nextID, false
}

func (e *richEncoder) encode(v reflect.Value) error {
	if !v.IsValid() {
		e.writeTag(TagNil)
		return nil
	}
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			e.writeTag(TagNil)
			return nil
		}
		return e.encode(v.Elem())
	}

	switch x := v.Interface().(type) {
	case nil:
		e.writeTag(TagNil)
		return nil
	case CallbackRef:
		e.writeTag(TagCallbackRef)
		e.writeUint64(x.ID)
		return nil
	case *big.Int:
		e.writeTag(TagBigInt)
		if x.Sign() < 0 {
			e.buf.WriteByte(1)
		} else {
			e.buf.WriteByte(0)
		}
		e.writeBytes(x.Bytes())
		return nil
	case time.Time:
		e.writeTag(TagTime)
		data, err := x.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode time: %w", err)
		}
		e.writeBytes(data)
		return nil
	case *regexp.Regexp:
		e.writeTag(TagRegexp)
		e.writeString(x.String())
		return nil
	case []byte:
		e.writeTag(TagBytes)
		e.writeBytes(x)
		return nil
	case Set:
		return e.encodeSet(x)
	case error:
		return e.encodeError(x)
	}

	switch v.Kind() {
	case reflect.Bool:
		e.writeTag(TagBool)
		if v.Bool() {
			e.buf.WriteByte(1)
		} else {
			e.buf.WriteByte(0)
		}
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.writeTag(TagInt)
		e.writeUint64(uint64(v.Int()))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.writeTag(TagUint)
		e.writeUint64(v.Uint())
		return nil
	case reflect.Float32, reflect.Float64:
		e.writeTag(TagFloat)
		e.writeUint64(math.Float64bits(v.Float()))
		return nil
	case reflect.String:
		e.writeTag(TagString)
		e.writeString(v.String())
		return nil
	case reflect.Ptr:
		if v.IsNil() {
			e.writeTag(TagNil)
			return nil
		}
		id, seen := e.memoize(v.Pointer())
		if seen {
			e.writeTag(TagRef)
			e.writeUint32(id)
			return nil
		}
		if v.Elem().Kind() == reflect.Struct {
			// A struct reached through a pointer can be part of a cycle
			// (v.Elem() itself, or one of its fields, may point back to
			// v). Carry the id memoize already assigned so a later
			// TagRef to the same address has something to resolve to.
			return e.encodeStruct(v.Elem(), id)
		}
		return e.encode(v.Elem())
	case reflect.Slice:
		return e.encodeSlice(v)
	case reflect.Array:
		return e.encodeArrayLike(v)
	case reflect.Map:
		return e.encodeMap(v)
	case reflect.Struct:
		return e.encodeStruct(v, 0)
	default:
		return fmt.Errorf("rich codec cannot represent a %s value", v.Kind())
	}
}

func (e *richEncoder) encodeSlice(v reflect.Value) error {
	if v.IsNil() {
		e.writeTag(TagNil)
		return nil
	}
	if tag, width, ok := typedSliceTag(v.Type().Elem().Kind()); ok && v.Type().Elem().Kind() != reflect.Uint8 {
		return e.encodeTypedSlice(v, tag, width)
	}
	if v.Type().Elem().Kind() == reflect.Uint8 {
		e.writeTag(TagBytes)
		e.writeBytes(v.Bytes())
		return nil
	}
	return e.encodeArrayLike(v)
}

func (e *richEncoder) encodeArrayLike(v reflect.Value) error {
	e.writeTag(TagSlice)
	if v.Kind() == reflect.Slice {
		if id, seen := e.memoize(v.Pointer()); seen {
			e.writeUint32(id)
			e.writeUint32(0)
			return nil
		} else {
			e.writeUint32(id)
		}
	} else {
		e.writeUint32(0)
	}
	e.writeUint32(uint32(v.Len()))
	for i := 0; i < v.Len(); i++ {
		if err := e.encode(v.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

func typedSliceTag(k reflect.Kind) (Tag, int, bool) {
	switch k {
	case reflect.Int8:
		return TagTypedInt8, 1, true
	case reflect.Int16:
		return TagTypedInt16, 2, true
	case reflect.Int32:
		return TagTypedInt32, 4, true
	case reflect.Int64:
		return TagTypedInt64, 8, true
	case reflect.Uint8:
		return TagTypedUint8, 1, true
	case reflect.Uint16:
		return TagTypedUint16, 2, true
	case reflect.Uint32:
		return TagTypedUint32, 4, true
	case reflect.Uint64:
		return TagTypedUint64, 8, true
	case reflect.Float32:
		return TagTypedFloat32, 4, true
	case reflect.Float64:
		return TagTypedFloat64, 8, true
	default:
		return 0, 0, false
	}
}

func (e *richEncoder) encodeTypedSlice(v reflect.Value, tag Tag, _ int) error {
	e.writeTag(tag)
	if id, seen := e.memoize(v.Pointer()); seen {
		e.writeUint32(id)
		e.writeUint32(0)
		return nil
	} else {
		e.writeUint32(id)
	}
	n := v.Len()
	e.writeUint32(uint32(n))
	for i := 0; i < n; i++ {
		elem := v.Index(i)
		switch tag {
		case TagTypedInt8, TagTypedInt16, TagTypedInt32, TagTypedInt64:
			e.writeUint64(uint64(elem.Int()))
		case TagTypedUint8, TagTypedUint16, TagTypedUint32, TagTypedUint64:
			e.writeUint64(elem.Uint())
		case TagTypedFloat32, TagTypedFloat64:
			e.writeUint64(math.Float64bits(elem.Float()))
		}
	}
	return nil
}

func (e *richEncoder) encodeMap(v reflect.Value) error {
	e.writeTag(TagMap)
	if v.IsNil() {
		e.writeUint32(0)
		e.writeUint32(0)
		return nil
	}
	if id, seen := e.memoize(v.Pointer()); seen {
		e.writeUint32(id)
		e.writeUint32(0)
		return nil
	} else {
		e.writeUint32(id)
	}
	keys := v.MapKeys()
	e.writeUint32(uint32(len(keys)))
	for _, k := range keys {
		if err := e.encode(k); err != nil {
			return err
		}
		if err := e.encode(v.MapIndex(k)); err != nil {
			return err
		}
	}
	return nil
}

func (e *richEncoder) encodeSet(s Set) error {
	e.writeTag(TagSet)
	e.writeUint32(uint32(len(s.Values)))
	for _, elem := range s.Values {
		if err := e.encode(reflect.ValueOf(elem)); err != nil {
			return err
		}
	}
	return nil
}

// encodeStruct writes v's tag, fields, and a backreference id. id is 0 for
// a struct reached by value (not addressable, so it can't recur into
// itself); the Ptr case passes memoize's id through for a struct reached
// through a pointer, so a cyclic field pointing back at v resolves via
// TagRef instead of recursing forever.
func (e *richEncoder) encodeStruct(v reflect.Value, id uint32) error {
	e.writeTag(TagStruct)
	e.writeUint32(id)
	e.writeString(v.Type().Name())
	fields := exportedFields(v)
	e.writeUint32(uint32(len(fields)))
	for _, f := range fields {
		e.writeString(f.name)
		if err := e.encode(f.value); err != nil {
			return err
		}
	}
	return nil
}

type namedField struct {
	name  string
	value reflect.Value
}

func exportedFields(v reflect.Value) []namedField {
	var out []namedField
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() || sf.Tag.Get("rpc") == "-" {
			continue
		}
		out = append(out, namedField{name: sf.Name, value: v.Field(i)})
	}
	return out
}

func (e *richEncoder) encodeError(err error) error {
	e.writeTag(TagError)
	e.writeString(fmt.Sprintf("%T", err))
	e.writeString(err.Error())
	e.writeString("")
	var structFields []namedField
	rv := reflect.ValueOf(err)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		structFields = exportedFields(rv)
	}
	e.writeUint32(uint32(len(structFields)))
	for _, f := range structFields {
		e.writeString(f.name)
		if encErr := e.encode(f.value); encErr != nil {
			return encErr
		}
	}
	if cause := errors.Unwrap(err); cause != nil {
		return e.encode(reflect.ValueOf(cause))
	}
	e.writeTag(TagNil)
	return nil
}

// --- decoding ---

type richDecoder struct {
	r      *bytes.Reader
	refs   map[uint32]any
	lastID uint32
}

func (d *richDecoder) readByte() (byte, error) { return d.r.ReadByte() }

func (d *richDecoder) readUint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (d *richDecoder) readUint64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func (d *richDecoder) readBytes() ([]byte, error) {
	n, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *richDecoder) readString() (string, error) {
	b, err := d.readBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *richDecoder) decode() (any, error) {
	tagByte, err := d.readByte()
	if err != nil {
		return nil, err
	}
	tag := Tag(tagByte)
	switch tag {
	case TagNil:
		return nil, nil
	case TagBool:
		b, err := d.readByte()
		return b != 0, err
	case TagInt:
		u, err := d.readUint64()
		return int64(u), err
	case TagUint:
		u, err := d.readUint64()
		return u, err
	case TagFloat:
		u, err := d.readUint64()
		return math.Float64frombits(u), err
	case TagString:
		return d.readString()
	case TagBytes:
		return d.readBytes()
	case TagBigInt:
		sign, err := d.readByte()
		if err != nil {
			return nil, err
		}
		data, err := d.readBytes()
		if err != nil {
			return nil, err
		}
		n := new(big.Int).SetBytes(data)
		if sign == 1 {
			n.Neg(n)
		}
		return n, nil
	case TagTime:
		data, err := d.readBytes()
		if err != nil {
			return nil, err
		}
		var t time.Time
		if err := t.UnmarshalBinary(data); err != nil {
			return nil, fmt.Errorf("decode time: %w", err)
		}
		return t, nil
	case TagRegexp:
		pattern, err := d.readString()
		if err != nil {
			return nil, err
		}
		return regexp.Compile(pattern)
	case TagCallbackRef:
		id, err := d.readUint64()
		return CallbackRef{ID: id}, err
	case TagRef:
		id, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		v, ok := d.refs[id]
		if !ok {
			return nil, fmt.Errorf("rich codec: unknown backreference %d", id)
		}
		return v, nil
	case TagSlice:
		return d.decodeSlice()
	case TagTypedInt8, TagTypedInt16, TagTypedInt32, TagTypedInt64,
		TagTypedUint8, TagTypedUint16, TagTypedUint32, TagTypedUint64,
		TagTypedFloat32, TagTypedFloat64:
		return d.decodeTypedSlice(tag)
	case TagMap:
		return d.decodeMap()
	case TagSet:
		return d.decodeSet()
	case TagStruct:
		return d.decodeStruct()
	case TagError:
		return d.decodeError()
	default:
		return nil, fmt.Errorf("rich codec: unknown tag %d", tagByte)
	}
}

func (d *richDecoder) decodeSlice() (any, error) {
	id, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	n, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	out := make([]any, n)
	if id != 0 {
		d.refs[id] = out
	}
	for i := range out {
		v, err := d.decode()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (d *richDecoder) decodeTypedSlice(tag Tag) (any, error) {
	id, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	n, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagTypedInt8:
		out := make([]int8, n)
		if id != 0 {
			d.refs[id] = out
		}
		for i := range out {
			u, err := d.readUint64()
			if err != nil {
				return nil, err
			}
			out[i] = int8(u)
		}
		return out, nil
	case TagTypedInt16:
		out := make([]int16, n)
		if id != 0 {
			d.refs[id] = out
		}
		for i := range out {
			u, err := d.readUint64()
			if err != nil {
				return nil, err
			}
			out[i] = int16(u)
		}
		return out, nil
	case TagTypedInt32:
		out := make([]int32, n)
		if id != 0 {
			d.refs[id] = out
		}
		for i := range out {
			u, err := d.readUint64()
			if err != nil {
				return nil, err
			}
			out[i] = int32(u)
		}
		return out, nil
	case TagTypedInt64:
		out := make([]int64, n)
		if id != 0 {
			d.refs[id] = out
		}
		for i := range out {
			u, err := d.readUint64()
			if err != nil {
				return nil, err
			}
			out[i] = int64(u)
		}
		return out, nil
	case TagTypedUint8:
		out := make([]uint8, n)
		if id != 0 {
			d.refs[id] = out
		}
		for i := range out {
			u, err := d.readUint64()
			if err != nil {
				return nil, err
			}
			out[i] = uint8(u)
		}
		return out, nil
	case TagTypedUint16:
		out := make([]uint16, n)
		if id != 0 {
			d.refs[id] = out
		}
		for i := range out {
			u, err := d.readUint64()
			if err != nil {
				return nil, err
			}
			out[i] = uint16(u)
		}
		return out, nil
	case TagTypedUint32:
		out := make([]uint32, n)
		if id != 0 {
			d.refs[id] = out
		}
		for i := range out {
			u, err := d.readUint64()
			if err != nil {
				return nil, err
			}
			out[i] = uint32(u)
		}
		return out, nil
	case TagTypedUint64:
		out := make([]uint64, n)
		if id != 0 {
			d.refs[id] = out
		}
		for i := range out {
			u, err := d.readUint64()
			if err != nil {
				return nil, err
			}
			out[i] = u
		}
		return out, nil
	case TagTypedFloat32:
		out := make([]float32, n)
		if id != 0 {
			d.refs[id] = out
		}
		for i := range out {
			u, err := d.readUint64()
			if err != nil {
				return nil, err
			}
			out[i] = float32(math.Float64frombits(u))
		}
		return out, nil
	case TagTypedFloat64:
		out := make([]float64, n)
		if id != 0 {
			d.refs[id] = out
		}
		for i := range out {
			u, err := d.readUint64()
			if err != nil {
				return nil, err
			}
			out[i] = math.Float64frombits(u)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("rich codec: not a typed slice tag %d", tag)
	}
}

func (d *richDecoder) decodeMap() (any, error) {
	id, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	n, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	out := make(map[any]any, n)
	if id != 0 {
		d.refs[id] = out
	}
	for i := uint32(0); i < n; i++ {
		k, err := d.decode()
		if err != nil {
			return nil, err
		}
		v, err := d.decode()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (d *richDecoder) decodeSet() (any, error) {
	n, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	out := Set{Values: make([]any, n)}
	for i := range out.Values {
		v, err := d.decode()
		if err != nil {
			return nil, err
		}
		out.Values[i] = v
	}
	return out, nil
}

func (d *richDecoder) decodeStruct() (any, error) {
	id, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	typeName, err := d.readString()
	if err != nil {
		return nil, err
	}
	n, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	fields := make(map[string]any, n)
	out := RichStruct{TypeName: typeName, Fields: fields}
	if id != 0 {
		// Registered before the fields are filled in: Fields is a map,
		// so a TagRef to this id encountered while decoding one of out's
		// own fields (a cyclic pointer back to this struct) resolves to
		// the same, still-filling-in map rather than "unknown
		// backreference".
		d.refs[id] = out
	}
	for i := uint32(0); i < n; i++ {
		name, err := d.readString()
		if err != nil {
			return nil, err
		}
		v, err := d.decode()
		if err != nil {
			return nil, err
		}
		fields[name] = v
	}
	return out, nil
}

func (d *richDecoder) decodeError() (any, error) {
	typeName, err := d.readString()
	if err != nil {
		return nil, err
	}
	message, err := d.readString()
	if err != nil {
		return nil, err
	}
	stack, err := d.readString()
	if err != nil {
		return nil, err
	}
	n, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	fields := make(map[string]any, n)
	for i := uint32(0); i < n; i++ {
		name, err := d.readString()
		if err != nil {
			return nil, err
		}
		v, err := d.decode()
		if err != nil {
			return nil, err
		}
		fields[name] = v
	}
	cause, err := d.decode()
	if err != nil {
		return nil, err
	}
	return &RichError{Name: typeName, Message: message, Stack: stack, Fields: fields, Cause: cause}, nil
}


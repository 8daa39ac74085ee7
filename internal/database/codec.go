package database

import (
	"bytes"
	"reflect"
	"time"

	"github.com/asdine/storm/v3"
	stormcodec "github.com/asdine/storm/v3/codec"
	"github.com/asdine/storm/v3/codec/msgpack"
	"github.com/pkg/errors"
	"github.com/ugorji/go/codec"
)

// Supported storage formats.
const (
	CodecMsgpack = "msgpack"
	CodecCBOR    = "cbor"
	CodecBinc    = "binc"
)

// cborTimeTag marks nanosecond RFC3339 timestamps in CBOR documents.
const cborTimeTag = 1001

// StormCodec is the storm option selecting the format used to store data in the database.
var StormCodec = storm.Codec(msgpack.Codec)

// SetCodec selects the format used to store data in the database.
// It must be called before the database is opened and the format can not be changed afterwards.
func SetCodec(name string) error {
	c, err := Codec(name)
	if err != nil {
		return err
	}
	StormCodec = storm.Codec(c)
	return nil
}

// Codec returns the storage format for the given name.
// An empty name means msgpack.
func Codec(name string) (stormcodec.MarshalUnmarshaler, error) {
	switch name {
	case "", CodecMsgpack:
		return msgpack.Codec, nil
	case CodecCBOR:
		// The builtin CBOR time format is rounded to the microsecond.
		h := &codec.CborHandle{}
		h.TypeInfos = codec.NewTypeInfos([]string{"msgpack"})
		h.TimeNotBuiltin = true
		if err := h.SetInterfaceExt(reflect.TypeOf(time.Time{}), cborTimeTag, timeExt{}); err != nil {
			return nil, errors.Wrap(err, "could not register time extension")
		}
		return &ugorjiCodec{name: CodecCBOR, handle: h}, nil
	case CodecBinc:
		h := &codec.BincHandle{}
		h.TypeInfos = codec.NewTypeInfos([]string{"msgpack"})
		return &ugorjiCodec{name: CodecBinc, handle: h}, nil
	default:
		return nil, errors.Errorf("unsupported database codec: %s", name)
	}
}

// ugorjiCodec encodes to and decodes from CBOR (http://cbor.io/) or Binc (http://github.com/ugorji/binc).
// Struct fields are named after their msgpack tags so all formats share the same layout.
type ugorjiCodec struct {
	name   string
	handle codec.Handle
}

func (c *ugorjiCodec) Marshal(v any) ([]byte, error) {
	var b bytes.Buffer
	enc := codec.NewEncoder(&b, c.handle)
	err := enc.Encode(v)
	if err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (c *ugorjiCodec) Unmarshal(b []byte, v any) error {
	dec := codec.NewDecoderBytes(b, c.handle)
	return dec.Decode(v)
}

func (c *ugorjiCodec) Name() string {
	return c.name
}

// timeExt stores time.Time as an RFC3339 string with nanoseconds.
type timeExt struct{}

func (timeExt) ConvertExt(v any) any {
	switch t := v.(type) {
	case *time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	}
	return nil
}

func (timeExt) UpdateExt(dst any, src any) {
	t, ok := dst.(*time.Time)
	if !ok {
		return
	}

	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		*t = time.Time{}
		return
	}

	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		panic(errors.Wrap(err, "invalid stored time"))
	}
	*t = parsed.UTC()
}

package frame

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/danmuck/ntclient/internal/protocol"
	"github.com/danmuck/ntclient/internal/protocol/schema"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// TupleLen is the fixed element count of every binary-channel tuple.
const TupleLen = 4

var (
	ErrFrameTooLarge = errors.New("frame: frame too large")
	ErrArrayTooLarge = errors.New("frame: array too large")
)

// Frame is one decoded binary-channel tuple.
type Frame struct {
	ID        int64
	Timestamp int64
	Tag       uint8
	Value     schema.Value
}

// IsTimeSync reports whether f travels on the reserved clock channel.
func (f Frame) IsTimeSync() bool {
	return f.ID == protocol.TimeSyncID
}

// Limits constrains decode memory use.
type Limits struct {
	MaxFrameBytes int
	MaxArrayLen   int
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes: 8 * 1024 * 1024,
		MaxArrayLen:   1 << 20,
	}
}

// NowMicros returns t as integer microseconds since the Unix epoch.
func NowMicros(t time.Time) int64 {
	return t.UnixMicro()
}

// EncodeValue builds the canonical [id, timestamp, tag, value] tuple.
func EncodeValue(id int64, timestampMicros int64, tag uint8, v schema.Value) ([]byte, error) {
	if v.IsZero() {
		return nil, fmt.Errorf("%w: absent value", protocol.ErrInvalidArgument)
	}
	if timestampMicros < 0 {
		return nil, fmt.Errorf("%w: negative timestamp %d", protocol.ErrInvalidArgument, timestampMicros)
	}
	want, err := schema.TagOf(v.Kind())
	if err != nil {
		return nil, err
	}
	if want != tag {
		return nil, fmt.Errorf("%w: tag %d carries %s", protocol.ErrTypeMismatch, tag, v.Kind())
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := writeHeader(enc, id, uint64(timestampMicros), tag); err != nil {
		return nil, err
	}
	if err := writeValue(enc, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTimeProbe builds the [-1, 0, 1, now] clock probe. The probe value is
// an integer microsecond count even though the tag names double.
func EncodeTimeProbe(nowMicros int64) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := writeHeader(enc, protocol.TimeSyncID, 0, uint8(schema.KindDouble)); err != nil {
		return nil, err
	}
	if err := enc.EncodeInt(nowMicros); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeHeader(enc *msgpack.Encoder, id int64, ts uint64, tag uint8) error {
	if err := enc.EncodeArrayLen(TupleLen); err != nil {
		return err
	}
	if err := enc.EncodeInt(id); err != nil {
		return err
	}
	if err := enc.EncodeUint(ts); err != nil {
		return err
	}
	return enc.EncodeUint(uint64(tag))
}

func writeValue(enc *msgpack.Encoder, v schema.Value) error {
	switch v.Kind() {
	case schema.KindBoolean:
		b, _ := v.AsBoolean()
		return enc.EncodeBool(b)
	case schema.KindDouble:
		d, _ := v.AsDouble()
		return enc.EncodeFloat64(d)
	case schema.KindInt:
		n, _ := v.AsInt()
		return enc.EncodeInt(n)
	case schema.KindFloat:
		f, _ := v.AsFloat()
		return enc.EncodeFloat32(f)
	case schema.KindString:
		s, _ := v.AsString()
		return enc.EncodeString(s)
	case schema.KindRaw:
		raw, _ := v.AsRaw()
		return enc.EncodeBytes(raw)
	case schema.KindBooleanArray:
		items, _ := v.AsBooleanArray()
		return writeArray(enc, items, enc.EncodeBool)
	case schema.KindDoubleArray:
		items, _ := v.AsDoubleArray()
		return writeArray(enc, items, enc.EncodeFloat64)
	case schema.KindIntArray:
		items, _ := v.AsIntArray()
		return writeArray(enc, items, enc.EncodeInt)
	case schema.KindFloatArray:
		items, _ := v.AsFloatArray()
		return writeArray(enc, items, enc.EncodeFloat32)
	case schema.KindStringArray:
		items, _ := v.AsStringArray()
		return writeArray(enc, items, enc.EncodeString)
	}
	return fmt.Errorf("%w: %s", protocol.ErrUnknownType, v.Kind())
}

func writeArray[T any](enc *msgpack.Encoder, items []T, write func(T) error) error {
	if err := enc.EncodeArrayLen(len(items)); err != nil {
		return err
	}
	for _, item := range items {
		if err := write(item); err != nil {
			return err
		}
	}
	return nil
}

// DecodeFrame decodes exactly one tuple; trailing bytes are malformed.
func DecodeFrame(b []byte, limits Limits) (Frame, error) {
	if limits.MaxFrameBytes > 0 && len(b) > limits.MaxFrameBytes {
		return Frame{}, fmt.Errorf("%w: %w: %d bytes", protocol.ErrMalformedFrame, ErrFrameTooLarge, len(b))
	}
	r := bytes.NewReader(b)
	dec := msgpack.NewDecoder(r)
	f, err := decodeTuple(dec, r, limits)
	if err != nil {
		return Frame{}, err
	}
	if r.Len() != 0 {
		return Frame{}, fmt.Errorf("%w: %d trailing bytes", protocol.ErrMalformedFrame, r.Len())
	}
	return f, nil
}

// DecodeAll decodes back-to-back tuples from one binary message. Decoding
// stops at the first malformed tuple; frames before it are returned with the
// error.
func DecodeAll(b []byte, limits Limits) ([]Frame, error) {
	if limits.MaxFrameBytes > 0 && len(b) > limits.MaxFrameBytes {
		return nil, fmt.Errorf("%w: %w: %d bytes", protocol.ErrMalformedFrame, ErrFrameTooLarge, len(b))
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty message", protocol.ErrMalformedFrame)
	}
	r := bytes.NewReader(b)
	dec := msgpack.NewDecoder(r)
	var frames []Frame
	for r.Len() > 0 {
		f, err := decodeTuple(dec, r, limits)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func decodeTuple(dec *msgpack.Decoder, r *bytes.Reader, limits Limits) (Frame, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return Frame{}, malformed("tuple", err)
	}
	if !isArrayCode(c) {
		return Frame{}, malformed("tuple", fmt.Errorf("not an array (code=%#x)", c))
	}
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return Frame{}, malformed("tuple", err)
	}
	if n != TupleLen {
		return Frame{}, malformed("tuple", fmt.Errorf("%d elements, want %d", n, TupleLen))
	}

	id, err := readTopicID(dec)
	if err != nil {
		return Frame{}, malformed("id", err)
	}
	ts, err := readTimestamp(dec)
	if err != nil {
		return Frame{}, malformed("timestamp", err)
	}
	tag, err := readTag(dec)
	if err != nil {
		return Frame{}, malformed("type", err)
	}
	kind, err := schema.KindOf(tag)
	if err != nil {
		return Frame{}, malformed("type", err)
	}
	v, err := readValue(dec, kind, limits, r.Len())
	if err != nil {
		return Frame{}, malformed("value", err)
	}
	return Frame{ID: id, Timestamp: ts, Tag: tag, Value: v}, nil
}

func malformed(field string, err error) error {
	return fmt.Errorf("%w: %s: %w", protocol.ErrMalformedFrame, field, err)
}

func isArrayCode(c byte) bool {
	return msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32
}

func isPosFixNum(c byte) bool { return c <= msgpcode.PosFixedNumHigh }
func isNegFixNum(c byte) bool { return c >= msgpcode.NegFixedNumLow }

func isUnsignedCode(c byte) bool {
	return c == msgpcode.Uint8 || c == msgpcode.Uint16 || c == msgpcode.Uint32 || c == msgpcode.Uint64
}

func isSignedCode(c byte) bool {
	return c == msgpcode.Int8 || c == msgpcode.Int16 || c == msgpcode.Int32 || c == msgpcode.Int64
}

func isIntCode(c byte) bool {
	return isPosFixNum(c) || isNegFixNum(c) || isUnsignedCode(c) || isSignedCode(c)
}

// readTopicID accepts fixnums and the 8/16/32-bit signed or unsigned
// encodings. The id must fit in int32.
func readTopicID(dec *msgpack.Decoder) (int64, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return 0, err
	}
	switch {
	case isPosFixNum(c), isNegFixNum(c),
		c == msgpcode.Int8, c == msgpcode.Uint8,
		c == msgpcode.Int16, c == msgpcode.Uint16,
		c == msgpcode.Int32, c == msgpcode.Uint32:
	default:
		return 0, fmt.Errorf("unexpected encoding (code=%#x)", c)
	}
	n, err := dec.DecodeInt64()
	if err != nil {
		return 0, err
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, fmt.Errorf("id %d out of range", n)
	}
	return n, nil
}

// readTimestamp accepts unsigned 8..64-bit encodings, and signed encodings
// holding a non-negative count.
func readTimestamp(dec *msgpack.Decoder) (int64, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return 0, err
	}
	switch {
	case isPosFixNum(c), isUnsignedCode(c):
		u, err := dec.DecodeUint64()
		if err != nil {
			return 0, err
		}
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("timestamp %d out of range", u)
		}
		return int64(u), nil
	case isSignedCode(c):
		n, err := dec.DecodeInt64()
		if err != nil {
			return 0, err
		}
		if n < 0 {
			return 0, fmt.Errorf("negative timestamp %d", n)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected encoding (code=%#x)", c)
	}
}

func readTag(dec *msgpack.Decoder) (uint8, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return 0, err
	}
	if !isPosFixNum(c) && c != msgpcode.Uint8 {
		return 0, fmt.Errorf("unexpected encoding (code=%#x)", c)
	}
	u, err := dec.DecodeUint64()
	if err != nil {
		return 0, err
	}
	if u > math.MaxUint8 {
		return 0, fmt.Errorf("tag %d out of range", u)
	}
	return uint8(u), nil
}

// readValue decodes one value of kind. remaining is the unread byte count,
// which bounds any array length.
func readValue(dec *msgpack.Decoder, kind schema.Kind, limits Limits, remaining int) (schema.Value, error) {
	switch kind {
	case schema.KindBoolean:
		b, err := readBool(dec)
		return schema.Boolean(b), err
	case schema.KindDouble:
		d, err := readDouble(dec)
		return schema.Double(d), err
	case schema.KindInt:
		n, err := readInt(dec)
		return schema.Int(n), err
	case schema.KindFloat:
		f, err := readFloat(dec)
		return schema.Float(f), err
	case schema.KindString:
		s, err := readString(dec)
		return schema.String(s), err
	case schema.KindRaw:
		raw, err := readRaw(dec)
		return schema.Raw(raw), err
	case schema.KindBooleanArray:
		items, err := readArray(dec, limits, remaining, readBool)
		return schema.BooleanArray(items), err
	case schema.KindDoubleArray:
		items, err := readArray(dec, limits, remaining, readDouble)
		return schema.DoubleArray(items), err
	case schema.KindIntArray:
		items, err := readArray(dec, limits, remaining, readInt)
		return schema.IntArray(items), err
	case schema.KindFloatArray:
		items, err := readArray(dec, limits, remaining, readFloat)
		return schema.FloatArray(items), err
	case schema.KindStringArray:
		items, err := readArray(dec, limits, remaining, readString)
		return schema.StringArray(items), err
	}
	return schema.Value{}, fmt.Errorf("%w: %s", protocol.ErrUnknownType, kind)
}

func readBool(dec *msgpack.Decoder) (bool, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return false, err
	}
	if c != msgpcode.True && c != msgpcode.False {
		return false, fmt.Errorf("boolean: unexpected encoding (code=%#x)", c)
	}
	return dec.DecodeBool()
}

// readDouble tries float64, float32, then integer encodings in that order.
func readDouble(dec *msgpack.Decoder) (float64, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return 0, err
	}
	switch {
	case c == msgpcode.Double:
		return dec.DecodeFloat64()
	case c == msgpcode.Float:
		f, err := dec.DecodeFloat32()
		return float64(f), err
	case isIntCode(c):
		n, err := readInt(dec)
		return float64(n), err
	}
	return 0, fmt.Errorf("double: unexpected encoding (code=%#x)", c)
}

func readFloat(dec *msgpack.Decoder) (float32, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return 0, err
	}
	switch {
	case c == msgpcode.Float:
		return dec.DecodeFloat32()
	case c == msgpcode.Double:
		d, err := dec.DecodeFloat64()
		return float32(d), err
	case isIntCode(c):
		n, err := readInt(dec)
		return float32(n), err
	}
	return 0, fmt.Errorf("float: unexpected encoding (code=%#x)", c)
}

func readInt(dec *msgpack.Decoder) (int64, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return 0, err
	}
	if !isIntCode(c) {
		return 0, fmt.Errorf("int: unexpected encoding (code=%#x)", c)
	}
	if c == msgpcode.Uint64 {
		u, err := dec.DecodeUint64()
		if err != nil {
			return 0, err
		}
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("int: %d out of range", u)
		}
		return int64(u), nil
	}
	return dec.DecodeInt64()
}

func readString(dec *msgpack.Decoder) (string, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return "", err
	}
	if !msgpcode.IsString(c) {
		return "", fmt.Errorf("string: unexpected encoding (code=%#x)", c)
	}
	return dec.DecodeString()
}

func readRaw(dec *msgpack.Decoder) ([]byte, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}
	if !msgpcode.IsBin(c) && !msgpcode.IsString(c) {
		return nil, fmt.Errorf("raw: unexpected encoding (code=%#x)", c)
	}
	return dec.DecodeBytes()
}

func readArray[T any](dec *msgpack.Decoder, limits Limits, remaining int, read func(*msgpack.Decoder) (T, error)) ([]T, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}
	if !isArrayCode(c) {
		return nil, fmt.Errorf("array: unexpected encoding (code=%#x)", c)
	}
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if limits.MaxArrayLen > 0 && n > limits.MaxArrayLen {
		return nil, fmt.Errorf("%w: %d elements", ErrArrayTooLarge, n)
	}
	// Every element takes at least one byte.
	if n > remaining {
		return nil, fmt.Errorf("array: %d elements but %d bytes remain", n, remaining)
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		item, err := read(dec)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		out = append(out, item)
	}
	return out, nil
}

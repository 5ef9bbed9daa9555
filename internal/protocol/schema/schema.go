package schema

import (
	"fmt"
	"strings"

	"github.com/danmuck/ntclient/internal/protocol"
)

// Kind is one member of the closed set of NT4 value kinds.
type Kind uint8

// Kind values double as the binary-channel type tags.
const (
	KindBoolean      Kind = 0
	KindDouble       Kind = 1
	KindInt          Kind = 2
	KindFloat        Kind = 3
	KindString       Kind = 4
	KindRaw          Kind = 5
	KindBooleanArray Kind = 16
	KindDoubleArray  Kind = 17
	KindIntArray     Kind = 18
	KindFloatArray   Kind = 19
	KindStringArray  Kind = 20
)

var typeNames = map[Kind]string{
	KindBoolean:      "boolean",
	KindDouble:       "double",
	KindInt:          "int",
	KindFloat:        "float",
	KindString:       "string",
	KindRaw:          "raw",
	KindBooleanArray: "boolean[]",
	KindDoubleArray:  "double[]",
	KindIntArray:     "int[]",
	KindFloatArray:   "float[]",
	KindStringArray:  "string[]",
}

// Type strings a server may announce that share a tag with a primary kind.
var typeAliases = map[string]Kind{
	"json":     KindString,
	"msgpack":  KindRaw,
	"protobuf": KindRaw,
	"rpc":      KindRaw,
}

func (k Kind) Valid() bool {
	_, ok := typeNames[k]
	return ok
}

// String returns the control-channel type string.
func (k Kind) String() string {
	if name, ok := typeNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// TagOf maps a kind to its 8-bit wire tag.
func TagOf(k Kind) (uint8, error) {
	if !k.Valid() {
		return 0, fmt.Errorf("%w: %s", protocol.ErrUnknownType, k)
	}
	return uint8(k), nil
}

// KindOf maps a wire tag back to its kind.
func KindOf(tag uint8) (Kind, error) {
	k := Kind(tag)
	if !k.Valid() {
		return 0, fmt.Errorf("%w: tag %d", protocol.ErrUnknownType, tag)
	}
	return k, nil
}

// ParseType maps a control-channel type string to its kind.
func ParseType(raw string) (Kind, error) {
	name := strings.TrimSpace(raw)
	for k, n := range typeNames {
		if n == name {
			return k, nil
		}
	}
	if k, ok := typeAliases[name]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("%w: %q", protocol.ErrUnknownType, raw)
}

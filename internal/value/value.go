// Package value provides the runtime-typed values that flow between nodes:
// cty values with a compact type-carrying binary encoding, content hashing,
// and the hash-caching wrapper used for literal node inputs.
package value

import (
	"fmt"
	"hash/fnv"

	"github.com/zclconf/go-cty/cty"
	ctymsgpack "github.com/zclconf/go-cty/cty/msgpack"
)

// Encode serializes a value into its compact binary form. The encoding is
// type-carrying, so the original type is recoverable without out-of-band
// information.
func Encode(v cty.Value) ([]byte, error) {
	raw, err := ctymsgpack.Marshal(v, cty.DynamicPseudoType)
	if err != nil {
		return nil, fmt.Errorf("encoding value of type %s: %w", v.Type().FriendlyName(), err)
	}
	return raw, nil
}

// Decode reverses Encode. A failure here is a hard error for the caller;
// literal inputs are never silently dropped.
func Decode(raw []byte) (cty.Value, error) {
	v, err := ctymsgpack.Unmarshal(raw, cty.DynamicPseudoType)
	if err != nil {
		return cty.NilVal, fmt.Errorf("decoding tagged value: %w", err)
	}
	return v, nil
}

// MustEncode is Encode for values known to be serializable, such as literals
// produced by the graph document loader.
func MustEncode(v cty.Value) []byte {
	raw, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return raw
}

// Hash returns a content hash of a value, derived from its binary encoding.
// Values that cannot be encoded hash by their Go string rendering, which is
// stable within a process.
func Hash(v cty.Value) uint64 {
	h := fnv.New64a()
	if raw, err := Encode(v); err == nil {
		h.Write(raw)
	} else {
		fmt.Fprintf(h, "%#v", v)
	}
	return h.Sum64()
}

// HashAny hashes arbitrary call inputs. cty values hash by content, anything
// else by its Go value rendering.
func HashAny(input any) uint64 {
	if v, ok := input.(cty.Value); ok {
		return Hash(v)
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%T:%#v", input, input)
	return h.Sum64()
}

package canister

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/canister-sim/errors"
	"github.com/wippyai/canister-sim/principal"
)

// Codec converts typed arguments and replies to message bytes.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	// CBOR encodes values with deterministic core CBOR.
	CBOR Codec = newCBORCodec()
	// Raw passes []byte and string values through unchanged.
	Raw Codec = rawCodec{}
)

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() cborCodec {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) Name() string { return "cbor" }

func (c cborCodec) Marshal(v any) ([]byte, error) {
	b, err := c.enc.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCodec, errors.KindInvalidData, err, "cbor encode")
	}
	return b, nil
}

func (c cborCodec) Unmarshal(data []byte, v any) error {
	if err := c.dec.Unmarshal(data, v); err != nil {
		return errors.Wrap(errors.PhaseCodec, errors.KindInvalidData, err, "cbor decode")
	}
	return nil
}

type rawCodec struct{}

func (rawCodec) Name() string { return "raw" }

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	case nil:
		return nil, nil
	default:
		return nil, errors.InvalidInput(errors.PhaseCodec, fmt.Sprintf("raw codec cannot encode %T", v))
	}
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	switch x := v.(type) {
	case *[]byte:
		*x = append([]byte(nil), data...)
	case *string:
		*x = string(data)
	default:
		return errors.InvalidInput(errors.PhaseCodec, fmt.Sprintf("raw codec cannot decode into %T", v))
	}
	return nil
}

// Decode unmarshals data into a new T. Empty data yields the zero value.
func Decode[T any](codec Codec, data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	err := codec.Unmarshal(data, &v)
	return v, err
}

// MustEncode marshals v and panics on failure. Intended for fixtures.
func MustEncode(codec Codec, v any) []byte {
	b, err := codec.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Typed adapts a typed function to a Handler.
//
// The argument is decoded with codec (empty argument data decodes to the
// zero value); a decode failure traps. A returned error rejects the call
// with its message, otherwise the result is encoded and replied.
func Typed[A, R any](codec Codec, fn func(sys System, arg A) (R, error)) Handler {
	return func(sys System) {
		data, err := sys.ArgData()
		if err != nil {
			sys.Trap(err.Error())
		}
		arg, err := Decode[A](codec, data)
		if err != nil {
			sys.Trap("decode argument: " + err.Error())
		}

		res, err := fn(sys, arg)
		if err != nil {
			if rejErr := sys.Reject(err.Error()); rejErr != nil {
				sys.Trap(rejErr.Error())
			}
			return
		}

		out, err := codec.Marshal(res)
		if err != nil {
			sys.Trap("encode reply: " + err.Error())
		}
		if err := sys.Reply(out); err != nil {
			sys.Trap(err.Error())
		}
	}
}

// Await waits for a pending call and decodes its reply. Rejects and traps
// are returned as the outcome's error.
func Await[R any](codec Codec, p Pending) (R, error) {
	var zero R
	out, err := p.Await()
	if err != nil {
		return zero, err
	}
	if !out.IsReply() {
		return zero, out.Err()
	}
	return Decode[R](codec, out.Data)
}

// CallTyped encodes arg, performs the call and awaits its decoded reply.
func CallTyped[A, R any](sys System, codec Codec, target principal.Principal, method string, arg A) (R, error) {
	var zero R
	data, err := codec.Marshal(arg)
	if err != nil {
		return zero, err
	}
	p, err := sys.Call(target, method).WithArg(data).Perform()
	if err != nil {
		return zero, err
	}
	return Await[R](codec, p)
}

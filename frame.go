package scriptbox

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/zhangyunhao116/scriptbox/internal/interp"
)

// maxFrameBytes bounds a result frame read from a child. Output is capped
// separately, so a frame this large means a misbehaving child.
const maxFrameBytes = 256 << 20

// childRequest is sent to the child on stdin.
type childRequest struct {
	Request     interp.Request `cbor:"request"`
	CPUSeconds  int            `cbor:"cpu_seconds"`
	MemoryBytes int64          `cbor:"memory_bytes"`
	OutputBytes int64          `cbor:"output_bytes"`
}

// resultFrame is the child's single reply, written on fd 3.
type resultFrame struct {
	Outcome interp.Outcome `cbor:"outcome"`
	// LimitFailures lists the hardening and limit steps the host refused.
	LimitFailures []string `cbor:"limit_failures,omitempty"`
}

var (
	frameEncMode cbor.EncMode
	frameDecMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Big integers always travel as bignum tags so they decode back to
	// *big.Int rather than overflowing the signed integer conversion.
	encOptions.BigIntConvert = cbor.BigIntConvertNone
	frameEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("scriptbox: CBOR encoder initialization failed: " + err.Error())
	}

	frameDecMode, err = cbor.DecOptions{
		// Script data only has string keys.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Integers decode as int64 whatever their sign, matching what the
		// interpreter produces in-process.
		IntDec:    cbor.IntDecConvertSigned,
		BigIntDec: cbor.BigIntDecodePointer,
	}.DecMode()
	if err != nil {
		panic("scriptbox: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshalFrame(v any) ([]byte, error) {
	return frameEncMode.Marshal(v)
}

func unmarshalFrame(data []byte, v any) error {
	return frameDecMode.Unmarshal(data, v)
}

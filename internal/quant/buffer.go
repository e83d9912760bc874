package quant

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/EdgeAINexus/ai-edge-quantizer/pkg/mgf"
)

// DecodeFloats reads a constant buffer payload as float32 values.
// F16 payloads are widened.
func DecodeFloats(data []byte, dt mgf.DType) ([]float32, error) {
	switch dt {
	case mgf.DTypeF32:
		if len(data)%4 != 0 {
			return nil, fmt.Errorf("quant: f32 payload length %d not a multiple of 4", len(data))
		}
		out := make([]float32, len(data)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return out, nil
	case mgf.DTypeF16:
		if len(data)%2 != 0 {
			return nil, fmt.Errorf("quant: f16 payload length %d not a multiple of 2", len(data))
		}
		out := make([]float32, len(data)/2)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(data[i*2:])).Float32()
		}
		return out, nil
	default:
		return nil, fmt.Errorf("quant: cannot decode %s payload as floats", dt)
	}
}

// EncodeFloats writes float32 values as a constant buffer payload at dt.
func EncodeFloats(vals []float32, dt mgf.DType) ([]byte, error) {
	switch dt {
	case mgf.DTypeF32:
		out := make([]byte, len(vals)*4)
		for i, v := range vals {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
		return out, nil
	case mgf.DTypeF16:
		out := make([]byte, len(vals)*2)
		for i, v := range vals {
			binary.LittleEndian.PutUint16(out[i*2:], float16.Fromfloat32(v).Bits())
		}
		return out, nil
	default:
		return nil, fmt.Errorf("quant: cannot encode floats as %s", dt)
	}
}

func encodeInts(vals []int64, dt mgf.DType) ([]byte, error) {
	switch dt {
	case mgf.DTypeI8:
		out := make([]byte, len(vals))
		for i, v := range vals {
			out[i] = byte(int8(v))
		}
		return out, nil
	case mgf.DTypeI16:
		out := make([]byte, len(vals)*2)
		for i, v := range vals {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
		}
		return out, nil
	case mgf.DTypeI32:
		out := make([]byte, len(vals)*4)
		for i, v := range vals {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(int32(v)))
		}
		return out, nil
	case mgf.DTypeI64:
		out := make([]byte, len(vals)*8)
		for i, v := range vals {
			binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("quant: unsupported integer storage type %s", dt)
	}
}

func decodeInts(data []byte, dt mgf.DType) ([]int64, error) {
	size := dt.Size()
	if size == 0 {
		return nil, fmt.Errorf("quant: unsupported integer storage type %s", dt)
	}
	if len(data)%size != 0 {
		return nil, fmt.Errorf("quant: %s payload length %d not a multiple of %d", dt, len(data), size)
	}
	n := len(data) / size
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		switch dt {
		case mgf.DTypeI8:
			out[i] = int64(int8(data[i]))
		case mgf.DTypeI16:
			out[i] = int64(int16(binary.LittleEndian.Uint16(data[i*2:])))
		case mgf.DTypeI32:
			out[i] = int64(int32(binary.LittleEndian.Uint32(data[i*4:])))
		case mgf.DTypeI64:
			out[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
		default:
			return nil, fmt.Errorf("quant: unsupported integer storage type %s", dt)
		}
	}
	return out, nil
}

package mgf

import (
	"encoding/binary"
	"math"
)

// maxTableEntries bounds decoded table sizes so corrupt counts cannot drive
// huge allocations.
const maxTableEntries = 1 << 24

// payloadWriter builds a section payload with explicit little-endian encoding.
type payloadWriter struct {
	b []byte
}

func newPayloadWriter() *payloadWriter {
	return &payloadWriter{b: make([]byte, 0, 256)}
}

func (w *payloadWriter) bytes() []byte { return w.b }

func (w *payloadWriter) u8(v uint8) { w.b = append(w.b, v) }

func (w *payloadWriter) u32(v uint32) {
	w.b = binary.LittleEndian.AppendUint32(w.b, v)
}

func (w *payloadWriter) u64(v uint64) {
	w.b = binary.LittleEndian.AppendUint64(w.b, v)
}

func (w *payloadWriter) i32(v int32) { w.u32(uint32(v)) }

func (w *payloadWriter) f32(v float32) { w.u32(math.Float32bits(v)) }

func (w *payloadWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.b = append(w.b, s...)
}

func (w *payloadWriter) raw(p []byte) { w.b = append(w.b, p...) }

func (w *payloadWriter) i32s(vs []int32) {
	w.u32(uint32(len(vs)))
	for _, v := range vs {
		w.i32(v)
	}
}

func (w *payloadWriter) i64s(vs []int64) {
	w.u32(uint32(len(vs)))
	for _, v := range vs {
		w.u64(uint64(v))
	}
}

func (w *payloadWriter) f32s(vs []float32) {
	w.u32(uint32(len(vs)))
	for _, v := range vs {
		w.f32(v)
	}
}

func (w *payloadWriter) align(n int) {
	for len(w.b)%n != 0 {
		w.b = append(w.b, 0)
	}
}

// payloadReader walks a section payload with bounds checking. The first
// out-of-range read latches an error; subsequent reads return zero values.
type payloadReader struct {
	b    []byte
	off  int
	fail bool
}

func newPayloadReader(b []byte) *payloadReader {
	return &payloadReader{b: b}
}

func (r *payloadReader) err() error {
	if r.fail {
		return ErrCorruptFile
	}
	return nil
}

func (r *payloadReader) take(n int) []byte {
	if r.fail || n < 0 || r.off+n > len(r.b) {
		r.fail = true
		return nil
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *payloadReader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *payloadReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *payloadReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *payloadReader) i32() int32 { return int32(r.u32()) }

func (r *payloadReader) f32() float32 { return math.Float32frombits(r.u32()) }

func (r *payloadReader) str() string {
	n := r.u32()
	if n > uint32(len(r.b)) {
		r.fail = true
		return ""
	}
	return string(r.take(int(n)))
}

func (r *payloadReader) raw(n uint64) []byte {
	if n > uint64(len(r.b)) {
		r.fail = true
		return nil
	}
	return r.take(int(n))
}

func (r *payloadReader) i32s() []int32 {
	n := r.u32()
	if r.fail || n > maxTableEntries {
		r.fail = true
		return nil
	}
	out := make([]int32, 0, n)
	for i := uint32(0); i < n; i++ {
		out = append(out, r.i32())
	}
	if r.fail {
		return nil
	}
	return out
}

func (r *payloadReader) i64s() []int64 {
	n := r.u32()
	if r.fail || n > maxTableEntries {
		r.fail = true
		return nil
	}
	out := make([]int64, 0, n)
	for i := uint32(0); i < n; i++ {
		out = append(out, int64(r.u64()))
	}
	if r.fail {
		return nil
	}
	return out
}

func (r *payloadReader) f32s() []float32 {
	n := r.u32()
	if r.fail || n > maxTableEntries {
		r.fail = true
		return nil
	}
	out := make([]float32, 0, n)
	for i := uint32(0); i < n; i++ {
		out = append(out, r.f32())
	}
	if r.fail {
		return nil
	}
	return out
}

func (r *payloadReader) align(n int) {
	rem := r.off % n
	if rem == 0 {
		return
	}
	r.take(n - rem)
}

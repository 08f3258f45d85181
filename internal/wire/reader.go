package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

var ErrShortBuffer = errors.New("wire: short buffer")

// Reader decodes fields positionally. After the first failed read the reader
// is exhausted: every later read fails too.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) Remaining() int {
	if r.err != nil {
		return 0
	}
	return len(r.buf) - r.off
}

// Err returns the first read error, if any.
func (r *Reader) Err() error { return r.err }

func (r *Reader) take(n int, what string) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = fmt.Errorf("%s: need %d bytes at offset %d, have %d: %w", what, n, r.off, len(r.buf)-r.off, ErrShortBuffer)
		r.off = len(r.buf)
		return nil, r.err
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) Tag() (Tag, error) {
	b, err := r.take(1, "tag")
	if err != nil {
		return 0, err
	}
	return Tag(b[0]), nil
}

func (r *Reader) Uint8() (uint8, error) {
	b, err := r.take(1, "uint8")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Uint16() (uint16, error) {
	b, err := r.take(2, "uint16")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) Uint32() (uint32, error) {
	b, err := r.take(4, "uint32")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) Int16() (int16, error) {
	v, err := r.Uint16()
	return int16(v), err
}

func (r *Reader) Bool() (bool, error) {
	b, err := r.take(1, "bool")
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// Str reads a uint16 length-prefixed string.
func (r *Reader) Str() (string, error) {
	n, err := r.Uint16()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n), "string")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) HighRes() (float32, error) {
	v, err := r.Uint32()
	return math.Float32frombits(v), err
}

func (r *Reader) Standard() (float32, error) {
	v, err := r.Int16()
	return decodeStandard(v), err
}

func (r *Reader) LowRes() (float32, error) {
	v, err := r.Int16()
	return decodeLowRes(v), err
}

func (r *Reader) Small() (float32, error) {
	b, err := r.take(1, "small")
	if err != nil {
		return 0, err
	}
	return decodeSmall(int8(b[0])), nil
}

func (r *Reader) vec(n int, get func() (float32, error)) ([4]float32, error) {
	var out [4]float32
	for i := 0; i < n; i++ {
		f, err := get()
		if err != nil {
			return out, err
		}
		out[i] = f
	}
	return out, nil
}

func (r *Reader) HighResVec3() (mgl32.Vec3, error) {
	v, err := r.vec(3, r.HighRes)
	return mgl32.Vec3{v[0], v[1], v[2]}, err
}

func (r *Reader) StandardVec3() (mgl32.Vec3, error) {
	v, err := r.vec(3, r.Standard)
	return mgl32.Vec3{v[0], v[1], v[2]}, err
}

func (r *Reader) LowResVec3() (mgl32.Vec3, error) {
	v, err := r.vec(3, r.LowRes)
	return mgl32.Vec3{v[0], v[1], v[2]}, err
}

func (r *Reader) SmallVec3() (mgl32.Vec3, error) {
	v, err := r.vec(3, r.Small)
	return mgl32.Vec3{v[0], v[1], v[2]}, err
}

func (r *Reader) HighResVec4() (mgl32.Vec4, error) {
	v, err := r.vec(4, r.HighRes)
	return mgl32.Vec4{v[0], v[1], v[2], v[3]}, err
}

func (r *Reader) StandardQuat() (mgl32.Quat, error) {
	v, err := r.vec(4, r.Standard)
	return mgl32.Quat{W: v[3], V: mgl32.Vec3{v[0], v[1], v[2]}}, err
}

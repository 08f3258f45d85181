package udp

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
)

// maxPayload bounds a decompressed datagram so a hostile frame cannot
// expand without limit.
const maxPayload = 1 << 20

// Codec compresses whole datagram payloads.
type Codec interface {
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "zlib":
		return &zlibCodec{}, nil
	case "lz4":
		return lz4Codec{}, nil
	case "none":
		return noneCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

type zlibCodec struct {
	buf bytes.Buffer
	w   *zlib.Writer
}

func (c *zlibCodec) Name() string { return "zlib" }

func (c *zlibCodec) Compress(src []byte) ([]byte, error) {
	c.buf.Reset()
	if c.w == nil {
		c.w = zlib.NewWriter(&c.buf)
	} else {
		c.w.Reset(&c.buf)
	}
	if _, err := c.w.Write(src); err != nil {
		return nil, err
	}
	if err := c.w.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), c.buf.Bytes()...), nil
}

func (c *zlibCodec) Decompress(src []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return readLimited(zr)
}

type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }

// An empty payload compresses to an empty datagram; the receiver treats both
// the same way.
func (lz4Codec) Compress(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(src); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decompress(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}
	return readLimited(lz4.NewReader(bytes.NewReader(src)))
}

type noneCodec struct{}

func (noneCodec) Name() string { return "none" }

func (noneCodec) Compress(src []byte) ([]byte, error) {
	return append([]byte(nil), src...), nil
}

func (noneCodec) Decompress(src []byte) ([]byte, error) {
	if len(src) > maxPayload {
		return nil, fmt.Errorf("payload exceeds %d bytes", maxPayload)
	}
	return append([]byte(nil), src...), nil
}

func readLimited(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxPayload+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxPayload {
		return nil, fmt.Errorf("payload exceeds %d bytes", maxPayload)
	}
	return b, nil
}

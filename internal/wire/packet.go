package wire

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Packet is an ordered list of encoded fields and nested packets.
// Nested packets are kept by reference and flattened depth-first when the
// packet is serialized, so a sub-packet may still grow after being appended.
type Packet struct {
	parts []part
	items int
}

type part struct {
	raw []byte
	sub *Packet
}

func NewPacket() *Packet { return &Packet{} }

// Len is the number of top-level items (fields or sub-packets).
func (p *Packet) Len() int { return p.items }

// Empty reports whether serializing p would produce no bytes.
func (p *Packet) Empty() bool { return p.Size() == 0 }

// Size is the encoded byte length.
func (p *Packet) Size() int {
	n := 0
	for _, pt := range p.parts {
		if pt.sub != nil {
			n += pt.sub.Size()
			continue
		}
		n += len(pt.raw)
	}
	return n
}

func (p *Packet) Bytes() []byte {
	return p.AppendTo(make([]byte, 0, p.Size()))
}

func (p *Packet) AppendTo(b []byte) []byte {
	for _, pt := range p.parts {
		if pt.sub != nil {
			b = pt.sub.AppendTo(b)
			continue
		}
		b = append(b, pt.raw...)
	}
	return b
}

func (p *Packet) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(p.Bytes())
	return int64(n), err
}

// Append nests sub. Nil packets are ignored.
func (p *Packet) Append(sub *Packet) *Packet {
	if sub == nil {
		return p
	}
	p.parts = append(p.parts, part{sub: sub})
	p.items++
	return p
}

func (p *Packet) raw(b ...byte) *Packet {
	if n := len(p.parts); n > 0 && p.parts[n-1].sub == nil {
		p.parts[n-1].raw = append(p.parts[n-1].raw, b...)
	} else {
		p.parts = append(p.parts, part{raw: append([]byte(nil), b...)})
	}
	p.items++
	return p
}

func (p *Packet) AddTag(t Tag) *Packet { return p.raw(byte(t)) }

func (p *Packet) AddUint8(v uint8) *Packet { return p.raw(v) }

func (p *Packet) AddUint16(v uint16) *Packet {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return p.raw(tmp[:]...)
}

func (p *Packet) AddUint32(v uint32) *Packet {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return p.raw(tmp[:]...)
}

func (p *Packet) AddInt16(v int16) *Packet { return p.AddUint16(uint16(v)) }

func (p *Packet) AddBool(v bool) *Packet {
	if v {
		return p.raw(1)
	}
	return p.raw(0)
}

// AddString writes a uint16 length prefix followed by the bytes. Strings
// longer than 65535 bytes are truncated.
func (p *Packet) AddString(s string) *Packet {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], uint16(len(s)))
	return p.raw(append(tmp[:], s...)...)
}

func (p *Packet) AddHighRes(f float32) *Packet { return p.AddUint32(math.Float32bits(f)) }

func (p *Packet) AddStandard(f float32) *Packet { return p.AddInt16(encodeStandard(f)) }

func (p *Packet) AddLowRes(f float32) *Packet { return p.AddInt16(encodeLowRes(f)) }

func (p *Packet) AddSmall(f float32) *Packet { return p.raw(byte(encodeSmall(f))) }

func (p *Packet) AddHighResVec3(v mgl32.Vec3) *Packet {
	return p.AddHighRes(v[0]).AddHighRes(v[1]).AddHighRes(v[2])
}

func (p *Packet) AddStandardVec3(v mgl32.Vec3) *Packet {
	return p.AddStandard(v[0]).AddStandard(v[1]).AddStandard(v[2])
}

func (p *Packet) AddLowResVec3(v mgl32.Vec3) *Packet {
	return p.AddLowRes(v[0]).AddLowRes(v[1]).AddLowRes(v[2])
}

func (p *Packet) AddSmallVec3(v mgl32.Vec3) *Packet {
	return p.AddSmall(v[0]).AddSmall(v[1]).AddSmall(v[2])
}

func (p *Packet) AddHighResVec4(v mgl32.Vec4) *Packet {
	return p.AddHighRes(v[0]).AddHighRes(v[1]).AddHighRes(v[2]).AddHighRes(v[3])
}

// AddStandardQuat writes x, y, z, w.
func (p *Packet) AddStandardQuat(q mgl32.Quat) *Packet {
	return p.AddStandard(q.V[0]).AddStandard(q.V[1]).AddStandard(q.V[2]).AddStandard(q.W)
}

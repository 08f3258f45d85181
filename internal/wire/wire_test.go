package wire

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestStandardFloat_RoundTripBound(t *testing.T) {
	for f := float32(-290); f <= 290; f += 0.37 {
		p := NewPacket().AddStandard(f)
		got, err := NewReader(p.Bytes()).Standard()
		if err != nil {
			t.Fatalf("Standard(%v): %v", f, err)
		}
		if d := math.Abs(float64(got - f)); d >= 1.0/110.0+1e-6 {
			t.Fatalf("Standard(%v): got %v (err %v)", f, got, d)
		}
	}
}

func TestSmallFloat_RoundTripBound(t *testing.T) {
	for f := float32(-34.9); f <= 34.9; f += 0.113 {
		p := NewPacket().AddSmall(f)
		got, err := NewReader(p.Bytes()).Small()
		if err != nil {
			t.Fatalf("Small(%v): %v", f, err)
		}
		if d := math.Abs(float64(got - f)); d >= 35.0/127.0+1e-6 {
			t.Fatalf("Small(%v): got %v (err %v)", f, got, d)
		}
	}
}

func TestFixedPoint_ClampsOutOfRange(t *testing.T) {
	cases := []struct {
		name string
		add  func(*Packet, float32) *Packet
		get  func(*Reader) (float32, error)
		in   float32
		want float32
	}{
		{"standard_hi", (*Packet).AddStandard, (*Reader).Standard, 1e6, 32767 / 110.0},
		{"standard_lo", (*Packet).AddStandard, (*Reader).Standard, -1e6, -32768 / 110.0},
		{"lowres_hi", (*Packet).AddLowRes, (*Reader).LowRes, 1e6, 32767 / 50.0},
		{"small_hi", (*Packet).AddSmall, (*Reader).Small, 100, 35},
		{"small_lo", (*Packet).AddSmall, (*Reader).Small, -100, -128 * 35.0 / 127.0},
		{"nan", (*Packet).AddStandard, (*Reader).Standard, float32(math.NaN()), 0},
	}
	for _, c := range cases {
		got, err := c.get(NewReader(c.add(NewPacket(), c.in).Bytes()))
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if math.Abs(float64(got-c.want)) > 1e-3 {
			t.Fatalf("%s: got %v want %v", c.name, got, c.want)
		}
	}
}

func TestPacket_NestedFlattensDepthFirst(t *testing.T) {
	inner := NewPacket().AddUint8(2).AddUint8(3)
	outer := NewPacket().AddUint8(1).Append(inner).AddUint8(4)
	// Sub-packets are referenced, not copied.
	inner.AddUint8(9)

	want := []byte{1, 2, 3, 9, 4}
	if got := outer.Bytes(); !bytes.Equal(got, want) {
		t.Fatalf("bytes: got %v want %v", got, want)
	}
	if outer.Len() != 3 {
		t.Fatalf("len: got %d want 3", outer.Len())
	}
	if outer.Size() != len(want) {
		t.Fatalf("size: got %d want %d", outer.Size(), len(want))
	}
	if !NewPacket().Append(NewPacket()).Empty() {
		t.Fatalf("expected packet of empty sub-packets to be empty")
	}
	if NewPacket().Append(nil).Len() != 0 {
		t.Fatalf("nil sub-packet should be ignored")
	}
}

func TestPacket_MixedRecordDecode(t *testing.T) {
	pos := mgl32.Vec3{1.5, -2.25, 300.125}
	q := mgl32.QuatRotate(0.7, mgl32.Vec3{0, 0, 1})
	p := NewPacket().
		AddTag(TagSpawn).
		AddUint8(7).
		AddUint16(65000).
		AddUint32(1 << 30).
		AddInt16(-1234).
		AddBool(true).
		AddString("drone-1").
		AddHighResVec3(pos).
		AddStandardQuat(q).
		AddLowResVec3(mgl32.Vec3{600, -600, 0.5}).
		AddSmallVec3(mgl32.Vec3{1, 2, 3}).
		AddHighResVec4(mgl32.Vec4{1, 2, 3, 4})

	r := NewReader(p.Bytes())
	tag, _ := r.Tag()
	u8, _ := r.Uint8()
	u16, _ := r.Uint16()
	u32, _ := r.Uint32()
	i16, _ := r.Int16()
	b, _ := r.Bool()
	s, _ := r.Str()
	gotPos, _ := r.HighResVec3()
	gotQ, _ := r.StandardQuat()
	low, _ := r.LowResVec3()
	small, _ := r.SmallVec3()
	v4, err := r.HighResVec4()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tag != TagSpawn || u8 != 7 || u16 != 65000 || u32 != 1<<30 || i16 != -1234 || !b || s != "drone-1" {
		t.Fatalf("scalars mismatch: %v %d %d %d %d %v %q", tag, u8, u16, u32, i16, b, s)
	}
	if gotPos != pos {
		t.Fatalf("pos: got %v want %v", gotPos, pos)
	}
	if !near(gotQ.V[0], q.V[0], 1.0/110) || !near(gotQ.V[1], q.V[1], 1.0/110) || !near(gotQ.V[2], q.V[2], 1.0/110) || !near(gotQ.W, q.W, 1.0/110) {
		t.Fatalf("quat: got %v want %v", gotQ, q)
	}
	if !nearVec(low, mgl32.Vec3{600, -600, 0.5}, 1.0/50) {
		t.Fatalf("lowres: got %v", low)
	}
	if !nearVec(small, mgl32.Vec3{1, 2, 3}, 35.0/127) {
		t.Fatalf("small: got %v", small)
	}
	if v4 != (mgl32.Vec4{1, 2, 3, 4}) {
		t.Fatalf("vec4: got %v", v4)
	}
	if r.Remaining() != 0 {
		t.Fatalf("remaining: %d", r.Remaining())
	}
}

func TestReader_ShortBufferIsSticky(t *testing.T) {
	p := NewPacket().AddUint8(1).AddUint16(5) // string length 5, no bytes
	r := NewReader(p.Bytes())
	if _, err := r.Uint8(); err != nil {
		t.Fatalf("uint8: %v", err)
	}
	r2 := NewReader(p.Bytes()[1:])
	if _, err := r2.Str(); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
	if r2.Remaining() != 0 {
		t.Fatalf("reader should be exhausted after failure")
	}
	if _, err := r2.Uint8(); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected sticky error, got %v", err)
	}
	if r2.Err() == nil {
		t.Fatalf("expected Err() to report failure")
	}
}

func TestTag_String(t *testing.T) {
	if TagEntityList.String() != "ENTITY_LIST" {
		t.Fatalf("got %q", TagEntityList.String())
	}
	if Tag(15).Known() {
		t.Fatalf("lobby tags are not part of this protocol")
	}
	if Tag(200).String() != "TAG(200)" {
		t.Fatalf("got %q", Tag(200).String())
	}
}

func near(a, b, tol float32) bool {
	return math.Abs(float64(a-b)) < float64(tol)
}

func nearVec(a, b mgl32.Vec3, tol float32) bool {
	return near(a[0], b[0], tol) && near(a[1], b[1], tol) && near(a[2], b[2], tol)
}

package wire

import "math"

// Fixed-point scales. Values are truncated toward zero and clamped to the
// integer range, so the decode error is strictly below 1/scale.
const (
	StandardScale = 110.0
	LowResScale   = 50.0
	SmallScale    = 127.0 / 35.0
)

func quantize(f float32, scale float64, lo, hi int) int {
	v := float64(f) * scale
	if math.IsNaN(v) {
		return 0
	}
	if v <= float64(lo) {
		return lo
	}
	if v >= float64(hi) {
		return hi
	}
	return int(v)
}

func encodeStandard(f float32) int16 {
	return int16(quantize(f, StandardScale, math.MinInt16, math.MaxInt16))
}

func decodeStandard(v int16) float32 { return float32(float64(v) / StandardScale) }

func encodeLowRes(f float32) int16 {
	return int16(quantize(f, LowResScale, math.MinInt16, math.MaxInt16))
}

func decodeLowRes(v int16) float32 { return float32(float64(v) / LowResScale) }

func encodeSmall(f float32) int8 {
	return int8(quantize(f, SmallScale, math.MinInt8, math.MaxInt8))
}

func decodeSmall(v int8) float32 { return float32(float64(v) / SmallScale) }

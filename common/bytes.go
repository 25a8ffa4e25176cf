package common

import (
	"unsafe"
)

// SliceToBytes converts any slice to a byte slice for GPU buffer uploads.
// Uses unsafe pointer operations to create a view into the original data.
// WARNING: The returned slice shares memory with the input - do not modify.
//
// Parameters:
//   - data: source slice of any type
//
// Returns:
//   - []byte: byte slice view of the input data, or nil if input is empty
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	size := unsafe.Sizeof(zero)
	totalBytes := int(size) * len(data)
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), totalBytes)
}

// BytesToSlice copies raw bytes read back from the GPU into a freshly allocated slice of T.
// Trailing bytes that do not fill a whole element are ignored.
//
// Parameters:
//   - data: the raw bytes
//
// Returns:
//   - []T: a new slice holding len(data)/sizeof(T) elements, or nil if data is too short
func BytesToSlice[T any](data []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size == 0 || len(data) < size {
		return nil
	}
	out := make([]T, len(data)/size)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&out[0])), len(out)*size), data)
	return out
}

// SnormToFloat converts a signed normalized 16-bit value to [-1, 1].
func SnormToFloat(v int16) float32 {
	f := float32(v) / 32767.0
	if f < -1 {
		return -1
	}
	return f
}

// UnormToFloat converts an unsigned normalized 8-bit value to [0, 1].
func UnormToFloat(v uint8) float32 {
	return float32(v) / 255.0
}

// FloatToSnorm converts a value in [-1, 1] to a signed normalized 16-bit value, clamping out-of-range input.
func FloatToSnorm(f float32) int16 {
	f = min(max(f, -1), 1)
	if f < 0 {
		return int16(f*32767.0 - 0.5)
	}
	return int16(f*32767.0 + 0.5)
}

// FloatToUnorm converts a value in [0, 1] to an unsigned normalized 8-bit value, clamping out-of-range input.
func FloatToUnorm(f float32) uint8 {
	f = min(max(f, 0), 1)
	return uint8(f*255.0 + 0.5)
}

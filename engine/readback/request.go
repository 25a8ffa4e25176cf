package readback

import (
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-deformer/engine/mesh"
	"github.com/Carmen-Shannon/oxy-deformer/engine/profiler"
)

// DescriptionCallback consumes a converted mesh description. A nil description signals failure.
type DescriptionCallback func(desc *mesh.Description)

// ArraysCallback consumes converted flat vertex arrays. An empty GeometryArrays signals failure.
type ArraysCallback func(arrays GeometryArrays)

// GeometryArrays holds converted geometry as flat arrays.
// Positions are per imported vertex; the remaining attributes are per vertex instance.
type GeometryArrays struct {
	Positions     [][3]float32
	Normals       [][3]float32
	Tangents      [][3]float32
	BinormalSigns []float32
	Colors        [][4]float32
}

// Empty reports whether no attribute holds data.
func (a GeometryArrays) Empty() bool {
	return len(a.Positions) == 0 && len(a.Normals) == 0 && len(a.Tangents) == 0 &&
		len(a.BinormalSigns) == 0 && len(a.Colors) == 0
}

func (a GeometryArrays) clone() GeometryArrays {
	return GeometryArrays{
		Positions:     append([][3]float32(nil), a.Positions...),
		Normals:       append([][3]float32(nil), a.Normals...),
		Tangents:      append([][3]float32(nil), a.Tangents...),
		BinormalSigns: append([]float32(nil), a.BinormalSigns...),
		Colors:        append([][4]float32(nil), a.Colors...),
	}
}

// Request is a one-shot request for the geometry produced by the next completed deformer pass.
//
// Exactly one terminal event happens per request: Complete delivers real data, or Release
// delivers empty values to every set callback. Whichever runs first wins; the other is a no-op.
type Request struct {
	onDescription DescriptionCallback
	onArrays      ArraysCallback
	handled       atomic.Bool
}

// NewRequest creates a Request with the provided callbacks.
//
// Parameters:
//   - options: a variadic list of RequestBuilderOption functions
//
// Returns:
//   - *Request: the new request
func NewRequest(options ...RequestBuilderOption) *Request {
	r := &Request{}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Handled reports whether the request already reached its terminal event.
func (r *Request) Handled() bool {
	return r.handled.Load()
}

// Complete delivers converted data to the request's callbacks.
//
// Parameters:
//   - desc: the converted mesh description
//   - arrays: the converted flat arrays
//
// Returns:
//   - bool: false if the request was already handled and nothing was invoked
func (r *Request) Complete(desc *mesh.Description, arrays GeometryArrays) bool {
	if !r.handled.CompareAndSwap(false, true) {
		return false
	}
	if r.onDescription != nil {
		r.onDescription(desc)
	}
	if r.onArrays != nil {
		r.onArrays(arrays)
	}
	profiler.ReadbackRequests.WithLabelValues("completed").Inc()
	return true
}

// Release destroys the request. If it has not been completed, each set callback is invoked once
// with an empty value.
//
// Returns:
//   - bool: true if the failure callbacks were invoked
func (r *Request) Release() bool {
	if !r.handled.CompareAndSwap(false, true) {
		return false
	}
	if r.onDescription != nil {
		r.onDescription(nil)
	}
	if r.onArrays != nil {
		r.onArrays(GeometryArrays{})
	}
	profiler.ReadbackRequests.WithLabelValues("failed").Inc()
	return true
}

// ReleaseAll releases every request in the slice.
//
// Parameters:
//   - requests: the requests to release
func ReleaseAll(requests []*Request) {
	for _, r := range requests {
		if r != nil {
			r.Release()
		}
	}
}

package readback

// RequestBuilderOption is a functional option for configuring a Request.
type RequestBuilderOption func(*Request)

// WithDescriptionCallback is an option builder that sets the mesh description consumer.
//
// Parameters:
//   - cb: the callback
//
// Returns:
//   - RequestBuilderOption: a function that applies the callback to a request
func WithDescriptionCallback(cb DescriptionCallback) RequestBuilderOption {
	return func(r *Request) {
		r.onDescription = cb
	}
}

// WithArraysCallback is an option builder that sets the flat vertex array consumer.
//
// Parameters:
//   - cb: the callback
//
// Returns:
//   - RequestBuilderOption: a function that applies the callback to a request
func WithArraysCallback(cb ArraysCallback) RequestBuilderOption {
	return func(r *Request) {
		r.onArrays = cb
	}
}

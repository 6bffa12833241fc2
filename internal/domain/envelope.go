package domain

// Envelope is the uniform success/data/error wrapper every backend response
// uses. Data is meaningful only when Success is true; Error only when it is
// false. TransactionSignature is set by operations that submit an on-chain
// transaction.
type Envelope[T any] struct {
	Success              bool   `json:"success"`
	Data                 T      `json:"data,omitempty"`
	Error                string `json:"error,omitempty"`
	TransactionSignature string `json:"transactionSignature,omitempty"`
}

// OK builds a successful envelope around data.
func OK[T any](data T) Envelope[T] {
	return Envelope[T]{Success: true, Data: data}
}

// Failure builds a failed envelope carrying msg. Data is left at its zero
// value.
func Failure[T any](msg string) Envelope[T] {
	return Envelope[T]{Success: false, Error: msg}
}

// Err converts a failed envelope into an error wrapping ErrBackend. It
// returns nil for successful envelopes.
func (e Envelope[T]) Err() error {
	if e.Success {
		return nil
	}
	return &BackendError{Message: e.Error}
}

// BackendError is the error form of a failed envelope.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return ErrBackend.Error()
	}
	return ErrBackend.Error() + ": " + e.Message
}

// Unwrap lets errors.Is match ErrBackend.
func (e *BackendError) Unwrap() error { return ErrBackend }

// Package batch models the outcome of best-effort operations over many items.
package batch

// ItemError describes one item that did not succeed.
type ItemError struct {
	// Key identifies the item within the batch (line id, suggestion key, remision number).
	Key string `json:"key"`
	// Ref is an optional secondary reference (material id, target remision).
	Ref string `json:"ref,omitempty"`
	// Error is the failure message.
	Error string `json:"error"`
	// Skipped marks recoverable conditions that were logged and passed over.
	Skipped bool `json:"skipped,omitempty"`
}

// Result collects per-item successes and failures.
type Result[T any] struct {
	Succeeded []T         `json:"succeeded"`
	Failed    []ItemError `json:"failed"`
}

// NewResult returns an empty result with non-nil slices.
func NewResult[T any]() *Result[T] {
	return &Result[T]{Succeeded: []T{}, Failed: []ItemError{}}
}

// Add records a success.
func (r *Result[T]) Add(item T) {
	r.Succeeded = append(r.Succeeded, item)
}

// Fail records a hard per-item failure.
func (r *Result[T]) Fail(key, ref string, err error) {
	r.Failed = append(r.Failed, ItemError{Key: key, Ref: ref, Error: err.Error()})
}

// Skip records a recoverable per-item condition.
func (r *Result[T]) Skip(key, ref, reason string) {
	r.Failed = append(r.Failed, ItemError{Key: key, Ref: ref, Error: reason, Skipped: true})
}

// OK is true when no item failed or was skipped.
func (r *Result[T]) OK() bool {
	return len(r.Failed) == 0
}

// Errors returns only the hard failures.
func (r *Result[T]) Errors() []ItemError {
	out := make([]ItemError, 0, len(r.Failed))
	for _, f := range r.Failed {
		if !f.Skipped {
			out = append(out, f)
		}
	}
	return out
}

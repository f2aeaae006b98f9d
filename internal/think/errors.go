package think

import "fmt"

// Error kinds surfaced on the terminating error line.
const (
	KindTransport = "Transport"
	KindFormat    = "Format"
	KindCancelled = "Cancelled"
	KindInternal  = "Internal"
)

// Error is the terminal failure of a thinking run. Tool-level failures
// never produce one; they are folded into the conversation as synthetic
// results.
type Error struct {
	Kind string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("think: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func failure(kind string, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

package wikibag

import "fmt"

// Kind classifies a service error for logging and response mapping.
type Kind int

const (
	// KindStorage marks persistence layer faults.
	KindStorage Kind = iota
	// KindValidation marks malformed input documents.
	KindValidation
	// KindResponse marks failures constructing an outgoing response.
	KindResponse
)

// String returns the kind's log label.
func (k Kind) String() string {
	switch k {
	case KindStorage:
		return "storage"
	case KindValidation:
		return "validation"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Error is a classified service error. All kinds surface to the client as
// 500 with the message as the body; the kind matters for logs only.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Storagef builds a Storage error.
func Storagef(format string, args ...any) error {
	return &Error{Kind: KindStorage, Message: fmt.Sprintf(format, args...)}
}

// Validationf builds a Validation error.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Responsef builds a Response error.
func Responsef(format string, args ...any) error {
	return &Error{Kind: KindResponse, Message: fmt.Sprintf(format, args...)}
}

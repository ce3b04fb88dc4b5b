package chat

import (
	"errors"
	"unicode"
	"unicode/utf8"
)

// Error kinds. Wrap with fmt.Errorf("%w: ...") and test with errors.Is.
var (
	ErrValidation   = errors.New("invalid message")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrTransient    = errors.New("temporarily unavailable")
)

// GenericSendFailure is what clients see for infrastructure failures.
const GenericSendFailure = "Failed to send message"

// PublicMessage renders err for the originating client. Client-caused kinds
// keep their detail; anything else collapses to GenericSendFailure.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotFound):
		return capitalize(err.Error())
	default:
		return GenericSendFailure
	}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

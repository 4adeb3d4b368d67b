package ntrip

import "fmt"

// Error is a protocol-visible failure. Status carries the HTTP-style
// code every dialect maps onto its own wire format.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

// Errorf builds an Error with a formatted message.
func Errorf(status int, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// Well-known failures. Handlers wrap these with context where useful;
// the dispatcher's top-level handler translates them to wire responses.
var (
	ErrBadRequest       = &Error{Status: 400, Message: "Bad Request"}
	ErrUnauthorized     = &Error{Status: 401, Message: "Unauthorized"}
	ErrForbidden        = &Error{Status: 403, Message: "Forbidden"}
	ErrMountNotFound    = &Error{Status: 404, Message: "Mount Point Not Found"}
	ErrMethodNotAllowed = &Error{Status: 405, Message: "Method Not Allowed"}
	ErrMountConflict    = &Error{Status: 409, Message: "Mount Point Already In Use"}
	ErrInternal         = &Error{Status: 500, Message: "Internal Server Error"}
)

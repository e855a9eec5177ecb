package request

import (
	"github.com/deixis/typhonweb/internal/i18n"
)

// ValidationError rejects a submission before any engine call. Key names
// the message in the i18n tables so the console can show it in the user's
// language.
type ValidationError struct {
	Field string
	Key   string
	Args  []any
	Err   error // underlying cause, if any
}

func (e *ValidationError) Error() string {
	return e.Localize(i18n.EN)
}

// Localize renders the message in lang.
func (e *ValidationError) Localize(lang i18n.Lang) string {
	return i18n.T(lang, e.Key, e.Args...)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field, key string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Key: key, Args: args}
}

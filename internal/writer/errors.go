package writer

import (
	"errors"
	"fmt"
)

// ErrMalformedPayload is matched by PayloadError.
var ErrMalformedPayload = errors.New("writer: malformed payload")

// PayloadError reports a response that does not have the shape of the
// query it answers.
type PayloadError struct {
	RecordID string
	Field    string
	Reason   string
}

func (e *PayloadError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("writer: record %q: %s", e.RecordID, e.Reason)
	}
	return fmt.Sprintf("writer: field %q of record %q: %s", e.Field, e.RecordID, e.Reason)
}

func (e *PayloadError) Is(target error) bool { return target == ErrMalformedPayload }

func malformed(recordID, field, format string, args ...any) error {
	return &PayloadError{RecordID: recordID, Field: field, Reason: fmt.Sprintf(format, args...)}
}

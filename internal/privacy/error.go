package privacy

// SanitizedError wraps an error and reports a scrubbed message. The original
// stays reachable through Unwrap for errors.Is and errors.As.
type SanitizedError struct {
	original     error
	sanitizedMsg string
}

func (e *SanitizedError) Error() string {
	return e.sanitizedMsg
}

func (e *SanitizedError) Unwrap() error {
	return e.original
}

// WrapError scrubs URLs from err's message. Returns nil for a nil error.
//
//	if errs := sender.Send(msg, &params); ... {
//	    return privacy.WrapError(err)
//	}
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &SanitizedError{
		original:     err,
		sanitizedMsg: ScrubMessage(err.Error()),
	}
}

package apiframework

// APIError carries a wire-friendly error representation alongside the
// underlying Go error so callers can keep using errors.Is.
type APIError struct {
	err       error
	message   string
	param     string
	errorType string
	errorCode string
}

func (e *APIError) Error() string {
	return e.message
}

func (e *APIError) Unwrap() error {
	return e.err
}

func (e *APIError) Message() string {
	return e.message
}

func (e *APIError) Param() string {
	return e.param
}

func (e *APIError) Type() string {
	return e.errorType
}

func (e *APIError) Code() string {
	return e.errorCode
}

package connmgr

import "fmt"

// ConnectionError is returned from Connect and reported through the
// Error status transition.
type ConnectionError struct {
	Retryable bool
	Reason    string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connmgr: %s (retryable=%v)", e.Reason, e.Retryable)
}

// AuthenticationError specializes ConnectionError for close codes in
// the [4000, 4100) band; it is always non-retryable.
type AuthenticationError struct {
	Code int
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("connmgr: authentication rejected (close code %d)", e.Code)
}

// IsAuthCloseCode reports whether code falls in the server's
// authentication-failure band, per spec §4.5/§6.
func IsAuthCloseCode(code int) bool {
	return code >= 4000 && code < 4100
}

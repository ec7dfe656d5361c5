package graph

import "fmt"

// AuthError means the token exchange itself failed. It is fatal: the
// client never retries authentication on its own.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("graph auth: %s: %v", e.Reason, e.Err)
	}
	return "graph auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// ClientError is a non-retryable 4xx response, carrying the error message
// the Graph API returned.
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("graph request: HTTP %d: %s", e.StatusCode, e.Message)
}

// ServerError is a 5xx (or an unhonored rate limit) that survived the
// whole retry budget.
type ServerError struct {
	StatusCode int
	Attempts   int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("graph request: server error %d after %d attempts", e.StatusCode, e.Attempts)
}

// TransportError is a network-level failure that survived the whole retry
// budget.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("graph request: transport failure after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

package auth

import "fmt"

// FlowState is a stage of the OIDC login
type FlowState string

const (
	StateInit               FlowState = "INIT"
	StateRedirected         FlowState = "REDIRECTED"
	StateCallbackReceived   FlowState = "CALLBACK_RECEIVED"
	StateCodeExchanged      FlowState = "CODE_EXCHANGED"
	StateClaimsVerified     FlowState = "CLAIMS_VERIFIED"
	StateIdentityBuilt      FlowState = "IDENTITY_BUILT"
	StateSessionEstablished FlowState = "SESSION_ESTABLISHED"
	StateFailed             FlowState = "FAILED"
)

// FlowError is a failed login. Reached is the last state completed before
// the failure; Err is the classified cause.
type FlowError struct {
	Reached FlowState
	Err     error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("login failed after %s: %v", e.Reached, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

func fail(reached FlowState, err error) *FlowError {
	return &FlowError{Reached: reached, Err: err}
}

package backend

import "fmt"

// AuthErrorCode classifies identity provider failures.
type AuthErrorCode string

const (
	// AuthInvalidCredentials covers unknown accounts and wrong passwords.
	AuthInvalidCredentials AuthErrorCode = "invalid_credentials"
	// AuthEmailInUse means registration hit an existing account.
	AuthEmailInUse AuthErrorCode = "email_in_use"
	// AuthWeakPassword means the provider rejected the password strength.
	AuthWeakPassword AuthErrorCode = "weak_password"
	// AuthNetwork covers transport failures before a provider verdict.
	AuthNetwork AuthErrorCode = "network"
)

// AuthError is a classified identity provider failure, surfaced to the user
// by the UI layer.
type AuthError struct {
	Code    AuthErrorCode
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("auth %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("auth %s", e.Code)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

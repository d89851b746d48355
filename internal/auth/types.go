package auth

// Roles carried in operator tokens
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// OperatorClaims identifies who holds a token and what they may do
type OperatorClaims struct {
	Subject string `json:"sub_name"`
	Role    string `json:"role"`
}

// CanControl reports whether the holder may start and stop bots
func (c OperatorClaims) CanControl() bool {
	return c.Role == RoleOperator
}

// AuthError is an error with a stable code for API responses
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common auth errors
var (
	ErrInvalidToken = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrForbidden    = AuthError{Code: "FORBIDDEN", Message: "access forbidden"}
	ErrNoSecret     = AuthError{Code: "NO_SECRET", Message: "jwt secret not configured"}
)

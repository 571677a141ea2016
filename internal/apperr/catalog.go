package apperr

// Authentication
var (
	InvalidCredentials = &Error{
		Kind: KindAuthentication, Code: "INVALID_CREDENTIALS", Message: "invalid email or password",
		Details: map[string]any{"hint": "check your credentials and try again"},
	}
	TokenExpired = &Error{
		Kind: KindAuthentication, Code: "TOKEN_EXPIRED", Message: "token expired, log in again",
		Details: map[string]any{"hint": "use the refresh token or log in again"},
	}
	InvalidToken = &Error{
		Kind: KindAuthentication, Code: "INVALID_TOKEN", Message: "invalid token",
		Details: map[string]any{"hint": "token is invalid or malformed"},
	}
	RefreshTokenExpired = &Error{
		Kind: KindAuthentication, Code: "REFRESH_TOKEN_EXPIRED", Message: "refresh token expired, log in again",
		Details: map[string]any{"hint": "the refresh token expired, a new login is required"},
	}
	MissingToken = &Error{
		Kind: KindAuthentication, Code: "MISSING_TOKEN", Message: "authentication token not provided",
		Details: map[string]any{"hint": "send the token in the Authorization header"},
	}
)

// Authorization
var (
	UnauthorizedAccountAccess = &Error{
		Kind: KindAuthorization, Code: "UNAUTHORIZED_ACCOUNT_ACCESS", Message: "you can only manage your own account",
		Details: map[string]any{"rule": "own_account_only"},
	}
)

// Not found
var (
	UserNotFound = &Error{Kind: KindNotFound, Code: "USER_NOT_FOUND", Message: "user not found"}
)

// Duplicate
var (
	EmailAlreadyExists = &Error{
		Kind: KindDuplicate, Code: "EMAIL_ALREADY_EXISTS", Message: "email already registered",
		Details: map[string]any{"resource": "user", "field": "email"},
	}
	TaxIDAlreadyExists = &Error{
		Kind: KindDuplicate, Code: "TAX_ID_ALREADY_EXISTS", Message: "tax id already registered",
		Details: map[string]any{"resource": "user", "field": "tax_id"},
	}
)

// Validation
var (
	Validation = &Error{Kind: KindValidation, Code: "VALIDATION_ERROR", Message: "request validation failed"}

	InvalidPostalCode = &Error{
		Kind: KindValidation, Code: "INVALID_POSTAL_CODE", Message: "invalid postal code",
		Details: map[string]any{"field": "postal_code", "hint": "postal code must have 8 digits"},
	}
)

// Business rules
var (
	InvalidResetToken = &Error{
		Kind: KindBusinessRule, Code: "INVALID_PASSWORD_RESET_TOKEN", Message: "invalid password reset token",
		Details: map[string]any{"rule": "password_reset", "reason": "invalid_token"},
	}
	ResetTokenExpired = &Error{
		Kind: KindBusinessRule, Code: "PASSWORD_RESET_TOKEN_EXPIRED", Message: "password reset token expired, request a new one",
		Details: map[string]any{"rule": "password_reset", "reason": "token_expired"},
	}
)

// Rate limiting
var (
	RateLimited = &Error{Kind: KindRateLimited, Code: "RATE_LIMIT_EXCEEDED", Message: "too many requests, try again later"}
)

// Infrastructure
var (
	Internal      = &Error{Kind: KindInfrastructure, Code: "INTERNAL_ERROR", Message: "internal server error"}
	Database      = &Error{Kind: KindInfrastructure, Code: "DATABASE_ERROR", Message: "database operation failed"}
	Encryption    = &Error{Kind: KindInfrastructure, Code: "ENCRYPTION_ERROR", Message: "failed to process encrypted data"}
	Cache         = &Error{Kind: KindInfrastructure, Code: "CACHE_ERROR", Message: "cache operation failed"}
	Configuration = &Error{Kind: KindInfrastructure, Code: "CONFIGURATION_ERROR", Message: "invalid application configuration"}

	ExternalService = &Error{Kind: KindUnavailable, Code: "EXTERNAL_SERVICE_ERROR", Message: "external service unavailable"}
)

// ValidationFailed builds a validation error listing field problems.
func ValidationFailed(fields []FieldError) *Error {
	return Validation.WithDetail("errors", fields)
}

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

package apiErrors

import "fmt"

type ErrorCode string

const (
	ProjectExists ErrorCode = "PROJECT_EXISTS"
	RuleExists    ErrorCode = "RULE_EXISTS"
	InvalidMode   ErrorCode = "INVALID_MODE"
	RemoteError   ErrorCode = "REMOTE_ERROR"
	NotFound      ErrorCode = "NOT_FOUND"
	InternalError ErrorCode = "INTERNAL_ERROR"
)

type APIError struct {
	Code    ErrorCode
	Message string
}

func (e APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Authentication errors
// 12000-12999: Problem errors
// 13000-13999: Submission & Judge errors
// 14000-14999: Contest errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Authentication Errors (11000-11999) ==========

	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004
	TokenRevoked ErrorCode = 11006

	// ========== Problem Errors (12000-12999) ==========

	ProblemNotFound  ErrorCode = 12000
	TestCaseNotFound ErrorCode = 12100

	// ========== Submission & Judge Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	CodeTooLarge           ErrorCode = 13002
	LanguageNotSupported   ErrorCode = 13003
	SubmitTooFrequently    ErrorCode = 13004
	SubmissionFinalized    ErrorCode = 13006

	// Judge (13100-13199)
	JudgeSystemError        ErrorCode = 13101
	JudgeBackendUnavailable ErrorCode = 13107
	JudgingTimeout          ErrorCode = 13108

	// ========== Contest Errors (14000-14999) ==========

	ContestNotFound   ErrorCode = 14000
	ContestNotRunning ErrorCode = 14006

	// Registration (14100-14199)
	AlreadyRegistered ErrorCode = 14101
)

var codeMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized",
	Forbidden:           "Forbidden",
	TooManyRequests:     "Too many requests",
	ServiceUnavailable:  "Service unavailable",
	Timeout:             "Request timeout",

	DatabaseError:       "Database error",
	RecordNotFound:      "Record not found",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Transaction failed",

	CacheError: "Cache error",
	LockFailed: "Failed to acquire lock",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",
	TokenRevoked: "Token has been revoked",

	ProblemNotFound:  "Problem not found",
	TestCaseNotFound: "Test case not found",

	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "Code size exceeds limit",
	LanguageNotSupported:   "Programming language not supported",
	SubmitTooFrequently:    "Submitting too frequently, please wait",
	SubmissionFinalized:    "Submission already finalized",

	JudgeSystemError:        "Judge system error",
	JudgeBackendUnavailable: "Execution backend unavailable",
	JudgingTimeout:          "Judging timed out",

	ContestNotFound:   "Contest not found",
	ContestNotRunning: "Contest is not running",
	AlreadyRegistered: "Already entered this contest",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus maps the error code to an HTTP status code
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case Success:
		return http.StatusOK

	case InvalidParams, ValidationFailed, InvalidFormat, InvalidValue, RequiredFieldEmpty,
		CodeTooLarge, LanguageNotSupported, ContestNotRunning:
		return http.StatusBadRequest

	case Unauthorized, TokenExpired, TokenInvalid, TokenRevoked:
		return http.StatusUnauthorized

	case Forbidden:
		return http.StatusForbidden

	case NotFound, RecordNotFound, ProblemNotFound, TestCaseNotFound,
		SubmissionNotFound, ContestNotFound:
		return http.StatusNotFound

	case RecordAlreadyExists, AlreadyRegistered, SubmissionFinalized:
		return http.StatusConflict

	case TooManyRequests, SubmitTooFrequently:
		return http.StatusTooManyRequests

	case JudgeBackendUnavailable:
		return http.StatusBadGateway

	case ServiceUnavailable:
		return http.StatusServiceUnavailable

	case Timeout, JudgingTimeout:
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether the code maps to a 4xx status
func (c ErrorCode) IsClientError() bool {
	status := c.HTTPStatus()
	return status >= 400 && status < 500
}

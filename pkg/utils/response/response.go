package response

import (
	"net/http"

	"codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the envelope of every API reply.
type Response struct {
	Code    errors.ErrorCode       `json:"code"`
	Message string                 `json:"message"`
	Data    interface{}            `json:"data,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	write(c, http.StatusOK, Response{Code: errors.Success, Message: "Success", Data: data})
}

func Created(c *gin.Context, data interface{}) {
	write(c, http.StatusCreated, Response{Code: errors.Success, Message: "Created", Data: data})
}

// Error replies with the status of err's code.
// 5xx replies carry only the code's generic message; the cause and stack go to the log.
func Error(c *gin.Context, err error) {
	appErr := errors.GetError(err)
	status := appErr.Code.HTTPStatus()
	fields := []zap.Field{
		zap.Int("code", int(appErr.Code)),
		zap.String("message", appErr.Error()),
	}
	if len(appErr.Details) > 0 {
		fields = append(fields, zap.Any("details", appErr.Details))
	}
	if appErr.Err != nil {
		fields = append(fields, zap.NamedError("cause", appErr.Err))
	}

	resp := Response{Code: appErr.Code, Message: appErr.Error(), Details: appErr.Details}
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request failed", append(fields, zap.String("stack", appErr.Stack))...)
		resp.Message = appErr.Code.Message()
		resp.Details = nil
	} else {
		logger.Warn(c.Request.Context(), "request rejected", fields...)
	}
	write(c, status, resp)
}

// BadRequest replies 400 with message.
func BadRequest(c *gin.Context, message string) {
	Error(c, errors.New(errors.InvalidParams).WithMessage(message))
}

func AbortWithError(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

// AbortWithErrorCode aborts with code, using the code's message when message is empty.
func AbortWithErrorCode(c *gin.Context, code errors.ErrorCode, message string) {
	err := errors.New(code)
	if message != "" {
		err.WithMessage(message)
	}
	AbortWithError(c, err)
}

func write(c *gin.Context, status int, resp Response) {
	resp.TraceID = c.GetString("trace_id")
	c.JSON(status, resp)
}

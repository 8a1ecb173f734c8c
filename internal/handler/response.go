// Package handler holds the shared HTTP response envelope. Decision
// outcomes are payload, not status: a DENY rides in a 200 body.
package handler

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{Status: statusSuccess, Data: data}
}

func NewErrorResponse(message string) *Response {
	return &Response{Status: statusError, Message: message}
}

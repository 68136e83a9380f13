package utils

import "time"

// APIResponse is the JSON envelope every endpoint returns.
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func ErrorResponse(message, err string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     err,
		Timestamp: time.Now(),
	}
}

// NoActionResponse is returned when an administrator declines a destructive
// operation: a neutral success, never an error.
func NoActionResponse(data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   "no action taken",
		Data:      data,
		Timestamp: time.Now(),
	}
}

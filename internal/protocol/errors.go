package protocol

// NewError builds a server-originated error envelope for code/message at
// timestamp (unix seconds, passed in rather than computed so callers
// control the clock in tests).
func NewError(code ErrorCode, message string, timestamp float64) Error {
	return Error{Type: "error", Code: code, Message: message, Timestamp: timestamp}
}

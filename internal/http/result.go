package httpapi

// Result is the envelope of the admin endpoints.
// - code: HTTP status
// - type: "success" | "error"
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

// ErrorResult is the body of every error answered by the proxy itself.
type ErrorResult struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func Ok[T any](code int, result T) Result[T] {
	return Result[T]{Code: code, Type: "success", Message: "ok", Result: result}
}

func Fail(code int, message string) ErrorResult {
	return ErrorResult{Code: code, Type: "error", Message: message}
}

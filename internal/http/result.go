package httpapi

// Result is the JSON envelope the portal front end expects.
// - code: 2000 on success
// - type: 'success' | 'error' | 'warning'
// - message: string
// - result: any
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1
	// ResultConflict is returned with HTTP 409 when a mutation for the
	// same organization is already in flight.
	ResultConflict = 40901
)

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

func Fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Type: "error", Message: message, Result: nil}
}

func Conflict(message string) Result[any] {
	return Result[any]{Code: ResultConflict, Type: "warning", Message: message, Result: nil}
}

package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

// ListEnvelope wraps cursor-paginated collections.
type ListEnvelope struct {
	Data       any    `json:"data"`
	NextCursor string `json:"nextCursor,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

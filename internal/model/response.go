package model

// ListResponse is the standard envelope for list endpoints, wrapping results
// in a "resource" array with count metadata.
type ListResponse struct {
	Resource []map[string]interface{} `json:"resource"`
	Meta     *ResponseMeta            `json:"meta,omitempty"`
}

// ResponseMeta contains count information for list responses.
type ResponseMeta struct {
	Count int `json:"count"`
}

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
// Kind is the machine-readable failure kind (e.g. "NameTaken").
type ErrorDetail struct {
	Code    int                    `json:"code"`
	Kind    string                 `json:"kind,omitempty"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

package server

import (
	"encoding/json"
	"net/http"
)

// APIErrorResponse is the JSON error envelope returned by every endpoint.
type APIErrorResponse struct {
	Error APIError `json:"error"`
}

// APIError is the error object inside an APIErrorResponse.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// errorTypeForStatus maps HTTP status codes to error type strings.
func errorTypeForStatus(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusMethodNotAllowed:
		return "invalid_request_error"
	case http.StatusServiceUnavailable:
		return "overloaded_error"
	case http.StatusBadGateway:
		return "upstream_error"
	default:
		if statusCode >= 500 {
			return "server_error"
		}
		return "invalid_request_error"
	}
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := APIErrorResponse{
		Error: APIError{
			Message: message,
			Type:    errorTypeForStatus(statusCode),
		},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a 200 JSON response.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// jsonDecode decodes the request body into v, rejecting unknown fields.
func jsonDecode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/R3E-Network/grants_ui/internal/errors"
)

// maxRequestBody bounds form submissions read by handlers.
const maxRequestBody = 1 << 20

// APIResponse is the envelope for JSON handler responses.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a success response.
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

// WriteError writes an error response with an explicit status.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, APIResponse{Success: false, Error: message})
}

// WriteServiceError maps err onto its HTTP status. Internal details are not
// exposed: identity, format and config failures all read as a generic error.
func WriteServiceError(w http.ResponseWriter, err error) {
	se := apperrors.GetServiceError(err)
	if se == nil {
		WriteJSON(w, http.StatusInternalServerError, APIResponse{Error: "internal server error", Code: string(apperrors.CodeInternal)})
		return
	}
	msg := se.Message
	if se.HTTPStatus >= 500 {
		msg = "internal server error"
	}
	WriteJSON(w, se.HTTPStatus, APIResponse{Error: msg, Code: string(se.Code)})
}

// ReadJSON decodes a bounded JSON request body into v.
func ReadJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	body, err := ReadAllStrict(r.Body, maxRequestBody)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return fmt.Errorf("empty request body")
	}
	return json.Unmarshal(body, v)
}

package utils

import (
	"encoding/json"
	"net/http"
)

// Envelope is the uniform response body of every API endpoint
type Envelope struct {
	Code    int         `json:"code"`
	Msg     string      `json:"msg"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

// PageData is the data payload of paginated endpoints
type PageData[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// RespondOK sends a successful envelope
func RespondOK(w http.ResponseWriter, msg string, data interface{}) {
	if msg == "" {
		msg = "success"
	}
	RespondWithJSON(w, http.StatusOK, Envelope{Code: http.StatusOK, Msg: msg, Success: true, Data: data})
}

// RespondFail sends a business failure. The HTTP status stays 200 so the console
// reads the envelope; 401 is the only failure also carried on the wire status.
func RespondFail(w http.ResponseWriter, code int, message string) {
	status := http.StatusOK
	if code == http.StatusUnauthorized {
		status = http.StatusUnauthorized
	}
	RespondWithJSON(w, status, Envelope{Code: code, Msg: message, Success: false})
}

// RespondWithError maps err onto its envelope code
func RespondWithError(w http.ResponseWriter, err error) {
	RespondFail(w, StatusCode(err), err.Error())
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "Failed to encode response: "+err.Error(), http.StatusInternalServerError)
		return err
	}
	return nil
}

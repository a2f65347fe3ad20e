package response

import (
	"encoding/json"
	"net/http"
)

type body struct {
	Success  bool        `json:"success"`
	Messages []string    `json:"messages"`
	Result   interface{} `json:"result"`
}

// WriteResponse will reply to the request with a wrapped result
func WriteResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body{
		Success:  true,
		Messages: []string{},
		Result:   result,
	})
}

// WriteError will reply to the request with the given Error
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	json.NewEncoder(w).Encode(body{
		Success:  false,
		Messages: append([]string{e.Message}, e.Messages...),
		Result:   e.Result,
	})
}

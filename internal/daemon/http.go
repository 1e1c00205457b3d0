package daemon

import (
	"encoding/json"
	"net/http"

	"loom/internal/engine"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeServiceError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	message := err.Error()
	code := ""
	if svcErr, ok := err.(*engine.ServiceError); ok {
		switch svcErr.Kind {
		case engine.ServiceErrorInvalid:
			status = http.StatusBadRequest
		case engine.ServiceErrorNotFound:
			status = http.StatusNotFound
		case engine.ServiceErrorConflict:
			status = http.StatusConflict
		case engine.ServiceErrorUnavailable:
			status = http.StatusInternalServerError
		default:
			status = http.StatusInternalServerError
		}
		if svcErr.Message != "" {
			message = svcErr.Message
		}
		code = svcErr.Code
	}
	body := map[string]string{"error": message}
	if code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}

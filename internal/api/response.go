package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/TrackPipe/internal/models"
)

// fallbackErrorResponse is written when a response cannot be marshaled.
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("marshal fallback error response: %v", err))
	}
}

// writeJSONResponse marshals response before touching the headers so an encoding
// failure still yields a well-formed 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response any) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: marshal failed", "error", err)
		data = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		slog.Error("Server.writeJSONResponse: write failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSONResponse(w, statusCode, models.Error(message))
}

package http

import (
	"encoding/json"
	"net/http"

	apperror "github.com/Borui-Eduation/student-records-sub000/pkg/error"
)

func writeSuccessResponse(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]interface{}{
		"status":  true,
		"message": message,
		"data":    data,
	}

	json.NewEncoder(w).Encode(response)
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	writeErrorWithData(w, statusCode, code, message, nil)
}

func writeErrorWithData(w http.ResponseWriter, statusCode int, code, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]interface{}{
		"status":  false,
		"message": message,
		"data":    data,
		"code":    code,
	}

	json.NewEncoder(w).Encode(response)
}

// writeAppError maps err and writes it; suggestions and the failing command
// index travel in data
func writeAppError(w http.ResponseWriter, err error) {
	appErr := apperror.MapError(err)
	var data interface{}
	if len(appErr.Suggestions) > 0 || appErr.Index != nil {
		data = map[string]interface{}{
			"suggestions": appErr.Suggestions,
			"index":       appErr.Index,
		}
	}
	writeErrorWithData(w, appErr.Status, appErr.Code, appErr.Message, data)
}

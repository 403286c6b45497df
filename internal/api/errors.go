package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/hdf-devmgr/internal/device"
)

// Error represents a structured error response. DeviceCode carries the
// lifecycle code of the underlying error, when there is one.
type Error struct {
	Status     int    `json:"status"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	DeviceCode int    `json:"device_code,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeUnavailable = "unavailable"
	ErrCodeBadGateway  = "bad_gateway"
	ErrCodeInternal    = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDeviceError maps a lifecycle error to an HTTP status.
func writeDeviceError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeJSON(w, status, Error{
		Status:     status,
		Code:       code,
		Message:    err.Error(),
		DeviceCode: device.Code(err),
	})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, device.ErrInvalidParam):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, device.ErrNoDevice), errors.Is(err, device.ErrNoHost):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, device.ErrAlreadyInState), errors.Is(err, device.ErrAlreadyAttached):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, device.ErrPowerNotify):
		return http.StatusBadGateway, ErrCodeBadGateway
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

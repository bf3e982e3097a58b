package node

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ryandielhenn/zephyrrotor/discovery"
	"github.com/ryandielhenn/zephyrrotor/pkg/rotation"
)

var (
	ErrBadRequest    = errors.New("bad request")
	ErrUnknownMember = errors.New("member is not live")
)

// StatusFor maps an error to the HTTP status the control plane answers with.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownMember):
		return http.StatusNotFound
	case errors.Is(err, rotation.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, rotation.ErrMultiStepRotation), errors.Is(err, rotation.ErrOffsetRegression):
		return http.StatusUnprocessableEntity
	case errors.Is(err, discovery.ErrOffsetConflict):
		return http.StatusConflict
	case errors.Is(err, ErrResolve):
		return http.StatusBadGateway
	case errors.Is(err, ErrReadOnlyRegistry):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/halflife/engine"
	"github.com/jmcleod/halflife/fragment"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func mapError(w http.ResponseWriter, err error) {
	var insufficient *engine.InsufficientFragmentsError
	switch {
	case errors.Is(err, fragment.ErrInvalidPolicy):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &insufficient):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrSessionMismatch):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrFragmentExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, engine.ErrQuorumFailed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, engine.ErrIntegrityCheckFailed):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

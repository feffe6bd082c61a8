package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/halflife/fragment"
	"github.com/jmcleod/halflife/validator"
)

// FragmentSecret handles POST /fragments.
func (a *API) FragmentSecret(w http.ResponseWriter, r *http.Request) {
	var req FragmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	secret, err := base64.StdEncoding.DecodeString(req.Secret)
	if err != nil {
		writeError(w, http.StatusBadRequest, "secret must be base64-encoded")
		return
	}

	policy := fragment.Policy{
		Shares:         req.Shares,
		Threshold:      req.Threshold,
		ExpiryDuration: time.Duration(req.ExpirySeconds) * time.Second,
		JitterRange:    time.Duration(req.JitterSeconds) * time.Second,
		ErasePasses:    req.ErasePasses,
		SecurityLevel:  req.SecurityLevel,
	}

	session, err := a.engine.Fragment(r.Context(), secret, policy)
	if err != nil {
		mapError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, FragmentResponse{
		SessionID:   session.ID,
		Threshold:   session.Threshold,
		Shares:      session.Shares,
		CreatedAt:   session.CreatedAt,
		FragmentIDs: session.FragmentIDs,
	})
}

// Reconstruct handles POST /reconstruct.
func (a *API) Reconstruct(w http.ResponseWriter, r *http.Request) {
	var req ReconstructRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := a.engine.Reconstruct(r.Context(), req.SessionID, req.FragmentIDs)
	if err != nil {
		mapError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ReconstructResponse{
		Secret:           base64.StdEncoding.EncodeToString(result.Secret),
		FragmentsUsed:    result.FragmentsUsed,
		RemainingSeconds: result.RemainingWindow.Seconds(),
	})
}

// GetSession handles GET /sessions/{sessionID}.
func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := a.engine.Session(sessionID)
	if err != nil {
		mapError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		SessionID:     session.ID,
		Threshold:     session.Threshold,
		Shares:        session.Shares,
		CreatedAt:     session.CreatedAt,
		SecurityLevel: session.SecurityLevel,
		FragmentIDs:   session.FragmentIDs,
	})
}

// Validate handles POST /validate: the validator RPC contract over HTTP.
func (a *API) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := a.node.Validate(r.Context(), validator.Request{
		FragmentID:    req.FragmentID,
		ClaimedExpiry: req.ClaimedExpiry,
		ClaimedHash:   req.ClaimedHash,
		Now:           req.Now,
	})
	if err != nil {
		mapError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ValidateResponse{
		Valid:            resp.Valid,
		RemainingSeconds: resp.Remaining.Seconds(),
	})
}

package api

import "time"

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FragmentRequest asks the engine to fragment a secret. Secret is
// base64-encoded raw bytes.
type FragmentRequest struct {
	Secret        string `json:"secret"`
	Shares        int    `json:"shares"`
	Threshold     int    `json:"threshold"`
	ExpirySeconds int    `json:"expiry_seconds"`
	JitterSeconds int    `json:"jitter_seconds,omitempty"`
	ErasePasses   int    `json:"erase_passes,omitempty"`
	SecurityLevel string `json:"security_level,omitempty"`
}

// FragmentResponse describes the created session.
type FragmentResponse struct {
	SessionID   string    `json:"session_id"`
	Threshold   int       `json:"threshold"`
	Shares      int       `json:"shares"`
	CreatedAt   time.Time `json:"created_at"`
	FragmentIDs []string  `json:"fragment_ids"`
}

// ReconstructRequest asks the gate to recover a secret.
type ReconstructRequest struct {
	SessionID   string   `json:"session_id"`
	FragmentIDs []string `json:"fragment_ids"`
}

// ReconstructResponse carries the recovered secret (base64) plus the
// reconstruction metadata.
type ReconstructResponse struct {
	Secret           string   `json:"secret"`
	FragmentsUsed    []string `json:"fragments_used"`
	RemainingSeconds float64  `json:"remaining_seconds"`
}

// SessionResponse describes a session without any key material.
type SessionResponse struct {
	SessionID     string    `json:"session_id"`
	Threshold     int       `json:"threshold"`
	Shares        int       `json:"shares"`
	CreatedAt     time.Time `json:"created_at"`
	SecurityLevel string    `json:"security_level,omitempty"`
	FragmentIDs   []string  `json:"fragment_ids"`
}

// ValidateRequest is the wire form of the validator RPC contract.
type ValidateRequest struct {
	FragmentID    string    `json:"fragment_id"`
	ClaimedExpiry time.Time `json:"claimed_expiry_time"`
	ClaimedHash   []byte    `json:"claimed_hash"`
	Now           time.Time `json:"current_time"`
}

// ValidateResponse is a validator's answer.
type ValidateResponse struct {
	Valid            bool    `json:"valid"`
	RemainingSeconds float64 `json:"remaining_time"`
}

// Package domain defines the core types shared by the record store, the
// issuance engine and the chat transport: identity records, issuance
// outcomes, conversation states, inbound events and the GORM model backing
// the local tabular store.
package domain

// IdentityRecord is one row of the external payment sheet.
//
// Fields:
//   - Row: 1-based sheet row number (row 1 is the header).
//   - Identity: normalized identity token (email) used for lookup.
//   - Credential: issued access code, empty until first issuance.
//   - Subscriber: chat-transport user id bound on issuance, may be empty.
type IdentityRecord struct {
	Row        int
	Identity   string
	Credential string
	Subscriber string
}

// Outcome classifies the result of an issuance or lookup.
type Outcome int

const (
	// OutcomeFailed means a store or write failure prevented issuance.
	OutcomeFailed Outcome = iota
	// OutcomeGranted means a credential was found or generated and persisted.
	OutcomeGranted
	// OutcomeNotFound means no record matched; nothing was written.
	OutcomeNotFound
)

// String returns the lowercase label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeGranted:
		return "granted"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "failed"
	}
}

// IssuanceResult is the typed result of IssueAccess / LookupBySubscriber.
//
// Credential and Row are only meaningful when Outcome is OutcomeGranted.
// Generated reports whether the credential was created by this call (as
// opposed to reused from the record).
type IssuanceResult struct {
	Outcome    Outcome
	Credential string
	Row        int
	Generated  bool
}

// Granted reports whether the result carries a credential.
func (r IssuanceResult) Granted() bool { return r.Outcome == OutcomeGranted }

// SessionState is the per-subscriber conversation state.
type SessionState int

const (
	// StateIdle is the initial state: free text is only processed when it
	// already looks like an identity token.
	StateIdle SessionState = iota
	// StateAwaitingIdentity means the next text message is expected to be an
	// identity token.
	StateAwaitingIdentity
)

// String returns the state label.
func (s SessionState) String() string {
	if s == StateAwaitingIdentity {
		return "awaiting_identity"
	}
	return "idle"
}

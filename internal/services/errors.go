// Package services defines the business logic of access issuance: the
// credential policy, the per-subscriber conversation state, the issuance
// engine with its store gate, and the operator notifier.
//
// This file centralizes service-level error values so that they can be
// consistently returned by service methods and checked by callers.
// Translation into user-facing messages is performed by the dispatcher.
package services

import "errors"

var (
	// ErrMalformedInput is returned when text does not parse as an identity
	// token (an email address).
	ErrMalformedInput = errors.New("malformed identity token")

	// ErrIssuance wraps every store failure during issuance or lookup. The
	// underlying cause (repo.ErrSchema, repo.ErrStoreUnavailable, a context
	// deadline) stays reachable through errors.Is.
	ErrIssuance = errors.New("issuance failed")
)

// Package services – IssuanceService
//
// This file implements the access issuance engine: it verifies an identity
// token against the record store, reuses or generates the record's
// credential, persists it together with the subscriber binding, and reports
// a typed result.
//
// The store has no transactions or row locks, so every read-modify-write
// sequence runs behind one process-wide gate. Without it two concurrent
// requests for the same empty row could both generate a code and race on
// the write. The gate is never held across notification or reply sending.
//
// Observability: public methods are OpenTelemetry-instrumented and export
// Prometheus outcome counters and latency histograms.
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/tbourn/go-access-bot/internal/domain"
	"github.com/tbourn/go-access-bot/internal/repo"
)

// RecordStore defines the record store contract required by IssuanceService.
type RecordStore interface {
	// SheetName returns the worksheet the store is bound to.
	SheetName() string
	// Headers returns the header row in column order.
	Headers(ctx context.Context) ([]string, error)
	// HasColumn reports whether column is present in the header row.
	HasColumn(ctx context.Context, column string) (bool, error)
	// FindRow returns the first row whose column equals value (trimmed, case-folded).
	FindRow(ctx context.Context, column, value string) (int, bool, error)
	// ReadRow returns a row keyed by header name.
	ReadRow(ctx context.Context, row int) (repo.Record, error)
	// WriteCell sets a cell; absent columns are skipped.
	WriteCell(ctx context.Context, row int, column, value string) error
	// Sample returns a few data rows for diagnostics.
	Sample(ctx context.Context, n int) ([]repo.Record, error)
	// Invalidate drops any cached header so the next call re-reads it.
	Invalidate()
}

// Columns names the sheet columns the engine reads and writes.
type Columns struct {
	Identity   string
	Credential string
	Subscriber string
}

// Diagnostics describes the active sheet for operators.
type Diagnostics struct {
	Sheet   string
	Headers []string
	Missing []string // configured columns absent from the header
	Sample  []repo.Record
}

const (
	opIssue  = "issue"
	opLookup = "lookup"
)

// IssuanceService issues access credentials. Construct it with
// NewIssuanceService; the zero value is not usable.
type IssuanceService struct {
	// Store is the record store adapter.
	Store RecordStore
	// Columns names the identity, credential and subscriber columns.
	Columns Columns
	// Policy decides between reusing and generating credentials.
	Policy CredentialPolicy

	// StoreTimeout bounds one whole read-modify-write sequence.
	StoreTimeout time.Duration
	// GateWait bounds how long a caller queues for the gate.
	GateWait time.Duration

	gate *semaphore.Weighted
}

// NewIssuanceService constructs an IssuanceService with default timeouts.
func NewIssuanceService(store RecordStore, cols Columns) *IssuanceService {
	return &IssuanceService{
		Store:        store,
		Columns:      cols,
		StoreTimeout: 10 * time.Second,
		GateWait:     30 * time.Second,
		gate:         semaphore.NewWeighted(1),
	}
}

// IssueAccess verifies identity and grants the matched record's credential
// to subscriberID.
//
// Semantics:
//   - identity is trimmed and case-folded; no match yields OutcomeNotFound
//     and no writes.
//   - An existing non-empty credential is returned unchanged and the
//     credential column is not written.
//   - An empty credential is replaced by a generated one and written.
//   - The subscriber column is always written, rebinding the record to the
//     current chat identity.
//
// Errors wrap ErrIssuance. A partial write (credential stored, binding
// failed) is not rolled back; retrying observes the stored credential.
func (s *IssuanceService) IssueAccess(ctx context.Context, identity string, subscriberID int64) (domain.IssuanceResult, error) {
	tr := otel.Tracer("services/IssuanceService")
	ctx, span := tr.Start(ctx, "IssueAccess",
		trace.WithAttributes(attribute.Int64("subscriber.id", subscriberID)),
	)
	defer span.End()

	key := repo.NormalizeKey(identity)
	if key == "" {
		return s.finish(span, opIssue, domain.IssuanceResult{Outcome: domain.OutcomeFailed}, ErrMalformedInput)
	}

	res, err := s.withGate(ctx, opIssue, func(ctx context.Context) (domain.IssuanceResult, error) {
		row, ok, err := s.Store.FindRow(ctx, s.Columns.Identity, key)
		if err != nil {
			return domain.IssuanceResult{}, err
		}
		if !ok {
			return domain.IssuanceResult{Outcome: domain.OutcomeNotFound}, nil
		}
		return s.grant(ctx, row, subscriberID, true)
	})
	return s.finish(span, opIssue, res, err)
}

// LookupBySubscriber re-displays the credential of the record bound to
// subscriberID. A bound record without a credential gets one generated and
// persisted. The binding itself is not rewritten. When the sheet has no
// subscriber column nothing can be bound, so the result is OutcomeNotFound.
func (s *IssuanceService) LookupBySubscriber(ctx context.Context, subscriberID int64) (domain.IssuanceResult, error) {
	tr := otel.Tracer("services/IssuanceService")
	ctx, span := tr.Start(ctx, "LookupBySubscriber",
		trace.WithAttributes(attribute.Int64("subscriber.id", subscriberID)),
	)
	defer span.End()

	res, err := s.withGate(ctx, opLookup, func(ctx context.Context) (domain.IssuanceResult, error) {
		has, err := s.Store.HasColumn(ctx, s.Columns.Subscriber)
		if err != nil {
			return domain.IssuanceResult{}, err
		}
		if !has {
			return domain.IssuanceResult{Outcome: domain.OutcomeNotFound}, nil
		}
		row, ok, err := s.Store.FindRow(ctx, s.Columns.Subscriber, strconv.FormatInt(subscriberID, 10))
		if err != nil {
			return domain.IssuanceResult{}, err
		}
		if !ok {
			return domain.IssuanceResult{Outcome: domain.OutcomeNotFound}, nil
		}
		return s.grant(ctx, row, subscriberID, false)
	})
	return s.finish(span, opLookup, res, err)
}

// Diagnose reports the active sheet's headers, the configured columns it
// lacks, and up to sample data rows. It does not take the gate: it only
// reads, and never decides a write.
func (s *IssuanceService) Diagnose(ctx context.Context, sample int) (Diagnostics, error) {
	ctx, cancel := context.WithTimeout(ctx, s.StoreTimeout)
	defer cancel()

	d := Diagnostics{Sheet: s.Store.SheetName()}
	headers, err := s.Store.Headers(ctx)
	if err != nil {
		return d, err
	}
	d.Headers = headers
	for _, c := range []string{s.Columns.Identity, s.Columns.Credential, s.Columns.Subscriber} {
		if strings.TrimSpace(c) == "" {
			continue
		}
		has, err := s.Store.HasColumn(ctx, c)
		if err != nil {
			return d, err
		}
		if !has {
			d.Missing = append(d.Missing, c)
		}
	}
	if sample > 0 {
		if d.Sample, err = s.Store.Sample(ctx, sample); err != nil {
			return d, err
		}
	}
	return d, nil
}

// Ready reports whether the store answers within StoreTimeout and carries
// the identity and credential columns. The subscriber column is optional.
func (s *IssuanceService) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.StoreTimeout)
	defer cancel()
	for _, c := range []string{s.Columns.Identity, s.Columns.Credential} {
		has, err := s.Store.HasColumn(ctx, c)
		if err != nil {
			return err
		}
		if !has {
			return fmt.Errorf("%w: column %q not in header", repo.ErrSchema, c)
		}
	}
	return nil
}

// grant reads the matched row, reuses or generates its credential and
// optionally rebinds the subscriber. It must be called with
// the gate held.
func (s *IssuanceService) grant(ctx context.Context, row int, subscriberID int64, bind bool) (domain.IssuanceResult, error) {
	// Without a credential column nothing would be persisted and every call
	// would mint a new code.
	has, err := s.Store.HasColumn(ctx, s.Columns.Credential)
	if err != nil {
		return domain.IssuanceResult{}, err
	}
	if !has {
		return domain.IssuanceResult{}, fmt.Errorf("%w: credential column %q not in header", repo.ErrSchema, s.Columns.Credential)
	}

	raw, err := s.Store.ReadRow(ctx, row)
	if err != nil {
		return domain.IssuanceResult{}, err
	}
	rec := raw.Identity(row, s.Columns.Identity, s.Columns.Credential, s.Columns.Subscriber)
	cred, generated, err := s.Policy.ExistingOrNew(rec.Credential)
	if err != nil {
		return domain.IssuanceResult{}, fmt.Errorf("generate credential: %w", err)
	}
	if generated {
		if err := s.Store.WriteCell(ctx, row, s.Columns.Credential, cred); err != nil {
			return domain.IssuanceResult{}, err
		}
		credentialsGenerated.Inc()
	}
	if bind {
		if err := s.Store.WriteCell(ctx, row, s.Columns.Subscriber, strconv.FormatInt(subscriberID, 10)); err != nil {
			return domain.IssuanceResult{}, err
		}
	}
	return domain.IssuanceResult{
		Outcome:    domain.OutcomeGranted,
		Credential: cred,
		Row:        rec.Row,
		Generated:  generated,
	}, nil
}

// withGate runs fn under the store gate with a bounded wait and a bounded
// execution time. The gate is released on every path, panics included.
// The cached header is dropped once the gate is held, so column indices
// used by fn come from a header read inside the sequence.
func (s *IssuanceService) withGate(ctx context.Context, op string, fn func(context.Context) (domain.IssuanceResult, error)) (domain.IssuanceResult, error) {
	failed := domain.IssuanceResult{Outcome: domain.OutcomeFailed}

	waitCtx, cancelWait := context.WithTimeout(ctx, s.GateWait)
	waitStart := time.Now()
	err := s.gate.Acquire(waitCtx, 1)
	cancelWait()
	gateWait.Observe(time.Since(waitStart).Seconds())
	if err != nil {
		return failed, fmt.Errorf("%w: waiting for store gate: %w", ErrIssuance, err)
	}
	defer s.gate.Release(1)
	s.Store.Invalidate()

	runCtx, cancel := context.WithTimeout(ctx, s.StoreTimeout)
	defer cancel()

	start := time.Now()
	res, err := fn(runCtx)
	issuanceDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		if runCtx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%w (%w)", err, runCtx.Err())
		}
		return failed, fmt.Errorf("%w: %w", ErrIssuance, err)
	}
	return res, nil
}

// finish records the outcome on the span and in metrics.
func (s *IssuanceService) finish(span trace.Span, op string, res domain.IssuanceResult, err error) (domain.IssuanceResult, error) {
	issuanceTotal.WithLabelValues(op, res.Outcome.String()).Inc()
	span.SetAttributes(
		attribute.String("issuance.outcome", res.Outcome.String()),
		attribute.Bool("issuance.generated", res.Generated),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, res.Outcome.String())
	}
	return res, err
}

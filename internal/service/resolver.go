package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"taxi/internal/domain"
	"taxi/internal/repository"
)

const (
	// minSubstringRefLen keeps short candidates out of the audit log search.
	minSubstringRefLen = 6
	payloadSearchLimit = 20
)

// ReferenceResolver maps an inbound gateway reference to a local payment.
type ReferenceResolver struct {
	payments repository.PaymentRepository
}

// NewReferenceResolver creates a new ReferenceResolver.
func NewReferenceResolver(payments repository.PaymentRepository) *ReferenceResolver {
	return &ReferenceResolver{payments: payments}
}

// Resolve returns the payment a set of candidate references points to, or
// nil when none matches. Candidates are tried in order: by local id, then by
// provider reference, and only then by searching the stored gateway payloads.
func (r *ReferenceResolver) Resolve(ctx context.Context, candidates []string) (*domain.Payment, error) {
	refs := normalizeCandidates(candidates)

	for _, ref := range refs {
		if _, err := uuid.Parse(ref); err == nil {
			payment, err := r.payments.GetByID(ctx, ref)
			if err == nil {
				return payment, nil
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("resolve by id: %w", err)
			}
		}

		matches, err := r.payments.ListByProviderReference(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolve by provider reference: %w", err)
		}
		if len(matches) > 0 {
			return preferPending(matches), nil
		}
	}

	for _, ref := range refs {
		if len(ref) < minSubstringRefLen {
			continue
		}
		matches, err := r.payments.SearchPayloads(ctx, ref, payloadSearchLimit)
		if err != nil {
			return nil, fmt.Errorf("resolve by payload search: %w", err)
		}
		if len(matches) > 0 {
			return preferPending(matches), nil
		}
	}

	return nil, nil
}

func normalizeCandidates(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	refs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		refs = append(refs, c)
	}
	return refs
}

// preferPending picks the most recent PENDING payment, else the most recent
// one. matches must already be ordered newest first.
func preferPending(matches []*domain.Payment) *domain.Payment {
	for _, p := range matches {
		if p.Status == domain.PaymentStatusPending {
			return p
		}
	}
	return matches[0]
}

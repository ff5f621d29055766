package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"paylink/internal/domain"
	"paylink/internal/repository"
)

const defaultLockTTL = 30 * time.Second

// DuplicateCheck is the outcome of an event-log duplicate lookup.
type DuplicateCheck struct {
	IsDuplicate     bool
	ExistingEventID string
	// ConfirmedLinkID is the link the reference confirmed. It differs from
	// the checked link when the reference was consumed elsewhere.
	ConfirmedLinkID string
}

// AttemptValidation is the outcome of a payable-state check.
type AttemptValidation struct {
	Allowed       bool
	Reason        string
	CurrentStatus domain.PaymentLinkStatus
}

// IdempotencyService decides whether a confirmation was already processed and
// serializes confirmations per payment link through a storage-level lease.
type IdempotencyService struct {
	eventRepo repository.PaymentEventRepository
	lockStore repository.LockStore
	lockTTL   time.Duration
}

// NewIdempotencyService creates a new IdempotencyService.
func NewIdempotencyService(eventRepo repository.PaymentEventRepository, lockStore repository.LockStore, lockTTL time.Duration) *IdempotencyService {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &IdempotencyService{
		eventRepo: eventRepo,
		lockStore: lockStore,
		lockTTL:   lockTTL,
	}
}

// CheckDuplicate reports whether a PAYMENT_CONFIRMED event already exists for
// the provider and external reference. It performs no writes.
func (s *IdempotencyService) CheckDuplicate(ctx context.Context, linkID, externalReference string, provider domain.Provider) (DuplicateCheck, error) {
	event, err := s.eventRepo.FindConfirmed(ctx, provider, externalReference)
	if err != nil {
		return DuplicateCheck{}, err
	}

	if event == nil {
		return DuplicateCheck{}, nil
	}

	if event.PaymentLinkID != linkID {
		// Same provider reference confirmed a different link; still a replay
		// of an already-consumed signal.
		slog.WarnContext(ctx, "external reference already confirmed another link",
			"payment_link_id", linkID,
			"confirmed_link_id", event.PaymentLinkID,
			"provider", provider,
			"external_reference", externalReference,
		)
	}

	return DuplicateCheck{IsDuplicate: true, ExistingEventID: event.ID, ConfirmedLinkID: event.PaymentLinkID}, nil
}

// ValidateAttempt checks that the link is payable. Card and bank rails need an
// OPEN, unexpired link. The crypto rail needs OPEN only: a finalized transfer
// cannot be retried by the payer, so a late one is still accepted.
func (s *IdempotencyService) ValidateAttempt(link *domain.PaymentLink, isCryptoRail bool, now time.Time) AttemptValidation {
	result := AttemptValidation{CurrentStatus: link.Status}

	if link.Status != domain.PaymentLinkStatusOpen {
		result.Reason = "payment link is " + string(link.Status)
		return result
	}

	if !isCryptoRail && link.IsExpired(now) {
		result.Reason = "payment link expired at " + link.ExpiresAt.UTC().Format(time.RFC3339)
		return result
	}

	result.Allowed = true
	return result
}

// AcquireLock attempts to take the link's lease. The returned token must be
// passed to ReleaseLock.
func (s *IdempotencyService) AcquireLock(ctx context.Context, linkID string) (string, bool, error) {
	token := uuid.New().String()

	ok, err := s.lockStore.Acquire(ctx, linkID, token, s.lockTTL)
	if err != nil {
		return "", false, err
	}

	if !ok {
		return "", false, nil
	}

	return token, true, nil
}

// ReleaseLock drops the lease. It is safe to call after the TTL elapsed and
// for a lease that no longer exists. The release runs on a fresh context so a
// canceled request still frees the link.
func (s *IdempotencyService) ReleaseLock(ctx context.Context, linkID, token string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.lockStore.Release(releaseCtx, linkID, token); err != nil {
		slog.ErrorContext(ctx, "failed to release payment lock; lease will expire",
			"payment_link_id", linkID,
			"ttl", s.lockTTL.String(),
			"error", err,
		)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paylink/internal/domain"
	"paylink/internal/repository"
)

// shortCodeAttempts bounds retries on short code collisions.
const shortCodeAttempts = 3

// LinkService manages the payment link lifecycle outside of confirmation.
type LinkService struct {
	linkRepo  repository.PaymentLinkRepository
	eventRepo repository.PaymentEventRepository
	fx        *FxService
	notifier  *NotificationService
	now       func() time.Time
}

// NewLinkService creates a new LinkService.
func NewLinkService(
	linkRepo repository.PaymentLinkRepository,
	eventRepo repository.PaymentEventRepository,
	fx *FxService,
	notifier *NotificationService,
) *LinkService {
	return &LinkService{
		linkRepo:  linkRepo,
		eventRepo: eventRepo,
		fx:        fx,
		notifier:  notifier,
		now:       time.Now,
	}
}

// CreateLinkRequest contains the parameters for creating a payment link.
type CreateLinkRequest struct {
	OrganizationID string
	Amount         decimal.Decimal
	Currency       string
	ExpiresAt      time.Time // Optional: zero means no expiry
	Open           bool      // Create directly in OPEN instead of DRAFT
	// Assets lists alternative payment assets (e.g. HBAR) whose creation
	// rate is captured now.
	Assets        []string
	CorrelationID string
}

// CreateLink creates a payment link and records its creation rates.
func (s *LinkService) CreateLink(ctx context.Context, req CreateLinkRequest) (*domain.PaymentLink, error) {
	if err := s.validateCreateRequest(req); err != nil {
		return nil, err
	}

	status := domain.PaymentLinkStatusDraft
	if req.Open {
		status = domain.PaymentLinkStatusOpen
	}

	now := s.now()
	link := &domain.PaymentLink{
		ID:             uuid.New().String(),
		OrganizationID: req.OrganizationID,
		Amount:         req.Amount,
		Currency:       strings.ToUpper(req.Currency),
		Status:         status,
		ExpiresAt:      req.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.insertWithShortCode(ctx, link); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, link, domain.PaymentEventCreated, req.CorrelationID, map[string]string{
		"status": string(status),
	})

	if s.fx != nil {
		for _, asset := range req.Assets {
			if _, err := s.fx.CaptureCreation(ctx, link.ID, asset, link.Currency); err != nil {
				// The rate is captured on first confirmation instead.
				slog.WarnContext(ctx, "creation rate not captured",
					"payment_link_id", link.ID,
					"asset", asset,
					"error", err,
				)
			}
		}
	}

	slog.InfoContext(ctx, "payment link created",
		"payment_link_id", link.ID,
		"organization_id", link.OrganizationID,
		"amount", link.Amount.String(),
		"currency", link.Currency,
		"status", link.Status,
		"correlation_id", req.CorrelationID,
	)

	return link, nil
}

// GetLink retrieves a payment link by ID.
func (s *LinkService) GetLink(ctx context.Context, id string) (*domain.PaymentLink, error) {
	if id == "" {
		return nil, ErrInvalidPaymentLinkID
	}

	link, err := s.linkRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPaymentLinkNotFound
		}
		return nil, err
	}

	return link, nil
}

// ListEvents returns the audit trail of a payment link, oldest first.
func (s *LinkService) ListEvents(ctx context.Context, id string) ([]*domain.PaymentEvent, error) {
	if _, err := s.GetLink(ctx, id); err != nil {
		return nil, err
	}
	return s.eventRepo.ListByLink(ctx, id)
}

// OpenLink publishes a DRAFT link.
func (s *LinkService) OpenLink(ctx context.Context, id string) (*domain.PaymentLink, error) {
	return s.transition(ctx, id, domain.PaymentLinkStatusOpen, "")
}

// CancelLink cancels a DRAFT or OPEN link.
func (s *LinkService) CancelLink(ctx context.Context, id, correlationID string) (*domain.PaymentLink, error) {
	link, err := s.transition(ctx, id, domain.PaymentLinkStatusCanceled, correlationID)
	if err != nil {
		return nil, err
	}

	s.appendEvent(ctx, link, domain.PaymentEventCanceled, correlationID, nil)
	s.notifyClosed(ctx, link)

	return link, nil
}

// ExpireDue moves OPEN links past their expiry to EXPIRED. Links paid or
// canceled concurrently are skipped. Returns the number of links expired.
func (s *LinkService) ExpireDue(ctx context.Context, limit int) (int, error) {
	links, err := s.linkRepo.ListExpirable(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, link := range links {
		err := s.linkRepo.TransitionStatus(ctx, link.ID, domain.PaymentLinkStatusOpen, domain.PaymentLinkStatusExpired)
		if err != nil {
			if errors.Is(err, repository.ErrStatusConflict) || errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return expired, err
		}

		link.Status = domain.PaymentLinkStatusExpired
		link.UpdatedAt = s.now()
		s.appendEvent(ctx, link, domain.PaymentEventExpired, "", nil)
		s.notifyClosed(ctx, link)
		expired++
	}

	if expired > 0 {
		slog.InfoContext(ctx, "payment links expired", "count", expired)
	}

	return expired, nil
}

// transition applies one state machine edge using a conditional update.
func (s *LinkService) transition(ctx context.Context, id string, to domain.PaymentLinkStatus, correlationID string) (*domain.PaymentLink, error) {
	link, err := s.GetLink(ctx, id)
	if err != nil {
		return nil, err
	}

	from := link.Status
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}

	if err := s.linkRepo.TransitionStatus(ctx, id, from, to); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, fmt.Errorf("%w: status changed concurrently", ErrInvalidTransition)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPaymentLinkNotFound
		}
		return nil, err
	}

	link.Status = to
	link.UpdatedAt = s.now()

	slog.InfoContext(ctx, "payment link status changed",
		"payment_link_id", id,
		"from", from,
		"to", to,
		"correlation_id", correlationID,
	)

	return link, nil
}

func (s *LinkService) appendEvent(ctx context.Context, link *domain.PaymentLink, eventType domain.PaymentEventType, correlationID string, metadata map[string]string) {
	event := &domain.PaymentEvent{
		ID:            uuid.New().String(),
		PaymentLinkID: link.ID,
		Type:          eventType,
		CorrelationID: correlationID,
		Metadata:      metadata,
		CreatedAt:     s.now(),
	}
	if err := s.eventRepo.Append(ctx, event); err != nil {
		slog.WarnContext(ctx, "audit event not recorded",
			"payment_link_id", link.ID,
			"event_type", eventType,
			"error", err,
		)
	}
}

func (s *LinkService) notifyClosed(ctx context.Context, link *domain.PaymentLink) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyLinkClosed(ctx, link); err != nil {
		slog.WarnContext(ctx, "merchant notification failed", "payment_link_id", link.ID, "error", err)
	}
}

func (s *LinkService) validateCreateRequest(req CreateLinkRequest) error {
	if req.OrganizationID == "" {
		return ErrInvalidOrganization
	}
	if !req.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if len(strings.TrimSpace(req.Currency)) < 3 {
		return ErrInvalidCurrency
	}
	if !req.ExpiresAt.IsZero() && !req.ExpiresAt.After(s.now()) {
		return ErrInvalidExpiry
	}
	return nil
}

// insertWithShortCode creates the link, drawing a fresh short code when the
// previous one collides.
func (s *LinkService) insertWithShortCode(ctx context.Context, link *domain.PaymentLink) error {
	var err error
	for attempt := 1; attempt <= shortCodeAttempts; attempt++ {
		link.ShortCode = newShortCode()
		err = s.linkRepo.Create(ctx, link)
		if !errors.Is(err, repository.ErrDuplicate) {
			return err
		}
		slog.WarnContext(ctx, "short code collision",
			"payment_link_id", link.ID,
			"short_code", link.ShortCode,
			"attempt", attempt,
		)
	}
	return fmt.Errorf("allocate short code after %d attempts: %w", shortCodeAttempts, err)
}

// newShortCode returns an 8 character public code for a link.
func newShortCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}

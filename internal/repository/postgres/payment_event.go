package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"paylink/internal/domain"
	"paylink/internal/repository"
)

// PaymentEventRepository is a PostgreSQL implementation of repository.PaymentEventRepository.
type PaymentEventRepository struct {
	q Querier
}

// NewPaymentEventRepository creates a new PostgreSQL payment event repository.
func NewPaymentEventRepository(db *sql.DB) *PaymentEventRepository {
	return &PaymentEventRepository{q: db}
}

// NewPaymentEventRepositoryWithTx creates a payment event repository using a transaction.
func NewPaymentEventRepositoryWithTx(tx *sql.Tx) *PaymentEventRepository {
	return &PaymentEventRepository{q: tx}
}

const paymentEventColumns = `id, payment_link_id, event_type, provider, external_reference, amount, currency, correlation_id, metadata, created_at`

// Append adds an event to the log.
func (r *PaymentEventRepository) Append(ctx context.Context, event *domain.PaymentEvent) error {
	query := `
		INSERT INTO payment_events (` + paymentEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode event metadata: %w", err)
	}

	var amount decimal.NullDecimal
	if event.Currency != "" {
		amount = decimal.NullDecimal{Decimal: event.Amount, Valid: true}
	}

	_, err = r.q.ExecContext(ctx, query,
		event.ID,
		event.PaymentLinkID,
		event.Type,
		event.Provider,
		event.ExternalReference,
		amount,
		event.Currency,
		event.CorrelationID,
		metadataJSON,
		event.CreatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}

	return err
}

// FindConfirmed returns the PAYMENT_CONFIRMED event for a provider and external reference.
// Returns nil if none exists.
func (r *PaymentEventRepository) FindConfirmed(ctx context.Context, provider domain.Provider, externalReference string) (*domain.PaymentEvent, error) {
	query := `
		SELECT ` + paymentEventColumns + ` FROM payment_events
		WHERE provider = $1 AND external_reference = $2 AND event_type = $3
	`

	return r.getOne(ctx, query, provider, externalReference, domain.PaymentEventConfirmed)
}

// GetConfirmedForLink returns the PAYMENT_CONFIRMED event of a link.
// Returns nil if none exists.
func (r *PaymentEventRepository) GetConfirmedForLink(ctx context.Context, linkID string) (*domain.PaymentEvent, error) {
	query := `
		SELECT ` + paymentEventColumns + ` FROM payment_events
		WHERE payment_link_id = $1 AND event_type = $2
	`

	return r.getOne(ctx, query, linkID, domain.PaymentEventConfirmed)
}

// ListByLink returns all events of a link, oldest first.
func (r *PaymentEventRepository) ListByLink(ctx context.Context, linkID string) ([]*domain.PaymentEvent, error) {
	query := `
		SELECT ` + paymentEventColumns + ` FROM payment_events
		WHERE payment_link_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.q.QueryContext(ctx, query, linkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.PaymentEvent
	for rows.Next() {
		event, err := scanPaymentEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

func (r *PaymentEventRepository) getOne(ctx context.Context, query string, args ...any) (*domain.PaymentEvent, error) {
	event, err := scanPaymentEvent(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return event, nil
}

func scanPaymentEvent(row rowScanner) (*domain.PaymentEvent, error) {
	var event domain.PaymentEvent
	var amount decimal.NullDecimal
	var metadataJSON []byte

	if err := row.Scan(
		&event.ID,
		&event.PaymentLinkID,
		&event.Type,
		&event.Provider,
		&event.ExternalReference,
		&amount,
		&event.Currency,
		&event.CorrelationID,
		&metadataJSON,
		&event.CreatedAt,
	); err != nil {
		return nil, err
	}

	if amount.Valid {
		event.Amount = amount.Decimal
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode event metadata: %w", err)
		}
	}

	return &event, nil
}

// Ensure PaymentEventRepository implements repository.PaymentEventRepository.
var _ repository.PaymentEventRepository = (*PaymentEventRepository)(nil)

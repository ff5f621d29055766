package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"paylink/internal/domain"
	"paylink/internal/repository"
)

// NotificationType represents the type of merchant notification.
type NotificationType string

const (
	NotificationPaymentReceived NotificationType = "PAYMENT_RECEIVED"
	NotificationPaymentRejected NotificationType = "PAYMENT_REJECTED"
	NotificationLinkExpired     NotificationType = "LINK_EXPIRED"
	NotificationLinkCanceled    NotificationType = "LINK_CANCELED"
)

// Notification represents a notification to be sent to a merchant.
type Notification struct {
	ID             string
	Type           NotificationType
	OrganizationID string
	PaymentLinkID  string
	Title          string
	Message        string
	Data           map[string]string
	CreatedAt      time.Time
}

// NotificationService informs merchants about payment link outcomes. Each
// delivered notification is recorded as a NOTIFICATION_SENT event.
type NotificationService struct {
	eventRepo repository.PaymentEventRepository
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(eventRepo repository.PaymentEventRepository) *NotificationService {
	return &NotificationService{eventRepo: eventRepo}
}

// NotifyPaymentReceived tells the merchant a link was paid.
func (s *NotificationService) NotifyPaymentReceived(ctx context.Context, link *domain.PaymentLink, provider domain.Provider, correlationID string) error {
	return s.send(ctx, Notification{
		Type:           NotificationPaymentReceived,
		OrganizationID: link.OrganizationID,
		PaymentLinkID:  link.ID,
		Title:          "Payment Received",
		Message:        fmt.Sprintf("Payment link %s was paid: %s %s", link.ShortCode, link.Amount.StringFixed(2), link.Currency),
		Data: map[string]string{
			"provider":       string(provider),
			"correlation_id": correlationID,
		},
	})
}

// NotifyPaymentRejected tells the merchant a payment did not match the link.
func (s *NotificationService) NotifyPaymentRejected(ctx context.Context, link *domain.PaymentLink, provider domain.Provider, reason string) error {
	return s.send(ctx, Notification{
		Type:           NotificationPaymentRejected,
		OrganizationID: link.OrganizationID,
		PaymentLinkID:  link.ID,
		Title:          "Payment Rejected",
		Message:        fmt.Sprintf("A payment for link %s was rejected: %s", link.ShortCode, reason),
		Data: map[string]string{
			"provider": string(provider),
			"reason":   reason,
		},
	})
}

// NotifyLinkClosed tells the merchant a link expired or was canceled.
func (s *NotificationService) NotifyLinkClosed(ctx context.Context, link *domain.PaymentLink) error {
	notification := Notification{
		OrganizationID: link.OrganizationID,
		PaymentLinkID:  link.ID,
	}

	switch link.Status {
	case domain.PaymentLinkStatusExpired:
		notification.Type = NotificationLinkExpired
		notification.Title = "Payment Link Expired"
		notification.Message = fmt.Sprintf("Payment link %s expired unpaid", link.ShortCode)
	case domain.PaymentLinkStatusCanceled:
		notification.Type = NotificationLinkCanceled
		notification.Title = "Payment Link Canceled"
		notification.Message = fmt.Sprintf("Payment link %s was canceled", link.ShortCode)
	default:
		return nil
	}

	return s.send(ctx, notification)
}

// send delivers a notification to the merchant log stream and records it.
func (s *NotificationService) send(ctx context.Context, notification Notification) error {
	notification.ID = uuid.New().String()
	notification.CreatedAt = time.Now()

	slog.InfoContext(ctx, "merchant notification",
		"type", notification.Type,
		"organization_id", notification.OrganizationID,
		"payment_link_id", notification.PaymentLinkID,
		"title", notification.Title,
		"message", notification.Message,
	)

	if s.eventRepo == nil {
		return nil
	}

	metadata := map[string]string{"notification_type": string(notification.Type)}
	for k, v := range notification.Data {
		if v != "" {
			metadata[k] = v
		}
	}

	return s.eventRepo.Append(ctx, &domain.PaymentEvent{
		ID:            notification.ID,
		PaymentLinkID: notification.PaymentLinkID,
		Type:          domain.PaymentEventNotificationSent,
		Metadata:      metadata,
		CreatedAt:     notification.CreatedAt,
	})
}

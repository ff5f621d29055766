package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paylink/internal/domain"
	"paylink/internal/repository"
	"paylink/internal/service"
)

func TestCreateLink_DraftThenOpen(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	link, err := h.linkSvc.CreateLink(ctx, service.CreateLinkRequest{
		OrganizationID: "org-1",
		Amount:         dec("49.99"),
		Currency:       "usd",
		ExpiresAt:      time.Now().Add(24 * time.Hour),
		CorrelationID:  "corr-1",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, link.ID)
	assert.Len(t, link.ShortCode, 8)
	assert.Equal(t, "USD", link.Currency)
	assert.Equal(t, domain.PaymentLinkStatusDraft, link.Status)

	created := h.db.Events(link.ID, domain.PaymentEventCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "corr-1", created[0].CorrelationID)

	opened, err := h.linkSvc.OpenLink(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentLinkStatusOpen, opened.Status)
	assert.Equal(t, domain.PaymentLinkStatusOpen, h.db.Link(link.ID).Status)

	_, err = h.linkSvc.OpenLink(ctx, link.ID)
	assert.ErrorIs(t, err, service.ErrInvalidTransition)
}

func TestCreateLink_ShortCodeCollision_Retries(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.links.CreateConflicts = 2

	link, err := h.linkSvc.CreateLink(context.Background(), service.CreateLinkRequest{
		OrganizationID: "org-1",
		Amount:         dec("10"),
		Currency:       "USD",
	})
	require.NoError(t, err)

	assert.Equal(t, int32(3), h.links.CreateCallCount)
	assert.Len(t, link.ShortCode, 8)
	assert.Equal(t, link.ShortCode, h.db.Link(link.ID).ShortCode)
}

func TestCreateLink_ShortCodeCollision_GivesUp(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.links.CreateConflicts = 10

	_, err := h.linkSvc.CreateLink(context.Background(), service.CreateLinkRequest{
		OrganizationID: "org-1",
		Amount:         dec("10"),
		Currency:       "USD",
	})
	require.ErrorIs(t, err, repository.ErrDuplicate)

	assert.Equal(t, int32(3), h.links.CreateCallCount)
	assert.Equal(t, int32(0), h.db.Writes())
}

func TestCreateLink_CapturesCreationRates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.rates.SetRate("HBAR", "USD", "0.0625")

	link, err := h.linkSvc.CreateLink(context.Background(), service.CreateLinkRequest{
		OrganizationID: "org-1",
		Amount:         dec("100"),
		Currency:       "USD",
		Open:           true,
		Assets:         []string{"HBAR", "USDC", "DOGE"},
	})
	require.NoError(t, err, "a missing rate does not block creation")
	assert.Equal(t, domain.PaymentLinkStatusOpen, link.Status)

	snapshot, err := h.fxRepo.Get(context.Background(), link.ID, domain.FxSnapshotCreation, "HBAR", "USD")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.True(t, snapshot.Rate.Equal(dec("0.0625")))
	assert.Equal(t, "mock", snapshot.Source)

	usdc, err := h.fxRepo.Get(context.Background(), link.ID, domain.FxSnapshotCreation, "USDC", "USD")
	require.NoError(t, err)
	require.NotNil(t, usdc)
	assert.Equal(t, "peg", usdc.Source)

	// The creation rate is immutable.
	h.rates.SetRate("HBAR", "USD", "0.09")
	rate, err := h.fx.CreationRate(context.Background(), link.ID, "HBAR", "USD")
	require.NoError(t, err)
	assert.True(t, rate.Equal(dec("0.0625")))
}

func TestCreateLink_Validation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	valid := service.CreateLinkRequest{OrganizationID: "org-1", Amount: dec("10"), Currency: "USD"}

	testCases := []struct {
		name    string
		mutate  func(*service.CreateLinkRequest)
		wantErr error
	}{
		{name: "missing organization", mutate: func(r *service.CreateLinkRequest) { r.OrganizationID = "" }, wantErr: service.ErrInvalidOrganization},
		{name: "zero amount", mutate: func(r *service.CreateLinkRequest) { r.Amount = dec("0") }, wantErr: service.ErrInvalidAmount},
		{name: "negative amount", mutate: func(r *service.CreateLinkRequest) { r.Amount = dec("-1") }, wantErr: service.ErrInvalidAmount},
		{name: "short currency", mutate: func(r *service.CreateLinkRequest) { r.Currency = "US" }, wantErr: service.ErrInvalidCurrency},
		{name: "past expiry", mutate: func(r *service.CreateLinkRequest) { r.ExpiresAt = time.Now().Add(-time.Minute) }, wantErr: service.ErrInvalidExpiry},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			_, err := h.linkSvc.CreateLink(context.Background(), req)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}

	assert.Equal(t, int32(0), h.db.Writes())
}

func TestCancelLink(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.openLink("link-1", "10.00", "USD")

	canceled, err := h.linkSvc.CancelLink(ctx, "link-1", "corr-cancel")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentLinkStatusCanceled, canceled.Status)

	events := h.db.Events("link-1", domain.PaymentEventCanceled)
	require.Len(t, events, 1)
	assert.Equal(t, "corr-cancel", events[0].CorrelationID)

	notified := h.db.Events("link-1", domain.PaymentEventNotificationSent)
	require.Len(t, notified, 1)
	assert.Equal(t, string(service.NotificationLinkCanceled), notified[0].Metadata["notification_type"])

	_, err = h.linkSvc.CancelLink(ctx, "link-1", "")
	assert.ErrorIs(t, err, service.ErrInvalidTransition, "canceled is terminal")

	_, err = h.confirmation.ConfirmPayment(ctx, stripeRequest("link-1", "pi_1", "10.00"))
	assert.ErrorIs(t, err, service.ErrInvalidState)
}

func TestCancelLink_PaidLinkIsFinal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.openLink("link-1", "10.00", "USD")

	_, err := h.confirmation.ConfirmPayment(ctx, stripeRequest("link-1", "pi_1", "10.00"))
	require.NoError(t, err)

	_, err = h.linkSvc.CancelLink(ctx, "link-1", "")
	assert.ErrorIs(t, err, service.ErrInvalidTransition)
	assert.Equal(t, domain.PaymentLinkStatusPaid, h.db.Link("link-1").Status)
}

func TestLinkService_UnknownLink(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.linkSvc.GetLink(context.Background(), "missing")
	assert.ErrorIs(t, err, service.ErrPaymentLinkNotFound)

	_, err = h.linkSvc.CancelLink(context.Background(), "missing", "")
	assert.ErrorIs(t, err, service.ErrPaymentLinkNotFound)

	_, err = h.linkSvc.ListEvents(context.Background(), "missing")
	assert.ErrorIs(t, err, service.ErrPaymentLinkNotFound)

	_, err = h.linkSvc.GetLink(context.Background(), "")
	assert.ErrorIs(t, err, service.ErrInvalidPaymentLinkID)
}

func TestExpireDue(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	due := h.openLink("link-due", "10.00", "USD")
	due.ExpiresAt = time.Now().Add(-time.Minute)
	h.db.AddLink(due)

	h.openLink("link-future", "10.00", "USD")

	never := h.openLink("link-never", "10.00", "USD")
	never.ExpiresAt = time.Time{}
	h.db.AddLink(never)

	paid := h.openLink("link-paid", "10.00", "USD")
	paid.Status = domain.PaymentLinkStatusPaid
	paid.ExpiresAt = time.Now().Add(-time.Minute)
	h.db.AddLink(paid)

	n, err := h.linkSvc.ExpireDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, domain.PaymentLinkStatusExpired, h.db.Link("link-due").Status)
	assert.Equal(t, domain.PaymentLinkStatusOpen, h.db.Link("link-future").Status)
	assert.Equal(t, domain.PaymentLinkStatusOpen, h.db.Link("link-never").Status)
	assert.Equal(t, domain.PaymentLinkStatusPaid, h.db.Link("link-paid").Status)
	assert.Len(t, h.db.Events("link-due", domain.PaymentEventExpired), 1)

	n, err = h.linkSvc.ExpireDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestListEvents_AuditTrailInOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.openLink("link-1", "100.00", "USD")

	_, err := h.confirmation.ConfirmPayment(ctx, stripeRequest("link-1", "pi_bad", "50.00"))
	require.Error(t, err)
	_, err = h.confirmation.ConfirmPayment(ctx, stripeRequest("link-1", "pi_good", "100.00"))
	require.NoError(t, err)

	events, err := h.linkSvc.ListEvents(ctx, "link-1")
	require.NoError(t, err)

	var types []domain.PaymentEventType
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []domain.PaymentEventType{
		domain.PaymentEventAttempted,
		domain.PaymentEventFailed,
		domain.PaymentEventNotificationSent,
		domain.PaymentEventAttempted,
		domain.PaymentEventConfirmed,
		domain.PaymentEventNotificationSent,
	}, types)
}

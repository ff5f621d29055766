package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paylink/internal/adapter"
	"paylink/internal/app"
	"paylink/internal/domain"
	"paylink/internal/handler"
	"paylink/internal/middleware"
)

const webhookSecret = "whsec_http"

type server struct {
	*harness
	router http.Handler
	redis  *miniredis.Miniredis
}

func newServer(t *testing.T, mirrorURL string) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := newHarness(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	stripe := adapter.NewStripeAdapter(h.confirmation, webhookSecret, time.Minute)
	hedera := adapter.NewHederaAdapter(h.confirmation, adapter.HederaConfig{
		MirrorURL:       mirrorURL,
		MerchantAccount: "0.0.5005",
		PollInterval:    10 * time.Millisecond,
		PollTimeout:     100 * time.Millisecond,
	})
	wise := adapter.NewWiseAdapter(h.confirmation, "http://127.0.0.1:1", "")

	router := app.NewRouter(app.RouterDeps{
		LinkHandler:    handler.NewLinkHandler(h.linkSvc, h.ledgerSvc),
		WebhookHandler: handler.NewWebhookHandler(stripe, hedera, wise),
		AdminHandler:   handler.NewAdminHandler(h.syncQueue, h.ledgerSvc, h.linkSvc, h.consistency, h.locks),
		RedisClient:    client,
		Gatherer:       h.registry,
	})

	return &server{harness: h, router: router, redis: mr}
}

func (s *server) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func stripeWebhook(linkID, intentID string, minor int64) ([]byte, string) {
	payload := []byte(fmt.Sprintf(`{"id":"evt_%s","type":"payment_intent.succeeded","data":{"object":{
		"id":%q,"amount_received":%d,"currency":"usd","status":"succeeded",
		"metadata":{"payment_link_id":%q}}}}`, intentID, intentID, minor, linkID))
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return payload, "t=" + ts + ",v1=" + adapter.SignStripePayload(webhookSecret, ts, payload)
}

func TestHTTP_LinkLifecycleAndStripeConfirmation(t *testing.T) {
	s := newServer(t, "http://127.0.0.1:1")

	rec := s.do(t, http.MethodPost, "/v1/links",
		[]byte(`{"organization_id":"org-1","amount":"100.00","currency":"usd","open":true}`),
		map[string]string{middleware.CorrelationHeader: "corr-http"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "corr-http", rec.Header().Get(middleware.CorrelationHeader))

	link := decode[handler.LinkResponse](t, rec)
	assert.Equal(t, "OPEN", link.Status)
	assert.Equal(t, "/v1/links/"+link.ID, rec.Header().Get("Location"))

	payload, sig := stripeWebhook(link.ID, "pi_http", 9980)
	rec = s.do(t, http.MethodPost, "/v1/webhooks/stripe", payload, map[string]string{adapter.StripeSignatureHeader: sig})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decode[adapter.Result](t, rec)
	require.NotNil(t, result.Confirmation)
	assert.Equal(t, domain.PaymentLinkStatusPaid, result.Confirmation.Status)
	assert.True(t, result.Confirmation.LedgerPosted)

	// Provider redelivery.
	rec = s.do(t, http.MethodPost, "/v1/webhooks/stripe", payload, map[string]string{adapter.StripeSignatureHeader: sig})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[adapter.Result](t, rec).Confirmation.AlreadyProcessed)

	rec = s.do(t, http.MethodGet, "/v1/links/"+link.ID+"/ledger", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ledger := decode[handler.LedgerResponse](t, rec)
	assert.Len(t, ledger.Entries, 2)
	assert.True(t, ledger.Balanced)

	rec = s.do(t, http.MethodGet, "/v1/links/"+link.ID+"/events", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]handler.EventResponse](t, rec)
	assert.NotEmpty(t, events)
	assert.Equal(t, string(domain.PaymentEventCreated), events[0].Type)

	rec = s.do(t, http.MethodPost, "/v1/admin/sync/run", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), s.client.CallCount)

	rec = s.do(t, http.MethodGet, "/v1/admin/consistency", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[map[string]any](t, rec)["healthy"].(bool))

	rec = s.do(t, http.MethodPost, "/v1/links/"+link.ID+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "paid links cannot be canceled")
}

func TestHTTP_WebhookErrorMapping(t *testing.T) {
	s := newServer(t, "http://127.0.0.1:1")
	s.openLink("link-1", "100.00", "USD")

	payload, _ := stripeWebhook("link-1", "pi_1", 10000)
	rec := s.do(t, http.MethodPost, "/v1/webhooks/stripe", payload, map[string]string{adapter.StripeSignatureHeader: "t=1,v1=00"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	payload, sig := stripeWebhook("link-1", "pi_short", 5000)
	rec = s.do(t, http.MethodPost, "/v1/webhooks/stripe", payload, map[string]string{adapter.StripeSignatureHeader: sig})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "AMOUNT_MISMATCH", decode[handler.ErrorResponse](t, rec).Kind)

	s.locks.Hold("link-1", time.Minute)
	payload, sig = stripeWebhook("link-1", "pi_2", 10000)
	rec = s.do(t, http.MethodPost, "/v1/webhooks/stripe", payload, map[string]string{adapter.StripeSignatureHeader: sig})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.True(t, decode[handler.ErrorResponse](t, rec).Retryable)

	rec = s.do(t, http.MethodGet, "/v1/admin/locks/link-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["held"])

	payload, sig = stripeWebhook("missing", "pi_3", 10000)
	rec = s.do(t, http.MethodPost, "/v1/webhooks/stripe", payload, map[string]string{adapter.StripeSignatureHeader: sig})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/webhooks/wise", []byte(`{"transferId":7}`), nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHTTP_HederaNotFinal_Accepted(t *testing.T) {
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer mirror.Close()

	s := newServer(t, mirror.URL)
	s.openLink("link-1", "100.00", "USD")

	rec := s.do(t, http.MethodPost, "/v1/links/link-1/hedera/transactions",
		[]byte(`{"transaction_id":"0.0.1234@1700000000.000000001"}`), nil)
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, domain.PaymentLinkStatusOpen, s.db.Link("link-1").Status)

	rec = s.do(t, http.MethodPost, "/v1/links/link-1/hedera/transactions", []byte(`{}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_IdempotencyKeyReplaysCreate(t *testing.T) {
	s := newServer(t, "http://127.0.0.1:1")
	body := []byte(`{"organization_id":"org-1","amount":"12.00","currency":"EUR"}`)
	headers := map[string]string{"Idempotency-Key": "create-1"}

	first := s.do(t, http.MethodPost, "/v1/links", body, headers)
	require.Equal(t, http.StatusCreated, first.Code)

	second := s.do(t, http.MethodPost, "/v1/links", body, headers)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, first.Header().Get("Location"), second.Header().Get("Location"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	third := s.do(t, http.MethodPost, "/v1/links", body, map[string]string{"Idempotency-Key": "create-2"})
	require.Equal(t, http.StatusCreated, third.Code)
	assert.NotEqual(t, decode[handler.LinkResponse](t, first).ID, decode[handler.LinkResponse](t, third).ID)
}

func TestHTTP_IdempotencyKeyInFlight_Conflicts(t *testing.T) {
	s := newServer(t, "http://127.0.0.1:1")
	require.NoError(t, s.redis.Set("idempotency:/v1/links:busy:inflight", "other"))

	rec := s.do(t, http.MethodPost, "/v1/links",
		[]byte(`{"organization_id":"org-1","amount":"1","currency":"EUR"}`),
		map[string]string{"Idempotency-Key": "busy"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestHTTP_AdminSweeps(t *testing.T) {
	s := newServer(t, "http://127.0.0.1:1")

	due := s.openLink("link-due", "10.00", "USD")
	due.ExpiresAt = time.Now().Add(-time.Minute)
	s.db.AddLink(due)

	rec := s.do(t, http.MethodPost, "/v1/admin/links/expire", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, handler.CountResponse{Count: 1}, decode[handler.CountResponse](t, rec))

	paid := s.openLink("link-paid", "10.00", "USD")
	paid.Status = domain.PaymentLinkStatusPaid
	s.db.AddLink(paid)

	rec = s.do(t, http.MethodPost, "/v1/admin/sync/backfill?limit=5", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[handler.CountResponse](t, rec).Count)

	rec = s.do(t, http.MethodPost, "/v1/admin/sync/reset-failed", []byte(`{"organization_id":"org-1"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[handler.CountResponse](t, rec).Count)

	rec = s.do(t, http.MethodGet, "/v1/admin/ledger/link-paid/balance", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["balanced"])
}

func TestHTTP_HealthAndMetrics(t *testing.T) {
	s := newServer(t, "http://127.0.0.1:1")
	s.openLink("link-1", "100.00", "USD")
	_, err := s.confirmation.ConfirmPayment(context.Background(), stripeRequest("link-1", "pi_1", "100.00"))
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "paylink_"), "custom metrics are exposed")
}

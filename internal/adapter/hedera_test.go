package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paylink/internal/domain"
	"paylink/internal/service"
)

const (
	merchantAccount = "0.0.5005"
	testTxID        = "0.0.1234-1700000000-000000001"
)

func newMirror(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func hederaAdapter(confirmer service.ConfirmationServiceInterface, url string) *HederaAdapter {
	return NewHederaAdapter(confirmer, HederaConfig{
		MirrorURL:       url,
		MerchantAccount: merchantAccount,
		Tokens:          map[string]string{"0.0.456858": "USDC", "0.0.9999": "SAUCE"},
		PollInterval:    10 * time.Millisecond,
		PollTimeout:     200 * time.Millisecond,
	})
}

func TestHedera_NativeTransfer_ConvertsTinybars(t *testing.T) {
	mirror := newMirror(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/transactions/"+testTxID, r.URL.Path)
		_, _ = w.Write([]byte(`{"transactions":[{
			"transaction_id":"` + testTxID + `",
			"consensus_timestamp":"1700000001.000000002",
			"result":"SUCCESS",
			"transfers":[
				{"account":"0.0.1234","amount":-200050000000},
				{"account":"` + merchantAccount + `","amount":200000000000},
				{"account":"0.0.98","amount":50000000}
			]}]}`))
	})

	confirmer := &recordingConfirmer{}
	res, err := hederaAdapter(confirmer, mirror.URL).ConfirmTransaction(context.Background(), "link-1", "0.0.1234@1700000000.000000001", "corr-1")
	require.NoError(t, err)
	require.NotNil(t, res.Confirmation)

	req := confirmer.last(t)
	assert.Equal(t, domain.ProviderHedera, req.Provider)
	assert.Equal(t, testTxID, req.ExternalReference)
	assert.Equal(t, "2000", req.Amount.String())
	assert.Equal(t, "HBAR", req.Currency)
	assert.True(t, req.Finalized)
	assert.Equal(t, "1700000001.000000002", req.Metadata["consensus_timestamp"])
}

func TestHedera_KnownToken_UsesTokenDecimals(t *testing.T) {
	mirror := newMirror(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"transactions":[{
			"consensus_timestamp":"1700000001.0",
			"result":"SUCCESS",
			"transfers":[{"account":"` + merchantAccount + `","amount":1}],
			"token_transfers":[
				{"token_id":"0.0.456858","account":"` + merchantAccount + `","amount":99800000},
				{"token_id":"0.0.456858","account":"0.0.1234","amount":-99800000}
			]}]}`))
	})

	confirmer := &recordingConfirmer{}
	_, err := hederaAdapter(confirmer, mirror.URL).ConfirmTransaction(context.Background(), "link-1", testTxID, "")
	require.NoError(t, err)

	req := confirmer.last(t)
	assert.Equal(t, "99.8", req.Amount.String())
	assert.Equal(t, "USDC", req.Currency)
}

func TestHedera_UnknownTokenDecimals_FetchedOnce(t *testing.T) {
	var tokenLookups int32
	mirror := newMirror(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/tokens/0.0.9999" {
			atomic.AddInt32(&tokenLookups, 1)
			_, _ = w.Write([]byte(`{"decimals":"4"}`))
			return
		}
		_, _ = w.Write([]byte(`{"transactions":[{
			"consensus_timestamp":"1700000001.0",
			"result":"SUCCESS",
			"token_transfers":[{"token_id":"0.0.9999","account":"` + merchantAccount + `","amount":125000}]
			}]}`))
	})

	confirmer := &recordingConfirmer{}
	adapter := hederaAdapter(confirmer, mirror.URL)
	for i := 0; i < 2; i++ {
		_, err := adapter.ConfirmTransaction(context.Background(), "link-1", testTxID, "")
		require.NoError(t, err)
	}

	req := confirmer.last(t)
	assert.Equal(t, "12.5", req.Amount.String())
	assert.Equal(t, "SAUCE", req.Currency)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenLookups))
}

func TestHedera_PollsUntilFinal(t *testing.T) {
	var calls int32
	mirror := newMirror(t, func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusNotFound)
		case 2:
			_, _ = w.Write([]byte(`{"transactions":[{"result":"SUCCESS"}]}`))
		default:
			_, _ = w.Write([]byte(`{"transactions":[{"consensus_timestamp":"1.0","result":"SUCCESS",
				"transfers":[{"account":"` + merchantAccount + `","amount":100000000}]}]}`))
		}
	})

	confirmer := &recordingConfirmer{}
	_, err := hederaAdapter(confirmer, mirror.URL).ConfirmTransaction(context.Background(), "link-1", testTxID, "")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, "1", confirmer.last(t).Amount.String())
}

func TestHedera_NeverFinal_ReturnsNotFinalized(t *testing.T) {
	mirror := newMirror(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	confirmer := &recordingConfirmer{}
	_, err := hederaAdapter(confirmer, mirror.URL).ConfirmTransaction(context.Background(), "link-1", testTxID, "")
	assert.ErrorIs(t, err, service.ErrNotFinalized)
	assert.Equal(t, 0, confirmer.count())
}

func TestHedera_Failures(t *testing.T) {
	testCases := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{
			name:    "failed result",
			status:  http.StatusOK,
			body:    `{"transactions":[{"consensus_timestamp":"1.0","result":"INSUFFICIENT_PAYER_BALANCE"}]}`,
			wantErr: ErrTransactionFailed,
		},
		{
			name:    "no merchant credit",
			status:  http.StatusOK,
			body:    `{"transactions":[{"consensus_timestamp":"1.0","result":"SUCCESS","transfers":[{"account":"0.0.7","amount":10}]}]}`,
			wantErr: ErrNoMerchantTransfer,
		},
		{
			name:   "credits two configured tokens",
			status: http.StatusOK,
			body: `{"transactions":[{"consensus_timestamp":"1.0","result":"SUCCESS","token_transfers":[
				{"token_id":"0.0.456858","account":"` + merchantAccount + `","amount":1000000},
				{"token_id":"0.0.9999","account":"` + merchantAccount + `","amount":500}]}]}`,
			wantErr: ErrMalformedPayload,
		},
		{
			name:    "mirror error",
			status:  http.StatusInternalServerError,
			wantErr: ErrUpstream,
		},
		{
			name:    "garbage body",
			status:  http.StatusOK,
			body:    `<html>`,
			wantErr: ErrMalformedPayload,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mirror := newMirror(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			confirmer := &recordingConfirmer{}
			_, err := hederaAdapter(confirmer, mirror.URL).ConfirmTransaction(context.Background(), "link-1", testTxID, "")
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, 0, confirmer.count())
		})
	}
}

func TestNormalizeTransactionID(t *testing.T) {
	got, err := NormalizeTransactionID("0.0.123@1700000000.000000001")
	require.NoError(t, err)
	assert.Equal(t, "0.0.123-1700000000-000000001", got)

	got, err = NormalizeTransactionID(" 0.0.123-1700000000-000000001 ")
	require.NoError(t, err)
	assert.Equal(t, "0.0.123-1700000000-000000001", got)

	for _, bad := range []string{"", "0.0.123", "0.0.123@1700000000", "@1.2", "a-b"} {
		_, err := NormalizeTransactionID(bad)
		assert.ErrorIs(t, err, ErrMalformedPayload, "input %q", bad)
	}
}

func TestHedera_MissingLink(t *testing.T) {
	_, err := hederaAdapter(&recordingConfirmer{}, "http://unused").ConfirmTransaction(context.Background(), "", testTxID, "")
	assert.ErrorIs(t, err, ErrMissingPaymentLink)
}

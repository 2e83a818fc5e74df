package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agrimart/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"AGM-1"}}`)
	sig := Sign("whsec", body)

	assert.NoError(t, VerifySignature("whsec", body, sig))
	assert.NoError(t, VerifySignature("whsec", body, " "+sig+" "))

	cases := map[string]struct {
		secret, sig string
		reason      string
	}{
		"no secret":    {"", sig, "webhook_secret_unconfigured"},
		"no signature": {"whsec", "", "missing_signature"},
		"not hex":      {"whsec", "zz", "malformed_signature"},
		"wrong secret": {"other", sig, "signature_mismatch"},
	}
	for name, tc := range cases {
		err := VerifySignature(tc.secret, body, tc.sig)
		require.Error(t, err, name)
		assert.True(t, apperr.Is(err, apperr.KindSignatureInvalid), name)
		assert.Equal(t, tc.reason, apperr.ReasonOf(err), name)
	}

	tampered := append([]byte(nil), body...)
	tampered[10] = 'X'
	assert.Error(t, VerifySignature("whsec", tampered, sig))
}

func TestParseWebhookMetadataShapes(t *testing.T) {
	for name, raw := range map[string]string{
		"object":  `{"event":"charge.success","data":{"reference":"r","amount":500,"metadata":{"order_id":"o1","buyer_id":"b1"}}}`,
		"string":  `{"event":"charge.success","data":{"reference":"r","amount":500,"metadata":"{\"order_id\":\"o1\",\"buyer_id\":\"b1\"}"}}`,
		"numeric": `{"event":"charge.success","data":{"reference":"r","amount":500,"metadata":{"order_id":"o1","buyer_id":"b1","extra":3}}}`,
	} {
		ev, err := ParseWebhook([]byte(raw))
		require.NoError(t, err, name)
		v := ev.Verification([]byte(raw))
		assert.True(t, v.Succeeded(), name)
		require.NotNil(t, v.Metadata, name)
		assert.Equal(t, "o1", v.Metadata.OrderID, name)
		assert.Equal(t, "b1", v.Metadata.BuyerID, name)
		require.NotNil(t, v.Amount, name)
		assert.Equal(t, int64(500), *v.Amount, name)
	}

	ev, err := ParseWebhook([]byte(`{"event":"charge.success","data":{"reference":"r","metadata":""}}`))
	require.NoError(t, err)
	assert.Nil(t, ev.Verification(nil).Metadata)

	_, err = ParseWebhook([]byte(`not json`))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestHTTPClientInitializeAndVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/transaction/initialize":
			var in map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.EqualValues(t, 20000, in["amount"])
			w.Write([]byte(`{"status":true,"message":"ok","data":{"authorization_url":"https://pay/x","access_code":"ac","reference":"AGM-1"}}`))
		case "/transaction/verify/AGM-1":
			w.Write([]byte(`{"status":true,"data":{"status":"success","reference":"AGM-1","amount":20000,"currency":"NGN","metadata":{"order_id":"o1","buyer_id":"b1"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "sk_test", time.Second)
	ctx := context.Background()
	res, err := c.Initialize(ctx, InitializeRequest{Email: "b@x", AmountMinor: 20000, Currency: "NGN", Reference: "AGM-1"})
	require.NoError(t, err)
	assert.Equal(t, "https://pay/x", res.AuthorizationURL)

	v, err := c.Verify(ctx, "AGM-1")
	require.NoError(t, err)
	assert.True(t, v.Succeeded())
	assert.Equal(t, int64(20000), *v.Amount)
	assert.Equal(t, "o1", v.Metadata.OrderID)

	_, err = c.Verify(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.KindExternal))
}

func TestHTTPClientTimeoutIsExternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "sk", 20*time.Millisecond)
	_, err := c.Transfer(context.Background(), TransferRequest{AmountMinor: 100, RecipientCode: "RCP"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindExternal))
	assert.Equal(t, "gateway_timeout", apperr.ReasonOf(err))
}

func TestMockScripting(t *testing.T) {
	m := NewMock()
	ctx := context.Background()
	_, err := m.Initialize(ctx, InitializeRequest{Reference: "r1", AmountMinor: 700, Currency: "NGN", Metadata: Metadata{OrderID: "o"}})
	require.NoError(t, err)

	v, err := m.Verify(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(700), *v.Amount)

	m.FailTransfers(apperr.External("gateway_timeout", nil))
	_, err = m.Transfer(ctx, TransferRequest{AmountMinor: 1})
	assert.Error(t, err)
	code, err := m.Transfer(ctx, TransferRequest{AmountMinor: 1})
	require.NoError(t, err)
	assert.Equal(t, "TRF_mock_1", code)
	assert.Len(t, m.Transfers(), 2)
}

package gateway_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/bitvend/bitvend/internal/config"
	"github.com/bitvend/bitvend/internal/payment/domain"
	"github.com/bitvend/bitvend/internal/payment/gateway"
)

const testSecret = "signing_secret_test"

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func newVerifier() domain.Verifier {
	return gateway.NewAdapter(gateway.Params{
		Cfg: config.Config{GatewaySigningSecret: testSecret},
	})
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	v := newVerifier()
	payload := []byte(`{"invoice_id":"inv_1","status":"paid","amount":"10.00","currency":"USD"}`)

	headers := http.Header{}
	headers.Set(gateway.SignatureHeader, sign(testSecret, payload))

	if err := v.Verify(payload, headers); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyRejections(t *testing.T) {
	v := newVerifier()
	payload := []byte(`{"invoice_id":"inv_1","status":"paid","amount":"10.00","currency":"USD"}`)

	tests := []struct {
		name    string
		headers http.Header
		payload []byte
	}{
		{
			name:    "missing header",
			headers: http.Header{},
			payload: payload,
		},
		{
			name: "wrong secret",
			headers: func() http.Header {
				h := http.Header{}
				h.Set(gateway.SignatureHeader, sign("other_secret", payload))
				return h
			}(),
			payload: payload,
		},
		{
			name: "tampered body",
			headers: func() http.Header {
				h := http.Header{}
				h.Set(gateway.SignatureHeader, sign(testSecret, payload))
				return h
			}(),
			payload: []byte(`{"invoice_id":"inv_1","status":"paid","amount":"99.00","currency":"USD"}`),
		},
		{
			name: "garbage signature",
			headers: func() http.Header {
				h := http.Header{}
				h.Set(gateway.SignatureHeader, "not-a-hex-mac")
				return h
			}(),
			payload: payload,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := v.Verify(tc.payload, tc.headers); err != domain.ErrInvalidSignature {
				t.Fatalf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}

func TestVerifyRejectsEverythingWithoutSecret(t *testing.T) {
	v := gateway.NewAdapter(gateway.Params{Cfg: config.Config{}})
	payload := []byte(`{}`)
	headers := http.Header{}
	headers.Set(gateway.SignatureHeader, sign("", payload))

	if err := v.Verify(payload, headers); err != domain.ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature with empty secret, got %v", err)
	}
}

func TestParseExtractsNotification(t *testing.T) {
	v := newVerifier()
	payload := []byte(`{"invoice_id":"inv_42","status":"success","amount":"19.90","currency":"usd"}`)

	n, err := v.Parse(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n.GatewayInvoiceID != "inv_42" {
		t.Fatalf("invoice id: %q", n.GatewayInvoiceID)
	}
	if n.Status != domain.StatusPaid {
		t.Fatalf("expected paid, got %q", n.Status)
	}
	if n.RawStatus != "success" {
		t.Fatalf("raw status: %q", n.RawStatus)
	}
	if n.Amount.String() != "19.9" {
		t.Fatalf("amount: %s", n.Amount)
	}
	if n.Currency != "USD" {
		t.Fatalf("currency: %q", n.Currency)
	}
}

func TestParseStatusMapping(t *testing.T) {
	v := newVerifier()
	tests := []struct {
		raw  string
		want domain.Status
	}{
		{"paid", domain.StatusPaid},
		{"success", domain.StatusPaid},
		{"overpaid", domain.StatusPaid},
		{"failed", domain.StatusFailed},
		{"canceled", domain.StatusFailed},
		{"expired", domain.StatusExpired},
		{"overdue", domain.StatusExpired},
		{"refund_requested", domain.StatusUnrecognized},
	}
	for _, tc := range tests {
		payload := []byte(`{"invoice_id":"inv_1","status":"` + tc.raw + `","amount":"1","currency":"USD"}`)
		n, err := v.Parse(payload)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if n.Status != tc.want {
			t.Fatalf("status %q: expected %q, got %q", tc.raw, tc.want, n.Status)
		}
	}
}

func TestParseMalformedPayloads(t *testing.T) {
	v := newVerifier()
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `status=paid&invoice_id=1`},
		{"missing invoice", `{"status":"paid","amount":"1","currency":"USD"}`},
		{"missing status", `{"invoice_id":"inv_1","amount":"1","currency":"USD"}`},
		{"missing currency", `{"invoice_id":"inv_1","status":"paid","amount":"1"}`},
		{"unparseable amount", `{"invoice_id":"inv_1","status":"paid","amount":"ten","currency":"USD"}`},
		{"empty amount", `{"invoice_id":"inv_1","status":"paid","amount":"","currency":"USD"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Parse([]byte(tc.payload)); err != domain.ErrMalformedPayload {
				t.Fatalf("expected ErrMalformedPayload, got %v", err)
			}
		})
	}
}

package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bitvend/bitvend/internal/config"
	"github.com/bitvend/bitvend/internal/payment/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

// SignatureHeader carries the gateway's HMAC-SHA256 of the raw request body,
// hex encoded.
const SignatureHeader = "X-Signature"

type Params struct {
	fx.In

	Cfg config.Config
}

// Adapter verifies and decodes callbacks from the crypto payment gateway.
type Adapter struct {
	signingSecret string
}

func NewAdapter(p Params) domain.Verifier {
	return &Adapter{signingSecret: p.Cfg.GatewaySigningSecret}
}

func (a *Adapter) Verify(payload []byte, headers http.Header) error {
	if a.signingSecret == "" {
		return domain.ErrInvalidSignature
	}
	signature := strings.TrimSpace(headers.Get(SignatureHeader))
	if signature == "" {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.signingSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

type callbackPayload struct {
	InvoiceID string `json:"invoice_id"`
	Status    string `json:"status"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

func (a *Adapter) Parse(payload []byte) (*domain.Notification, error) {
	var body callbackPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, domain.ErrMalformedPayload
	}

	invoiceID := strings.TrimSpace(body.InvoiceID)
	rawStatus := strings.TrimSpace(body.Status)
	currency := strings.ToUpper(strings.TrimSpace(body.Currency))
	if invoiceID == "" || rawStatus == "" || currency == "" {
		return nil, domain.ErrMalformedPayload
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(body.Amount))
	if err != nil {
		return nil, domain.ErrMalformedPayload
	}

	return &domain.Notification{
		GatewayInvoiceID: invoiceID,
		Status:           normalizeStatus(rawStatus),
		RawStatus:        rawStatus,
		Amount:           amount,
		Currency:         currency,
		RawPayload:       payload,
	}, nil
}

// normalizeStatus folds the gateway's status vocabulary into the fixed set
// the state machine understands. Anything else is kept as unrecognized and
// routed to an incident instead of being guessed at.
func normalizeStatus(raw string) domain.Status {
	switch strings.ToLower(raw) {
	case "paid", "success", "overpaid":
		return domain.StatusPaid
	case "failed", "fail", "canceled":
		return domain.StatusFailed
	case "expired", "overdue":
		return domain.StatusExpired
	default:
		return domain.StatusUnrecognized
	}
}

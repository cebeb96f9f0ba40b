package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"chama-engine/internal/config"
	"chama-engine/internal/core/domain"
	"chama-engine/internal/core/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// MpesaGateway sends payouts and disbursements as M-Pesa B2C payments.
// Results arrive asynchronously on the payment callback, keyed by the
// OriginatorConversationID, which is set to the instruction reference.
type MpesaGateway struct {
	cfg config.PaymentConfig
	log *zap.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

// NewMpesaGateway creates a new M-Pesa gateway
func NewMpesaGateway(cfg config.PaymentConfig, log *zap.Logger) (*MpesaGateway, error) {
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" || cfg.ShortCode == "" {
		return nil, errors.New("mpesa: consumer key, secret and shortcode are required")
	}
	if cfg.ResultURL == "" {
		return nil, errors.New("mpesa: MPESA_RESULT_URL is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MpesaGateway{cfg: cfg, log: log.Named("mpesa"), now: time.Now}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type b2cRequest struct {
	OriginatorConversationID string `json:"OriginatorConversationID"`
	InitiatorName            string `json:"InitiatorName"`
	SecurityCredential       string `json:"SecurityCredential"`
	CommandID                string `json:"CommandID"`
	Amount                   string `json:"Amount"`
	PartyA                   string `json:"PartyA"`
	PartyB                   string `json:"PartyB"`
	Remarks                  string `json:"Remarks"`
	QueueTimeOutURL          string `json:"QueueTimeOutURL"`
	ResultURL                string `json:"ResultURL"`
	Occasion                 string `json:"Occasion"`
}

type b2cResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
	ErrorCode                string `json:"errorCode"`
	ErrorMessage             string `json:"errorMessage"`
}

func (g *MpesaGateway) url(path string) string {
	return strings.TrimRight(g.cfg.BaseURL, "/") + path
}

func joinErrs(errs []error) error {
	return fmt.Errorf("mpesa: %w", errors.Join(errs...))
}

// accessToken returns a cached OAuth token, fetching a new one when it is
// within a minute of expiry.
func (g *MpesaGateway) accessToken() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.token != "" && g.now().Before(g.tokenExpiry) {
		return g.token, nil
	}

	var out tokenResponse
	code, body, errs := fiber.Get(g.url("/oauth/v1/generate?grant_type=client_credentials")).
		BasicAuth(g.cfg.ConsumerKey, g.cfg.ConsumerSecret).
		Timeout(g.cfg.Timeout).
		Struct(&out)
	if len(errs) > 0 {
		return "", joinErrs(errs)
	}
	if code != fiber.StatusOK || out.AccessToken == "" {
		return "", fmt.Errorf("mpesa: token request failed (%d): %s", code, string(body))
	}

	ttl := time.Hour
	if secs, err := strconv.Atoi(out.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	g.token = out.AccessToken
	g.tokenExpiry = g.now().Add(ttl - time.Minute)
	return g.token, nil
}

// InitiatePayment submits a B2C payment. An accepted request is PENDING until
// the result callback arrives. Transport errors are returned for retry.
func (g *MpesaGateway) InitiatePayment(ctx context.Context, req services.PaymentRequest) (*services.PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.Amount.Equal(req.Amount.Truncate(0)) {
		return &services.PaymentResult{
			Reference: req.Reference,
			Status:    domain.PaymentFailed,
			Message:   "M-Pesa accepts whole amounts only",
		}, nil
	}
	phone, err := MSISDN(req.Phone)
	if err != nil {
		return &services.PaymentResult{Reference: req.Reference, Status: domain.PaymentFailed, Message: err.Error()}, nil
	}

	token, err := g.accessToken()
	if err != nil {
		return nil, err
	}

	payload := b2cRequest{
		OriginatorConversationID: req.Reference,
		InitiatorName:            g.cfg.InitiatorName,
		SecurityCredential:       g.cfg.Credential,
		CommandID:                "BusinessPayment",
		Amount:                   req.Amount.StringFixed(0),
		PartyA:                   g.cfg.ShortCode,
		PartyB:                   phone,
		Remarks:                  req.Purpose,
		QueueTimeOutURL:          g.timeoutURL(),
		ResultURL:                g.cfg.ResultURL,
		Occasion:                 req.Reference,
	}

	var out b2cResponse
	code, body, errs := fiber.Post(g.url("/mpesa/b2c/v3/paymentrequest")).
		Set(fiber.HeaderAuthorization, "Bearer "+token).
		JSON(payload).
		Timeout(g.cfg.Timeout).
		Struct(&out)
	if len(errs) > 0 {
		return nil, joinErrs(errs)
	}

	switch {
	case code == fiber.StatusOK && out.ResponseCode == "0":
		g.log.Info("b2c accepted",
			zap.String("reference", req.Reference),
			zap.String("conversation_id", out.ConversationID),
		)
		return &services.PaymentResult{Reference: req.Reference, Status: domain.PaymentPending, Message: out.ResponseDescription}, nil
	case code == fiber.StatusUnauthorized:
		g.mu.Lock()
		g.token = ""
		g.mu.Unlock()
		return nil, fmt.Errorf("mpesa: token rejected: %s", string(body))
	case code >= 500 || code == fiber.StatusTooManyRequests:
		return nil, fmt.Errorf("mpesa: gateway unavailable (%d): %s", code, string(body))
	default:
		msg := out.ErrorMessage
		if msg == "" {
			msg = out.ResponseDescription
		}
		if msg == "" {
			msg = string(body)
		}
		return &services.PaymentResult{Reference: req.Reference, Status: domain.PaymentFailed, Message: msg}, nil
	}
}

func (g *MpesaGateway) timeoutURL() string {
	if g.cfg.TimeoutURL != "" {
		return g.cfg.TimeoutURL
	}
	return g.cfg.ResultURL
}

// ResultCallback is the body M-Pesa posts to the result URL.
type ResultCallback struct {
	Result struct {
		ResultType               int    `json:"ResultType"`
		ResultCode               int    `json:"ResultCode"`
		ResultDesc               string `json:"ResultDesc"`
		OriginatorConversationID string `json:"OriginatorConversationID"`
		ConversationID           string `json:"ConversationID"`
		TransactionID            string `json:"TransactionID"`
	} `json:"Result"`
}

// ParseResult converts an M-Pesa result callback into a PaymentResult.
func ParseResult(body []byte) (*services.PaymentResult, error) {
	var cb ResultCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("%w: malformed M-Pesa result: %v", domain.ErrValidation, err)
	}
	if cb.Result.OriginatorConversationID == "" {
		return nil, domain.Validationf("M-Pesa result has no OriginatorConversationID")
	}
	res := &services.PaymentResult{
		Reference: cb.Result.OriginatorConversationID,
		Status:    domain.PaymentConfirmed,
		Message:   cb.Result.TransactionID,
	}
	if cb.Result.ResultCode != 0 {
		res.Status = domain.PaymentFailed
		res.Message = cb.Result.ResultDesc
	}
	return res, nil
}

// MSISDN normalises a Kenyan phone number to the 2547XXXXXXXX form.
func MSISDN(phone string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "", "+", "").Replace(strings.TrimSpace(phone))
	switch {
	case strings.HasPrefix(p, "254") && len(p) == 12:
	case strings.HasPrefix(p, "0") && len(p) == 10:
		p = "254" + p[1:]
	case len(p) == 9 && (p[0] == '7' || p[0] == '1'):
		p = "254" + p
	default:
		return "", fmt.Errorf("invalid phone number %q", phone)
	}
	if _, err := strconv.ParseUint(p, 10, 64); err != nil {
		return "", fmt.Errorf("invalid phone number %q", phone)
	}
	return p, nil
}

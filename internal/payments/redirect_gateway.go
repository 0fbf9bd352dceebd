package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const redirectTokenIssuer = "clinic-commerce/redirect"

// Query parameters exchanged with the bank redirect gateway.
const (
	RedirectParamOrderID   = "orderId"
	RedirectParamAmount    = "amount"
	RedirectParamToken     = "token"
	RedirectParamReturnURL = "returnUrl"
	RedirectParamCode      = "code"
	RedirectParamTxnRef    = "txnRef"
	RedirectParamSignature = "signature"
)

// Signature scopes. A request signature never verifies as a return signature.
const (
	RedirectScopeRequest = "request"
	RedirectScopeReturn  = "return"
)

// RedirectGatewayConfig configures the bank redirect adapter. SigningKey is the secret shared
// with the bank: it signs outgoing requests and authenticates the bank's return parameters.
type RedirectGatewayConfig struct {
	BaseURL    string
	SigningKey []byte
	// TokenTTL bounds how long a return token is honoured. Zero keeps tokens valid indefinitely.
	TokenTTL time.Duration
	Clock    func() time.Time
}

// RedirectReturn is the authenticated result the bank reported for an order.
type RedirectReturn struct {
	OrderID        string
	Amount         int64
	Code           string
	TransactionRef string
}

type redirectClaims struct {
	OrderID string `json:"oid"`
	Amount  int64  `json:"amt"`
	jwt.RegisteredClaims
}

// RedirectGateway builds signed bank redirect URLs and authenticates the parameters the bank
// sends back on return.
type RedirectGateway struct {
	base  *url.URL
	key   []byte
	ttl   time.Duration
	clock func() time.Time
}

// NewRedirectGateway validates cfg and returns a gateway.
func NewRedirectGateway(cfg RedirectGatewayConfig) (*RedirectGateway, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("redirect gateway: base url is required")
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("redirect gateway: invalid base url %q", raw)
	}
	if len(cfg.SigningKey) < 16 {
		return nil, errors.New("redirect gateway: signing key must be at least 16 bytes")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &RedirectGateway{
		base: base,
		key:  append([]byte(nil), cfg.SigningKey...),
		ttl:  cfg.TokenTTL,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// RedirectSignature computes the hex HMAC-SHA256 the bank and the shop exchange over params.
// Keys are sorted and the signature parameter itself is excluded.
func RedirectSignature(key []byte, scope string, params url.Values) string {
	signed := make(url.Values, len(params))
	for k, v := range params {
		if k == RedirectParamSignature {
			continue
		}
		signed[k] = v
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(scope))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(signed.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

// BuildRedirectURL encodes the order id and amount into a signed gateway URL. The token binds
// the order and amount; the bank echoes it back to returnURL.
func (g *RedirectGateway) BuildRedirectURL(_ context.Context, orderID string, amount int64, returnURL string) (string, error) {
	if g == nil {
		return "", errors.New("redirect gateway: not configured")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return "", errors.New("redirect gateway: order id is required")
	}
	if amount < 0 {
		return "", errors.New("redirect gateway: amount must be non-negative")
	}

	now := g.clock()
	claims := redirectClaims{
		OrderID: orderID,
		Amount:  amount,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   redirectTokenIssuer,
			Subject:  orderID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if g.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(g.ttl))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.key)
	if err != nil {
		return "", fmt.Errorf("redirect gateway: sign token: %w", err)
	}

	target := *g.base
	query := target.Query()
	query.Set(RedirectParamOrderID, orderID)
	query.Set(RedirectParamAmount, strconv.FormatInt(amount, 10))
	query.Set(RedirectParamToken, token)
	if returnURL = strings.TrimSpace(returnURL); returnURL != "" {
		query.Set(RedirectParamReturnURL, returnURL)
	}
	query.Set(RedirectParamSignature, RedirectSignature(g.key, RedirectScopeRequest, query))
	target.RawQuery = query.Encode()
	return target.String(), nil
}

// VerifyReturn authenticates the bank's return parameters. The bank signature must cover the
// result code, and the echoed token must match the order id and amount being reported.
func (g *RedirectGateway) VerifyReturn(_ context.Context, params url.Values) (RedirectReturn, error) {
	if g == nil {
		return RedirectReturn{}, errors.New("redirect gateway: not configured")
	}
	for k, v := range params {
		if len(v) != 1 {
			return RedirectReturn{}, fmt.Errorf("%w: parameter %q must appear once", ErrInvalidSignature, k)
		}
	}
	signature := strings.ToLower(strings.TrimSpace(params.Get(RedirectParamSignature)))
	if signature == "" {
		return RedirectReturn{}, fmt.Errorf("%w: bank signature is required", ErrInvalidSignature)
	}
	expected := RedirectSignature(g.key, RedirectScopeReturn, params)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return RedirectReturn{}, fmt.Errorf("%w: bank signature mismatch", ErrInvalidSignature)
	}
	code := strings.ToLower(strings.TrimSpace(params.Get(RedirectParamCode)))
	if code == "" {
		return RedirectReturn{}, fmt.Errorf("%w: result code is required", ErrInvalidSignature)
	}

	claims, err := g.parseToken(params.Get(RedirectParamToken))
	if err != nil {
		return RedirectReturn{}, err
	}
	if strings.TrimSpace(params.Get(RedirectParamOrderID)) != claims.OrderID {
		return RedirectReturn{}, fmt.Errorf("%w: order id does not match token", ErrInvalidSignature)
	}
	amount, err := strconv.ParseInt(strings.TrimSpace(params.Get(RedirectParamAmount)), 10, 64)
	if err != nil || amount != claims.Amount {
		return RedirectReturn{}, fmt.Errorf("%w: amount does not match token", ErrInvalidSignature)
	}
	return RedirectReturn{
		OrderID:        claims.OrderID,
		Amount:         claims.Amount,
		Code:           code,
		TransactionRef: strings.TrimSpace(params.Get(RedirectParamTxnRef)),
	}, nil
}

func (g *RedirectGateway) parseToken(token string) (redirectClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return redirectClaims{}, fmt.Errorf("%w: token is required", ErrInvalidSignature)
	}
	var claims redirectClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return g.key, nil
	})
	if err != nil || !parsed.Valid {
		return redirectClaims{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if claims.Issuer != redirectTokenIssuer || claims.OrderID == "" || claims.Subject != claims.OrderID {
		return redirectClaims{}, fmt.Errorf("%w: unexpected claims", ErrInvalidSignature)
	}
	return claims, nil
}

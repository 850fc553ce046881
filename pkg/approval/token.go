package approval

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/polisai/policyos/pkg/domain"
)

// MinTokenTTL is the floor applied to requested token lifetimes.
const MinTokenTTL = 30 * time.Second

// Claims is the signed payload of an approval token.
type Claims struct {
	MerchantID    string   `json:"merchant_id"`
	DraftID       string   `json:"draft_id"`
	ApproverID    string   `json:"approver_id"`
	ApprovalLevel string   `json:"approval_level"`
	Scopes        []string `json:"scopes"`
	IssuedAt      int64    `json:"issued_at"`
	ExpiresAt     int64    `json:"expires_at"`
}

// HasScope reports whether the claims grant the named scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// IssueRequest describes the token to mint.
type IssueRequest struct {
	MerchantID    string
	DraftID       string
	ApproverID    string
	ApprovalLevel string
	Scopes        []string
	TTL           time.Duration
}

// VerifyOptions narrow what a token must prove. Empty fields are not checked.
type VerifyOptions struct {
	ExpectedMerchantID string
	ExpectedDraftID    string
	ExpectedScope      string
}

// Service signs and verifies approval tokens. It owns no storage; tokens are
// self-contained.
type Service struct {
	secret []byte
	clock  domain.Clock
}

// NewService creates a token service from a signing secret and a clock.
func NewService(secret []byte, clock domain.Clock) *Service {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Service{secret: append([]byte(nil), secret...), clock: clock}
}

// IssueToken mints a compact signed token for the request. TTLs below the
// 30 second floor are raised to it.
func (s *Service) IssueToken(req IssueRequest) (string, *Claims, error) {
	ttl := req.TTL
	if ttl < MinTokenTTL {
		ttl = MinTokenTTL
	}
	now := s.clock.Now()
	claims := &Claims{
		MerchantID:    req.MerchantID,
		DraftID:       req.DraftID,
		ApproverID:    req.ApproverID,
		ApprovalLevel: req.ApprovalLevel,
		Scopes:        append([]string(nil), req.Scopes...),
		IssuedAt:      now.Unix(),
		ExpiresAt:     now.Add(ttl).Unix(),
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", nil, fmt.Errorf("encode token claims: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString(s.sign(payload))
	return token, claims, nil
}

// VerifyToken checks a bearer token's shape, expiry, signature, and scope
// bindings. Expiry is checked before the signature so an expired token
// reports APPROVAL_TOKEN_EXPIRED regardless of signature validity.
func (s *Service) VerifyToken(token string, opts VerifyOptions) (*Claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, domain.ErrTokenRequired
	}

	payloadPart, sigPart, ok := strings.Cut(token, ".")
	if !ok {
		return nil, fmt.Errorf("token is not a signed pair: %w", domain.ErrTokenInvalid)
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return nil, fmt.Errorf("decode token payload: %w", domain.ErrTokenInvalid)
	}
	signature, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return nil, fmt.Errorf("decode token signature: %w", domain.ErrTokenInvalid)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("decode token claims: %w", domain.ErrTokenInvalid)
	}

	if s.clock.Now().Unix() >= claims.ExpiresAt {
		return nil, domain.ErrTokenExpired
	}

	if !hmac.Equal(signature, s.sign(payload)) {
		return nil, fmt.Errorf("signature mismatch: %w", domain.ErrTokenInvalid)
	}

	if opts.ExpectedMerchantID != "" && claims.MerchantID != opts.ExpectedMerchantID {
		return nil, domain.ErrTokenMismatch
	}
	if opts.ExpectedDraftID != "" && claims.DraftID != opts.ExpectedDraftID {
		return nil, domain.ErrTokenMismatch
	}
	if opts.ExpectedScope != "" && !claims.HasScope(opts.ExpectedScope) {
		return nil, domain.ErrTokenScopeDenied
	}
	return &claims, nil
}

func (s *Service) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

// Package token signs and verifies the service's HS256 tokens: order
// capability tokens carried in pickup QR codes, and session tokens minted by
// the external auth service.
package token

import (
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"

	"campus-fulfillment-service/internal/apperr"
)

type Role string

const (
	RoleVendor Role = "vendor"
	RoleUser   Role = "user"
)

// CapabilityClaims authorize completing one order by scan. They do not carry the
// order state; scanners must re-read it.
type CapabilityClaims struct {
	OrderID  string `json:"orderId"`
	UserID   string `json:"userId"`
	VendorID string `json:"vendorId"`
	jwt.StandardClaims
}

func (c CapabilityClaims) IssuedAt() time.Time { return time.Unix(c.StandardClaims.IssuedAt, 0) }

type SessionClaims struct {
	Role Role `json:"role"`
	jwt.StandardClaims
}

type Issuer struct {
	secret        []byte
	capabilityTTL time.Duration
	now           func() time.Time
}

func NewIssuer(secret string, capabilityTTL time.Duration, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{secret: []byte(secret), capabilityTTL: capabilityTTL, now: now}
}

func (i *Issuer) IssueCapability(orderID, userID, vendorID string) (string, error) {
	now := i.now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &CapabilityClaims{
		OrderID:  orderID,
		UserID:   userID,
		VendorID: vendorID,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(i.capabilityTTL).Unix(),
			Subject:   orderID,
		},
	})
	return t.SignedString(i.secret)
}

func (i *Issuer) VerifyCapability(raw string) (*CapabilityClaims, error) {
	claims := &CapabilityClaims{}
	if err := i.parse(raw, claims); err != nil {
		return nil, err
	}
	if claims.OrderID == "" || claims.VendorID == "" {
		return nil, fmt.Errorf("capability token missing identifiers: %w", apperr.ErrInvalidToken)
	}
	return claims, nil
}

func (i *Issuer) IssueSession(subject string, role Role, ttl time.Duration) (string, error) {
	now := i.now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &SessionClaims{
		Role: role,
		StandardClaims: jwt.StandardClaims{
			Subject:   subject,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	})
	return t.SignedString(i.secret)
}

func (i *Issuer) VerifySession(raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := i.parse(raw, claims); err != nil {
		return nil, err
	}
	if claims.Subject == "" || (claims.Role != RoleVendor && claims.Role != RoleUser) {
		return nil, fmt.Errorf("session token missing subject or role: %w", apperr.ErrInvalidToken)
	}
	return claims, nil
}

type timedClaims interface {
	jwt.Claims
	verify(now int64) bool
}

func (c *CapabilityClaims) verify(now int64) bool { return c.StandardClaims.VerifyExpiresAt(now, true) }
func (c *SessionClaims) verify(now int64) bool    { return c.StandardClaims.VerifyExpiresAt(now, true) }

// parse checks the signature with jwt-go and expiry against the injected clock.
func (i *Issuer) parse(raw string, claims timedClaims) error {
	parser := &jwt.Parser{SkipClaimsValidation: true}
	t, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || !t.Valid {
		return fmt.Errorf("%v: %w", err, apperr.ErrInvalidToken)
	}
	if !claims.verify(i.now().Unix()) {
		return fmt.Errorf("token expired: %w", apperr.ErrInvalidToken)
	}
	return nil
}

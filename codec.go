package sessionx

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// DefaultSkew is the margin subtracted from a token's expiry before it is
// considered usable. A request is never sent with a token that would expire
// while in flight.
const DefaultSkew = 5 * time.Minute

// roleClaimKeys lists the legacy role claim names in precedence order.
var roleClaimKeys = []string{"role", "user_type", "user_role", "type"}

// Decode extracts the claims of a compact JWT without verifying its
// signature. Signature checks belong to the identity API; this package only
// reads the payload to drive session control flow.
func Decode(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, newError(ErrCodeInvalidToken, errors.New("token is empty"))
	}
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return nil, newError(ErrCodeInvalidToken, fmt.Errorf("expected 3 segments, got %d", len(segments)))
	}
	if segments[0] == "" || segments[1] == "" {
		return nil, newError(ErrCodeInvalidToken, errors.New("empty header or payload segment"))
	}

	parsed, err := parseUnverified(token)
	if err != nil {
		return nil, newError(ErrCodeInvalidToken, err)
	}
	return extractClaims(parsed), nil
}

// parseUnverified guards the jwx parser so malformed input can never escape
// the codec as a panic.
func parseUnverified(token string) (parsed jwt.Token, err error) {
	defer func() {
		if r := recover(); r != nil {
			parsed, err = nil, fmt.Errorf("parse token: %v", r)
		}
	}()
	return jwt.ParseString(token, jwt.WithVerify(false), jwt.WithValidate(false))
}

// IsExpired reports whether token is expired or expires within skew.
// Undecodable tokens and tokens without an exp claim are treated as expired.
func IsExpired(token string, skew time.Duration) bool {
	return isExpiredAt(token, skew, time.Now())
}

func isExpiredAt(token string, skew time.Duration, now time.Time) bool {
	exp, ok := ExpiresAt(token)
	if !ok {
		return true
	}
	return !now.Before(exp.Add(-skew))
}

// ExpiresAt returns the exp claim of token.
func ExpiresAt(token string) (time.Time, bool) {
	claims, err := Decode(token)
	if err != nil || claims.ExpiresAt.IsZero() {
		return time.Time{}, false
	}
	return claims.ExpiresAt, true
}

func extractClaims(token jwt.Token) *Claims {
	private := token.PrivateClaims()
	claims := &Claims{
		Subject:   token.Subject(),
		ExpiresAt: token.Expiration(),
		IssuedAt:  token.IssuedAt(),
		NotBefore: token.NotBefore(),
		JWTID:     token.JwtID(),
	}

	if v, ok := private["user_id"]; ok {
		if id := stringify(v); id != "" {
			claims.Subject = id
		}
	}
	if v, ok := token.Get("email"); ok {
		if s, ok := v.(string); ok {
			claims.Email = strings.ToLower(s)
		}
	}
	claims.Role = firstNonEmpty(private, roleClaimKeys...)
	claims.Name = firstNonEmpty(private, "name")
	claims.Picture = firstNonEmpty(private, "picture")
	claims.Domain = firstNonEmpty(private, "domain")
	if v, ok := private["is_active"]; ok {
		claims.IsActive = truthy(v)
	}

	if len(private) > 0 {
		claims.CustomClaims = make(map[string]any, len(private))
		for k, v := range private {
			claims.CustomClaims[k] = v
		}
	}
	return claims
}

func firstNonEmpty(values map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := values[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

func truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		return err == nil && b
	case float64:
		return v != 0
	default:
		return false
	}
}

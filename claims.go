package sessionx

import "time"

// Claims represents the normalized payload of a PrintEasy access token.
type Claims struct {
	Subject   string
	Email     string
	Role      string
	ExpiresAt time.Time
	IssuedAt  time.Time
	NotBefore time.Time
	JWTID     string

	IsActive bool
	Name     string
	Picture  string
	Domain   string

	CustomClaims map[string]any
}

// Identity is the externally observable current user.
type Identity struct {
	ID       string
	Email    string
	Role     string
	IsActive bool
	Name     string
	Picture  string
	Domain   string
	Claims   *Claims
}

// TokenPair is the access/refresh pair issued by the identity API. It is
// always stored and replaced as a unit.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// IdentityFromClaims derives the session identity from decoded claims.
func IdentityFromClaims(c *Claims) *Identity {
	if c == nil {
		return nil
	}
	return &Identity{
		ID:       c.Subject,
		Email:    c.Email,
		Role:     c.Role,
		IsActive: c.IsActive,
		Name:     c.Name,
		Picture:  c.Picture,
		Domain:   c.Domain,
		Claims:   c,
	}
}

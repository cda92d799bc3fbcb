package sessionx

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenSource exposes the session as an oauth2.TokenSource, refreshing
// through the gateway once the stored token enters the skew window. It is
// meant for callers that use oauth2.NewClient and do not need the 401
// replay of Transport. The result is not cached: a logout is seen on the
// next call.
func (g *Gateway) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &sessionTokenSource{ctx: context.WithoutCancel(ctx), gateway: g}
}

type sessionTokenSource struct {
	ctx     context.Context
	gateway *Gateway
}

func (s *sessionTokenSource) Token() (*oauth2.Token, error) {
	g := s.gateway
	pair := g.Tokens()
	if pair.AccessToken == "" || isExpiredAt(pair.AccessToken, g.cfg.Skew, g.clock.Now()) {
		refreshed, err := g.RefreshToken(s.ctx)
		if err != nil {
			return nil, err
		}
		pair = refreshed
	}
	return g.oauthToken(pair), nil
}

func (g *Gateway) oauthToken(pair TokenPair) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
	}
	if exp, ok := ExpiresAt(pair.AccessToken); ok {
		tok.Expiry = exp.Add(-g.cfg.Skew)
	}
	return tok
}

package sessionx

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// excludedPaths are never given a bearer token and never trigger a refresh.
var excludedPaths = []string{"/login", "/register", "/refresh", "/auth/"}

// Transport attaches the session's access token to outgoing API requests and
// recovers from 401 responses by refreshing once and replaying the request.
type Transport struct {
	// Base is the underlying transport; http.DefaultTransport when nil.
	Base http.RoundTripper

	gateway *Gateway
}

// Transport returns a round tripper bound to the gateway's session.
func (g *Gateway) Transport(base http.RoundTripper) *Transport {
	return &Transport{Base: base, gateway: g}
}

// Client returns an HTTP client whose requests go through the session
// Transport. Every API call of the application should use it.
func (g *Gateway) Client() *http.Client {
	return &http.Client{Transport: g.Transport(nil)}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if isExcluded(req.URL.Path) {
		return t.base().RoundTrip(req)
	}

	out, err := replayable(req)
	if err != nil {
		return nil, err
	}
	sentWith := t.gateway.Tokens().AccessToken
	setBearer(out, sentWith)

	resp, err := t.base().RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || isReplayed(req.Context()) {
		return resp, err
	}

	current := t.gateway.Tokens()
	if current.RefreshToken == "" {
		return resp, nil
	}
	drain(resp)

	token := current.AccessToken
	if token == "" || token == sentWith {
		// a failed refresh has already ended the session under the epoch
		// check; a session_ended result belongs to a session that is gone
		pair, err := t.gateway.RefreshToken(req.Context())
		if err != nil {
			t.gateway.metrics.replay(err)
			return nil, err
		}
		token = pair.AccessToken
	} else {
		t.gateway.log.Debug("token rotated while request was in flight, replaying", slog.String("path", req.URL.Path))
	}

	return t.replay(out, token)
}

func (t *Transport) replay(sent *http.Request, token string) (*http.Response, error) {
	retry := sent.Clone(markReplayed(sent.Context()))
	if sent.GetBody != nil {
		body, err := sent.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	setBearer(retry, token)

	resp, err := t.base().RoundTrip(retry)
	t.gateway.metrics.replay(err)
	return resp, err
}

func isExcluded(path string) bool {
	for _, p := range excludedPaths {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

// replayable clones req so it can be sent twice. A body without GetBody is
// buffered up front.
func replayable(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return out, nil
	}
	raw, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	out.Body = io.NopCloser(bytes.NewReader(raw))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	out.ContentLength = int64(len(raw))
	return out, nil
}

func setBearer(req *http.Request, token string) {
	if token == "" {
		return
	}
	(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}

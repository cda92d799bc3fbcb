package sessionx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName   = "github.com/Ngouala34/printeasy-sessionx"
	maxErrorBody = 4 << 10
)

// authResponse accepts the API's access/refresh field names as well as the
// snake_case and camelCase token names.
type authResponse struct {
	Access       string       `json:"access"`
	Refresh      string       `json:"refresh"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	AccessCamel  string       `json:"accessToken"`
	RefreshCamel string       `json:"refreshToken"`
	User         *userPayload `json:"user,omitempty"`
}

type userPayload struct {
	ID       any    `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	UserType string `json:"user_type"`
}

type registerResponse struct {
	userPayload
	User *userPayload `json:"user,omitempty"`
}

func (r authResponse) pair() (TokenPair, error) {
	pair := TokenPair{
		AccessToken:  firstSet(r.Access, r.AccessToken, r.AccessCamel),
		RefreshToken: firstSet(r.Refresh, r.RefreshToken, r.RefreshCamel),
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return TokenPair{}, newError(ErrCodeServer, errors.New("incomplete token response"))
	}
	return pair, nil
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (u *userPayload) registered() *RegisteredUser {
	return &RegisteredUser{
		ID:       stringify(u.ID),
		Name:     u.Name,
		Email:    strings.ToLower(u.Email),
		UserType: u.UserType,
	}
}

// remoteClient talks to the identity API. Requests made here never pass
// through the session Transport.
type remoteClient struct {
	cfg    Config
	http   *http.Client
	tracer trace.Tracer
}

func newRemoteClient(cfg Config, hc *http.Client) *remoteClient {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &remoteClient{cfg: cfg, http: hc, tracer: otel.Tracer(tracerName)}
}

func (c *remoteClient) login(ctx context.Context, creds Credentials) (TokenPair, error) {
	var resp authResponse
	if err := c.post(ctx, "login", c.cfg.LoginPath, creds, &resp); err != nil {
		return TokenPair{}, err
	}
	return resp.pair()
}

func (c *remoteClient) refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	var resp authResponse
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.post(ctx, "refresh", c.cfg.RefreshPath, body, &resp); err != nil {
		return TokenPair{}, err
	}
	return resp.pair()
}

func (c *remoteClient) register(ctx context.Context, reg Registration) (*RegisteredUser, error) {
	var resp registerResponse
	if err := c.post(ctx, "register", c.cfg.RegisterPath, reg, &resp); err != nil {
		return nil, err
	}
	if resp.User != nil {
		return resp.User.registered(), nil
	}
	user := resp.userPayload.registered()
	if user.Email == "" {
		user.Email = reg.Email
	}
	return user, nil
}

func (c *remoteClient) post(ctx context.Context, op, path string, in, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "sessionx."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(CodeOf(err)))
		}
		span.End()
	}()

	endpoint, err := c.cfg.endpoint(path)
	if err != nil {
		return newError(ErrCodeInternal, fmt.Errorf("resolve %s endpoint: %w", op, err))
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return newError(ErrCodeInternal, err)
	}

	if c.cfg.HTTPTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.HTTPTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return newError(ErrCodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return newError(ErrCodeNetwork, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode/100 != 2 {
		return classifyStatus(resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()), readDetail(resp))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newError(ErrCodeServer, fmt.Errorf("decode %s response: %w", op, err))
	}
	return nil
}

// readDetail extracts the server's explanation from an error response.
func readDetail(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body map[string]any
	if json.Unmarshal(raw, &body) == nil {
		for _, key := range []string{"detail", "message", "error"} {
			if s, ok := body[key].(string); ok && s != "" {
				return fmt.Errorf("%s: %s", resp.Status, s)
			}
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return fmt.Errorf("%s: %s", resp.Status, text)
	}
	return errors.New(resp.Status)
}

// parseRetryAfter understands both delay-seconds and HTTP-date forms.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// Package api is the client for the MediFlow REST API. Every response
// travels in a common envelope; failures are classified into the
// typed errors in errors.go so callers can tell an application
// rejection from a transport fault or a dead session.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/juju/ratelimit"
	"github.com/rs/zerolog"

	"github.com/mediflow/mediflow/internal/pharmacy"
	"github.com/mediflow/mediflow/internal/rx"
)

const defaultTimeout = 30 * time.Second

// TokenSource supplies the bearer credential attached to outgoing
// requests. An empty token means the request goes out unauthenticated.
type TokenSource interface {
	Token() string
}

type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	bucket  *ratelimit.Bucket
	logger  zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithRateLimit caps outgoing requests at rps with the given burst
// capacity, so rapid UI interactions cannot flood the collaborator.
func WithRateLimit(rps float64, burst int64) Option {
	return func(c *Client) { c.bucket = ratelimit.NewBucketWithRate(rps, burst) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the common response shape of the MediFlow API.
type envelope struct {
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Success    bool            `json:"success"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	op := method + " " + path

	if c.bucket != nil {
		c.bucket.Wait(1)
	}

	var reqBody *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	authed := false
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
			authed = true
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("op", op).Msg("request failed")
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug().Str("op", op).Int("status", resp.StatusCode).Dur("latency", time.Since(start)).Msg("request")

	if resp.StatusCode == http.StatusUnauthorized {
		// A 401 on a request that carried no credential is an
		// application answer (bad login), not a dead session; surface
		// the server's message when the envelope has one.
		if !authed {
			var env envelope
			if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && !env.Success && env.Message != "" {
				return &Error{StatusCode: http.StatusUnauthorized, Message: env.Message}
			}
		}
		return ErrUnauthorized
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return &TransportError{Op: op, Err: fmt.Errorf("server returned %s", resp.Status)}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if !env.Success {
		status := env.StatusCode
		if status == 0 {
			status = resp.StatusCode
		}
		return &Error{StatusCode: status, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("decode payload: %w", err)}
		}
	}
	return nil
}

// -- Auth --

// User is the account record attached to an authenticated session.
type User struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Role       string `json:"role"`
	IsVerified bool   `json:"isVerified"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

type LoginResult struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

func (c *Client) Login(ctx context.Context, emailOrPhone, password string) (*LoginResult, error) {
	body := map[string]string{"emailOrPhone": emailOrPhone, "password": password}
	var out LoginResult
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type RegisterRequest struct {
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Password    string `json:"password"`
	Role        string `json:"role"`
	FullName    string `json:"fullName"`
	DateOfBirth string `json:"dateOfBirth"`
	Sex         string `json:"sex"`
	NID         string `json:"nid"`
}

func (c *Client) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	var out User
	if err := c.do(ctx, http.MethodPost, "/auth/signup", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, nil)
}

func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", nil, nil, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// -- Directory search --

func (c *Client) SearchPatients(ctx context.Context, query string, limit int) ([]rx.Patient, error) {
	q := url.Values{"q": {query}, "limit": {strconv.Itoa(limit)}}
	var out []rx.Patient
	if err := c.do(ctx, http.MethodGet, "/patients/search", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SearchMedicines(ctx context.Context, query string, limit int) ([]rx.Medicine, error) {
	q := url.Values{"q": {query}, "limit": {strconv.Itoa(limit)}}
	var out []rx.Medicine
	if err := c.do(ctx, http.MethodGet, "/medicines/search", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// -- Prescriptions --

// CreatePrescription implements rx.PrescriptionCreator.
func (c *Client) CreatePrescription(ctx context.Context, req *rx.CreatePrescriptionRequest) (*rx.Prescription, error) {
	var out rx.Prescription
	if err := c.do(ctx, http.MethodPost, "/prescriptions", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPrescription(ctx context.Context, id string) (*rx.Prescription, error) {
	var out rx.Prescription
	if err := c.do(ctx, http.MethodGet, "/prescriptions/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListPrescriptions(ctx context.Context, patientID string, limit, offset int) ([]rx.Prescription, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}, "offset": {strconv.Itoa(offset)}}
	if patientID != "" {
		q.Set("patientId", patientID)
	}
	var out []rx.Prescription
	if err := c.do(ctx, http.MethodGet, "/prescriptions", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// -- Pharmacies --

func (c *Client) ListPharmacies(ctx context.Context) ([]pharmacy.Pharmacy, error) {
	var out []pharmacy.Pharmacy
	if err := c.do(ctx, http.MethodGet, "/pharmacies", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

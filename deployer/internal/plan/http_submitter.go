package plan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/golang-jwt/jwt/v5"
)

type HTTPSubmitterConfig struct {
	Endpoint     string
	TokenSecret  string
	Issuer       string
	Timeout      time.Duration
	MaxAttempts  int
	InitialDelay time.Duration
	HTTPClient   *http.Client
}

// HTTPSubmitter PUTs the desired state to a reconciler API at
// <endpoint>/v1/stacks/<name>, authenticated with a short-lived HS256 token.
// Server errors and transport failures are retried; a 4xx is final.
type HTTPSubmitter struct {
	endpoint string
	secret   []byte
	issuer   string
	timeout  time.Duration
	client   *http.Client
	retrier  retry.Retry[*Result]
}

func NewHTTPSubmitter(cfg HTTPSubmitterConfig) (*HTTPSubmitter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("reconciler endpoint required")
	}
	if cfg.TokenSecret == "" {
		return nil, fmt.Errorf("reconciler token secret required")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "deployer"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 250 * time.Millisecond
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPSubmitter{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		secret:   []byte(cfg.TokenSecret),
		issuer:   cfg.Issuer,
		timeout:  cfg.Timeout,
		client:   client,
		retrier: retry.New[*Result](retry.Config{
			MaxAttempts:        cfg.MaxAttempts,
			InitialDelay:       cfg.InitialDelay,
			BackoffPolicy:      retry.BackoffExponential,
			Multiplier:         2.0,
			NonRetryableErrors: []error{ErrRejected},
		}),
	}, nil
}

func (s *HTTPSubmitter) Submit(ctx context.Context, ds *DesiredState) (*Result, error) {
	body, err := ds.Document()
	if err != nil {
		return nil, fmt.Errorf("render desired state: %w", err)
	}
	target := s.endpoint + "/v1/stacks/" + url.PathEscape(ds.Name)

	var rejected *RejectedError
	res, err := s.retrier.Do(ctx, func(ctx context.Context) (*Result, error) {
		res, err := s.put(ctx, target, ds.Name, body)
		if errors.As(err, &rejected) {
			return nil, err
		}
		return res, err
	})
	if rejected != nil {
		resourceName := ds.Name
		if len(rejected.Errors) > 0 {
			resourceName = rejected.Errors[0].Resource
		}
		return nil, &ProvisioningError{Resource: resourceName, Err: rejected}
	}
	if err != nil {
		return nil, fmt.Errorf("submit desired state: %w", err)
	}
	if res.Outputs == nil {
		res.Outputs = map[string]string{}
	}
	return res, nil
}

func (s *HTTPSubmitter) put(ctx context.Context, target, name string, body []byte) (*Result, error) {
	token, err := s.token(name)
	if err != nil {
		return nil, err
	}
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPut, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeResult(resp)
}

func (s *HTTPSubmitter) token(subject string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Destroy asks the reconciler to tear the stack down. A stack the reconciler
// does not know is treated as already gone.
func (s *HTTPSubmitter) Destroy(ctx context.Context, name string) error {
	target := s.endpoint + "/v1/stacks/" + url.PathEscape(name)

	var rejected *RejectedError
	_, err := s.retrier.Do(ctx, func(ctx context.Context) (*Result, error) {
		err := s.delete(ctx, target, name)
		if errors.As(err, &rejected) {
			return nil, rejected
		}
		return nil, err
	})
	if rejected != nil {
		return &ProvisioningError{Resource: name, Err: rejected}
	}
	if err != nil {
		return fmt.Errorf("destroy stack: %w", err)
	}
	return nil
}

func (s *HTTPSubmitter) delete(ctx context.Context, target, name string) error {
	token, err := s.token(name)
	if err != nil {
		return err
	}
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodDelete, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return responseError(resp)
}

// responseError maps 5xx to a retryable error and 4xx to a *RejectedError
// carrying the reconciler's per-resource errors.
func responseError(resp *http.Response) error {
	if resp.StatusCode >= 500 {
		return fmt.Errorf("reconciler unavailable: %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		var body struct {
			Errors []ResourceError `json:"errors"`
		}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = json.Unmarshal(b, &body)
		return &RejectedError{StatusCode: resp.StatusCode, Errors: body.Errors}
	}
	return nil
}

func decodeResult(resp *http.Response) (*Result, error) {
	if err := responseError(resp); err != nil {
		return nil, err
	}
	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode reconciler response: %w", err)
	}
	return &res, nil
}

// Package push delivers notifications through the Expo push API.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"golang.org/x/time/rate"

	"safezone/pkg/platform/circuit"
)

const DefaultEndpoint = "https://exp.host/--/api/v2/push/send"

var tokenPattern = regexp.MustCompile(`^Expo(nent)?PushToken\[.+\]$`)

// ValidToken checks the token shape locally. It does not tell whether the
// device is still registered.
func ValidToken(token string) bool {
	return tokenPattern.MatchString(token)
}

// Message is one Expo push message.
type Message struct {
	To        string         `json:"to"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Sound     string         `json:"sound,omitempty"`
	Priority  string         `json:"priority,omitempty"`
	ChannelID string         `json:"channelId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Failure reasons reported in DeliveryError.Reason.
const (
	ReasonInvalidToken  = "invalid_token"
	ReasonCircuitOpen   = "circuit_open"
	ReasonNetwork       = "network"
	ReasonRateLimited   = "rate_limited"
	ReasonServerError   = "server_error"
	ReasonClientError   = "client_error"
	ReasonProviderError = "provider_error"
	ReasonBadResponse   = "bad_response"
)

// DeliveryError classifies a failed send. Retryable failures may succeed on a
// later attempt; the rest never will.
type DeliveryError struct {
	Reason     string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	msg := "push delivery failed: " + e.Reason
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a retryable DeliveryError.
func IsRetryable(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Retryable
}

// ExpoClient sends one message per request. Calls are rate limited and
// guarded by a circuit breaker that counts network and 5xx failures.
type ExpoClient struct {
	endpoint    string
	accessToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	breaker     *circuit.Breaker
	logger      *slog.Logger
}

type Option func(*ExpoClient)

func WithEndpoint(url string) Option {
	return func(c *ExpoClient) {
		if url != "" {
			c.endpoint = url
		}
	}
}

// WithAccessToken enables Expo's enhanced push security.
func WithAccessToken(token string) Option {
	return func(c *ExpoClient) {
		c.accessToken = token
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *ExpoClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *ExpoClient) {
		if perSecond > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *ExpoClient) {
		if b != nil {
			c.breaker = b
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *ExpoClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewExpoClient(opts ...Option) *ExpoClient {
	c := &ExpoClient{
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Inf, 0),
		breaker:    circuit.New("expo-push"),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ticket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type sendResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Send delivers msg and returns the Expo ticket ID. Failures are always
// *DeliveryError.
func (c *ExpoClient) Send(ctx context.Context, msg Message) (string, error) {
	if !ValidToken(msg.To) {
		return "", &DeliveryError{Reason: ReasonInvalidToken}
	}
	if !c.breaker.Allow() {
		return "", &DeliveryError{Reason: ReasonCircuitOpen, Retryable: true}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &DeliveryError{Reason: ReasonRateLimited, Retryable: true, Err: err}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", &DeliveryError{Reason: ReasonClientError, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &DeliveryError{Reason: ReasonClientError, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure()
		return "", &DeliveryError{Reason: ReasonNetwork, Retryable: true, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.recordFailure()
		return "", &DeliveryError{Reason: ReasonNetwork, StatusCode: resp.StatusCode, Retryable: true, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.recordSuccess()
		return "", &DeliveryError{Reason: ReasonRateLimited, StatusCode: resp.StatusCode, Retryable: true}
	case resp.StatusCode >= 500:
		c.recordFailure()
		return "", &DeliveryError{Reason: ReasonServerError, StatusCode: resp.StatusCode, Retryable: true}
	case resp.StatusCode != http.StatusOK:
		c.recordSuccess()
		return "", &DeliveryError{Reason: ReasonClientError, StatusCode: resp.StatusCode, Err: errors.New(string(raw))}
	}
	c.recordSuccess()

	t, err := decodeTicket(raw)
	if err != nil {
		return "", &DeliveryError{Reason: ReasonBadResponse, StatusCode: resp.StatusCode, Err: err}
	}
	if t.Status != "ok" {
		reason := t.Details.Error
		if reason == "" {
			reason = ReasonProviderError
		}
		return "", &DeliveryError{
			Reason:    reason,
			Retryable: reason == "MessageRateExceeded",
			Err:       errors.New(t.Message),
		}
	}
	return t.ID, nil
}

// decodeTicket accepts the single-ticket object as well as a one-element
// array, Expo returns either depending on the request shape.
func decodeTicket(raw []byte) (ticket, error) {
	var resp sendResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ticket{}, fmt.Errorf("decode push response: %w", err)
	}
	if len(resp.Errors) > 0 {
		return ticket{Status: "error", Message: resp.Errors[0].Message}, nil
	}
	data := bytes.TrimSpace(resp.Data)
	if len(data) == 0 {
		return ticket{}, errors.New("push response has no data")
	}

	var t ticket
	if data[0] == '[' {
		var tickets []ticket
		if err := json.Unmarshal(data, &tickets); err != nil {
			return ticket{}, fmt.Errorf("decode push tickets: %w", err)
		}
		if len(tickets) == 0 {
			return ticket{}, errors.New("push response has no tickets")
		}
		t = tickets[0]
	} else if err := json.Unmarshal(data, &t); err != nil {
		return ticket{}, fmt.Errorf("decode push ticket: %w", err)
	}
	return t, nil
}

func (c *ExpoClient) recordFailure() {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.Warn("push circuit breaker opened", "breaker", c.breaker.Name())
	}
}

func (c *ExpoClient) recordSuccess() {
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.Info("push circuit breaker closed", "breaker", c.breaker.Name())
	}
}

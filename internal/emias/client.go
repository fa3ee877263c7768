// Package emias talks to the public appointment API over JSON-RPC.
package emias

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"emias_bot/internal/domain"
	"emias_bot/internal/logging"
)

const (
	// DefaultBaseURL is the production endpoint; the method name is passed as
	// the raw query string.
	DefaultBaseURL = "https://emias.info/api/emc/appointment-eip/v1/"
	defaultTimeout = 15 * time.Second

	// envelopeID is a constant placeholder; responses are not correlated.
	envelopeID = "123"

	MethodReferrals = "getReferralsInfo"
	MethodDoctors   = "getDoctorsInfo"
)

// Call outcomes reported to the Observer.
const (
	OutcomeOK        = "ok"
	OutcomeTransport = "transport_error"
	OutcomeRPC       = "rpc_error"
	OutcomeDecode    = "decode_error"
)

// Observer receives one notification per API call.
type Observer interface {
	ObserveAPICall(method, outcome string, elapsed time.Duration)
}

// Credentials are the personal identifiers every API call carries.
type Credentials struct {
	InsuranceNumber string
	BirthDate       time.Time
}

// CredentialsFor extracts credentials from a record. Records that are not
// eligible yield ErrIncompleteRecord.
func CredentialsFor(record domain.Record) (Credentials, error) {
	if !record.Eligible() {
		return Credentials{}, ErrIncompleteRecord
	}

	return Credentials{
		InsuranceNumber: *record.InsuranceNumber,
		BirthDate:       record.BirthDate.UTC(),
	}, nil
}

type envelope struct {
	ID      string      `json:"id"`
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type referralsParams struct {
	OmsNumber string `json:"omsNumber"`
	BirthDate string `json:"birthDate"`
}

type doctorsParams struct {
	OmsNumber  string `json:"omsNumber"`
	BirthDate  string `json:"birthDate"`
	ReferralID int64  `json:"referralId"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Client wraps the two JSON-RPC methods used by the bot.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *logrus.Entry
	observer   Observer
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithObserver reports call outcomes and latency.
func WithObserver(observer Observer) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// NewClient constructs an API client. An empty baseURL selects the production
// endpoint and a non-positive timeout falls back to 15s.
func NewClient(baseURL string, timeout time.Duration, logger *logrus.Entry, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Logger()
	}

	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSpace(baseURL),
		logger:     logger,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client
}

// FetchReferrals lists the active referrals for the credentials holder.
func (c *Client) FetchReferrals(ctx context.Context, creds Credentials) ([]Referral, error) {
	params := referralsParams{
		OmsNumber: creds.InsuranceNumber,
		BirthDate: creds.BirthDate.Format(DateLayout),
	}

	result, err := c.call(ctx, MethodReferrals, params)
	if err != nil {
		return nil, fmt.Errorf("fetch referrals: %w", err)
	}

	var referrals []Referral
	if len(bytes.TrimSpace(result)) == 0 {
		return referrals, nil
	}
	if err := json.Unmarshal(result, &referrals); err != nil {
		return nil, fmt.Errorf("fetch referrals: decode result from %s: %w", c.endpoint(MethodReferrals), err)
	}

	return referrals, nil
}

// FetchDoctorsOrLdps returns the specialists or facilities that can serve a
// referral.
func (c *Client) FetchDoctorsOrLdps(ctx context.Context, creds Credentials, referralID int64) (Listing, error) {
	params := doctorsParams{
		OmsNumber:  creds.InsuranceNumber,
		BirthDate:  creds.BirthDate.Format(DateLayout),
		ReferralID: referralID,
	}

	result, err := c.call(ctx, MethodDoctors, params)
	if err != nil {
		return Listing{}, fmt.Errorf("fetch doctors for referral %d: %w", referralID, err)
	}

	listing := DecodeListing(result)
	if listing.Kind == KindUnrecognized {
		c.logger.WithFields(logrus.Fields{
			"event":       "emias_unrecognized_listing",
			"referral_id": referralID,
			"payload":     truncate(string(result), 300),
		}).Warn("doctors listing did not match any known shape")
	}

	return listing, nil
}

func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if c == nil || c.httpClient == nil {
		return nil, errors.New("emias client is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	start := time.Now()
	endpoint := c.endpoint(method)

	payload, err := json.Marshal(envelope{
		ID:      envelopeID,
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(method, OutcomeTransport, time.Since(start))
		return nil, &TransportError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(method, OutcomeTransport, time.Since(start))
		return nil, &TransportError{URL: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := truncate(string(body), 300)
		c.logger.WithFields(logrus.Fields{
			"event":  "emias_non_2xx",
			"method": method,
			"status": resp.StatusCode,
			"body":   msg,
		}).Warn("appointment API non-2xx response")
		c.observe(method, OutcomeTransport, time.Since(start))
		return nil, &TransportError{URL: endpoint, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	var decoded response
	if err := json.Unmarshal(body, &decoded); err != nil {
		c.observe(method, OutcomeDecode, time.Since(start))
		return nil, fmt.Errorf("decode response from %s: %w", endpoint, err)
	}
	if decoded.Error != nil {
		c.observe(method, OutcomeRPC, time.Since(start))
		return nil, decoded.Error
	}

	c.observe(method, OutcomeOK, time.Since(start))
	return decoded.Result, nil
}

func (c *Client) endpoint(method string) string {
	return c.baseURL + "?" + method
}

func (c *Client) observe(method, outcome string, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveAPICall(method, outcome, elapsed)
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

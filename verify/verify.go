package verify

import (
	"context"
	"errors"
	"fmt"
	"gotmail/config"
	"gotmail/utils"

	"github.com/go-resty/resty/v2"
)

// ErrDisabled is returned when phone verification is not configured
var ErrDisabled = errors.New("phone verification is disabled")

// Verifier sends and checks phone verification codes
type Verifier interface {
	SendCode(ctx context.Context, phone string) error
	CheckCode(ctx context.Context, phone, code string) (bool, error)
}

// verification is the part of the provider response we read
type verification struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	Valid  bool   `json:"valid"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// Client talks to the Twilio Verify REST API
type Client struct {
	http       *resty.Client
	serviceSID string
}

// New creates a Verifier from configuration. A disabled configuration
// yields a Verifier that always fails with ErrDisabled.
func New(cfg config.VerifyConfig) Verifier {
	if !cfg.Enabled {
		return disabled{}
	}
	return NewClient(cfg)
}

// NewClient creates a Verify API client
func NewClient(cfg config.VerifyConfig) *Client {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetTimeout(cfg.Timeout.Duration).
		SetHeader("Accept", "application/json").
		SetRetryCount(2)

	return &Client{http: http, serviceSID: cfg.ServiceSID}
}

// SendCode asks the provider to text a code to phone
func (c *Client) SendCode(ctx context.Context, phone string) error {
	var result verification
	var failure apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"To": phone, "Channel": "sms"}).
		SetResult(&result).
		SetError(&failure).
		SetPathParam("service", c.serviceSID).
		Post("/Services/{service}/Verifications")
	if err != nil {
		return fmt.Errorf("verification request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("verification request rejected (%d): %s", resp.StatusCode(), failure.Message)
	}

	utils.Log.Debug("Verification %s started with status %s", result.SID, result.Status)
	return nil
}

// CheckCode reports whether code is the one texted to phone
func (c *Client) CheckCode(ctx context.Context, phone, code string) (bool, error) {
	var result verification
	var failure apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"To": phone, "Code": code}).
		SetResult(&result).
		SetError(&failure).
		SetPathParam("service", c.serviceSID).
		Post("/Services/{service}/VerificationCheck")
	if err != nil {
		return false, fmt.Errorf("verification check failed: %w", err)
	}
	if resp.StatusCode() == 404 {
		// expired or already approved verifications are gone
		return false, nil
	}
	if resp.IsError() {
		return false, fmt.Errorf("verification check rejected (%d): %s", resp.StatusCode(), failure.Message)
	}

	return result.Status == "approved", nil
}

type disabled struct{}

func (disabled) SendCode(context.Context, string) error { return ErrDisabled }

func (disabled) CheckCode(context.Context, string, string) (bool, error) {
	return false, ErrDisabled
}

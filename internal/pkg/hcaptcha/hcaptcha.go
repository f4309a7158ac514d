// Package hcaptcha verifies hCaptcha tokens submitted with the public forms.
package hcaptcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultEndpoint = "https://hcaptcha.com/siteverify"

var (
	ErrEmptyToken = errors.New("hCaptcha token is empty")
	ErrRejected   = errors.New("hCaptcha validation failed")
)

type Response struct {
	Success     bool     `json:"success"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
	ErrorCodes  []string `json:"error-codes"`
}

// Verifier checks tokens against the siteverify endpoint. A nil *Verifier
// accepts everything, which is how the forms run without a secret.
type Verifier struct {
	secret   string
	endpoint string
	client   *http.Client
}

// New returns nil when secret is empty.
func New(secret string) *Verifier {
	if secret == "" {
		return nil
	}
	return &Verifier{
		secret:   secret,
		endpoint: DefaultEndpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// WithEndpoint points the verifier at another siteverify URL.
func (v *Verifier) WithEndpoint(endpoint string) *Verifier {
	v.endpoint = endpoint
	return v
}

func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) error {
	if v == nil {
		return nil
	}
	if token == "" {
		return ErrEmptyToken
	}

	formData := url.Values{
		"secret":   {v.secret},
		"response": {token},
	}
	if remoteIP != "" {
		formData.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(formData.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to hCaptcha API: %w", err)
	}
	defer resp.Body.Close()

	var response Response
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode hCaptcha API response: %w", err)
	}

	if !response.Success {
		if len(response.ErrorCodes) > 0 {
			return fmt.Errorf("%w: %s", ErrRejected, strings.Join(response.ErrorCodes, ", "))
		}
		return ErrRejected
	}
	return nil
}

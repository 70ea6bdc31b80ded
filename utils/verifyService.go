package utils

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// VerifyClient asks an external deliverability service whether an address
// can receive mail.
type VerifyClient struct {
	client *resty.Client
	url    string
}

type verifyResponse struct {
	Deliverable *bool  `json:"deliverable"`
	Result      string `json:"result"`
}

func NewVerifyClient(url, apiKey string) *VerifyClient {
	client := resty.New().
		SetTimeout(5*time.Second).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &VerifyClient{client: client, url: url}
}

// Verify returns false only when the service says the address is
// undeliverable. Transport and protocol problems come back as errors.
func (v *VerifyClient) Verify(ctx context.Context, address string) (bool, error) {
	var out verifyResponse
	resp, err := v.client.R().
		SetContext(ctx).
		SetQueryParam("email", address).
		SetResult(&out).
		Get(v.url)
	if err != nil {
		return false, fmt.Errorf("verify request: %w", err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("verify service returned %d", resp.StatusCode())
	}

	if out.Deliverable != nil {
		return *out.Deliverable, nil
	}
	switch strings.ToLower(out.Result) {
	case "undeliverable", "invalid", "rejected":
		return false, nil
	case "":
		return false, fmt.Errorf("verify service returned an empty verdict")
	default:
		return true, nil
	}
}

// Copyright (c) Microsoft. All rights reserved.

package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"github.com/jggomez/toolloop/toolloop"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultAzureScope = "https://cognitiveservices.azure.com/.default"
)

// transport is an unexported interface for HTTP communication.
type transport interface {
	do(ctx context.Context, method, path string, body any) (*http.Response, error)
}

type httpTransport struct {
	client          *http.Client
	baseURL         string
	apiKey          string
	org             string
	headers         map[string]string
	azureCredential azcore.TokenCredential
	azureScope      string
}

func newHTTPTransport(apiKey string, opts *clientConfig) *httpTransport {
	t := &httpTransport{
		client:          opts.httpClient,
		baseURL:         opts.baseURL,
		apiKey:          apiKey,
		org:             opts.organization,
		headers:         opts.headers,
		azureCredential: opts.azureCredential,
		azureScope:      opts.azureScope,
	}
	if t.client == nil {
		t.client = http.DefaultClient
	}
	if t.baseURL == "" {
		t.baseURL = defaultBaseURL
	}
	if t.azureScope == "" {
		t.azureScope = defaultAzureScope
	}
	return t
}

func (t *httpTransport) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal request: %w", toolloop.ErrInvalidRequest, err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", toolloop.ErrInvalidRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")

	switch {
	case t.azureCredential != nil:
		token, err := t.azureCredential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{t.azureScope}})
		if err != nil {
			return nil, fmt.Errorf("%w: get azure token: %w", toolloop.ErrAuth, err)
		}
		slog.DebugContext(ctx, "using azure token authentication", "token_expires_on", token.ExpiresOn)
		req.Header.Set("Authorization", "Bearer "+token.Token)
	case t.headers["api-key"] == "":
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	if t.org != "" {
		req.Header.Set("OpenAI-Organization", t.org)
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %w", toolloop.ErrEndpointUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, parseErrorResponse(resp)
	}
	return resp, nil
}

// parseErrorResponse reads an error response body and returns a
// [toolloop.ServiceError].
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var apiErr struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)

	msg := apiErr.Error.Message
	if msg == "" {
		msg = string(body)
	}

	svcErr := &toolloop.ServiceError{
		StatusCode: resp.StatusCode,
		Message:    msg,
		Code:       apiErr.Error.Code,
	}

	switch {
	case apiErr.Error.Code == "content_filter":
		svcErr.Err = toolloop.ErrContentFilter
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		svcErr.Err = toolloop.ErrAuth
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		svcErr.Err = toolloop.ErrEndpointUnavailable
	default:
		svcErr.Err = toolloop.ErrInvalidRequest
	}
	return svcErr
}

package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	dErrors "communique/pkg/domain-errors"
)

// HTTP-backed collaborators. Each wraps one external verification service;
// the providers above stay transport-agnostic.

type HTTPPasskeyChecker struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPPasskeyChecker(baseURL string, httpClient *http.Client) *HTTPPasskeyChecker {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPPasskeyChecker{baseURL: baseURL, httpClient: httpClient}
}

func (c *HTTPPasskeyChecker) CheckAssertion(ctx context.Context, credentialID string, assertion []byte) (int, error) {
	var resp struct {
		Valid          bool `json:"valid"`
		AuthorityLevel int  `json:"authority_level"`
	}
	err := postJSON(ctx, c.httpClient, c.baseURL+"/assertions/check", map[string]any{
		"credential_id": credentialID,
		"assertion":     assertion,
	}, &resp)
	if err != nil {
		return 0, err
	}
	if !resp.Valid {
		return 0, dErrors.New(dErrors.CodeUnauthorized, "passkey assertion rejected")
	}
	return resp.AuthorityLevel, nil
}

type HTTPAddressAttestor struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPAddressAttestor(baseURL string, httpClient *http.Client) *HTTPAddressAttestor {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPAddressAttestor{baseURL: baseURL, httpClient: httpClient}
}

func (c *HTTPAddressAttestor) Attest(ctx context.Context, address string) (string, int, error) {
	var resp struct {
		District       string `json:"district"`
		AuthorityLevel int    `json:"authority_level"`
	}
	err := postJSON(ctx, c.httpClient, c.baseURL+"/attestations", map[string]string{
		"address": address,
	}, &resp)
	if err != nil {
		return "", 0, err
	}
	if resp.District == "" {
		return "", 0, dErrors.New(dErrors.CodeValidation, "address could not be resolved to a district")
	}
	return resp.District, resp.AuthorityLevel, nil
}

type HTTPDocumentChecker struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPDocumentChecker(baseURL string, httpClient *http.Client) *HTTPDocumentChecker {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPDocumentChecker{baseURL: baseURL, httpClient: httpClient}
}

func (c *HTTPDocumentChecker) CheckSession(ctx context.Context, providerSessionID string) (bool, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sessions/"+providerSessionID, nil)
	if err != nil {
		return false, 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, 0, fmt.Errorf("document check call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, 0, fmt.Errorf("document check responded %d", resp.StatusCode)
	}

	var body struct {
		Verified       bool `json:"verified"`
		AuthorityLevel int  `json:"authority_level"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, 0, err
	}
	return body.Verified, body.AuthorityLevel, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("verification call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("verification service responded %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

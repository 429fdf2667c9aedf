package upstream

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fleetbridge/internal/store"
)

const requestTimeout = 15 * time.Second

// Client talks to the central management server's REST endpoints.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a REST client for the central server. insecure skips
// TLS verification for self-signed site certificates.
func NewClient(baseURL, apiKey string, insecure bool) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    newHTTPClient(insecure),
	}
}

func newHTTPClient(insecure bool) *http.Client {
	client := &http.Client{Timeout: requestTimeout}
	if insecure {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return client
}

// Onboard submits the collector's master-key payload and returns the
// credential issued by the server.
func (c *Client) Onboard(payload []byte) (store.Credential, error) {
	var cred store.Credential

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/agent/onboard/", strings.NewReader(string(payload)))
	if err != nil {
		return cred, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return cred, fmt.Errorf("onboarding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return cred, fmt.Errorf("onboarding failed (HTTP %d): %s", resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, &cred); err != nil {
		return cred, fmt.Errorf("decode onboarding response: %w", err)
	}
	return cred, nil
}

// FetchToken performs the client-credentials exchange and returns the
// issued token and its lifetime in seconds. Satisfies auth.TokenFetcher.
func (c *Client) FetchToken(cred store.Credential, tokenType string) (string, int, error) {
	endpoint := c.baseURL + "/api/agent/get/jwt/"
	if tokenType == store.AccessToken {
		endpoint = c.baseURL + "/api/agent/get/jwt/access_token/"
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", cred.ClientID)
	form.Set("client_secret", cred.ClientSecret)

	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("uuid", cred.UUID)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("token endpoint returned HTTP %d: %s", resp.StatusCode, body)
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", 0, fmt.Errorf("decode token response: %w", err)
	}
	if result.AccessToken == "" {
		return "", 0, fmt.Errorf("token endpoint returned empty access_token")
	}
	return result.AccessToken, result.ExpiresIn, nil
}

// SendInventory forwards a full inventory snapshot to the intake endpoint
// and returns the server's reply body.
func (c *Client) SendInventory(payload []byte, token, agentUUID string) (string, error) {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/agent/init/data/", strings.NewReader(string(payload)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("uuid", agentUUID)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("inventory request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("inventory intake returned HTTP %d: %s", resp.StatusCode, body)
	}
	return string(body), nil
}

// SendScanResult PATCHes a scan result to the per-action endpoint and
// returns the reply body. Action "partition" is aliased to "disk" on the
// wire.
func (c *Client) SendScanResult(result []byte, token, agentUUID, action string) ([]byte, error) {
	if action == "partition" {
		action = "disk"
	}
	endpoint := fmt.Sprintf("%s/api/agent/init/data/%s/%s/", c.baseURL, agentUUID, action)

	req, err := http.NewRequest(http.MethodPatch, endpoint, strings.NewReader(string(result)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scan result request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("scan endpoint returned HTTP %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

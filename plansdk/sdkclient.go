package plansdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/contenox/agentplan/apiframework"
)

// Client provides access to a remote agentplan runtime.
type Client struct {
	PlanService *HTTPPlanService
}

// Config holds configuration for the SDK client
type Config struct {
	BaseURL string
	Token   string
}

func createClient(config Config, httpClient *http.Client) (*Client, error) {
	return &Client{
		PlanService: NewHTTPPlanService(config.BaseURL, config.Token, httpClient),
	}, nil
}

// NewClient validates server version compatibility and returns a client.
func NewClient(ctx context.Context, config Config, httpClient *http.Client) (*Client, error) {
	about, err := fetchServerVersion(ctx, config, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to validate server version: %w", err)
	}

	sdkVersion := apiframework.GetVersion()

	// Development builds skip the exact-match check.
	if about.Version == "unknown" || strings.Contains(about.Version, "dev") {
		return createClient(config, httpClient)
	}

	if sdkVersion != about.Version {
		return nil, fmt.Errorf(
			"version mismatch: server=%q, sdk=%q (must be identical)\n"+
				"Hint: Run 'go get github.com/contenox/agentplan@%s' to fix",
			about.Version,
			sdkVersion,
			about.Version,
		)
	}

	return createClient(config, httpClient)
}

func fetchServerVersion(ctx context.Context, config Config, httpClient *http.Client) (apiframework.AboutServer, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	baseURL := strings.TrimSuffix(config.BaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/version", nil)
	if err != nil {
		return apiframework.AboutServer{}, err
	}

	if config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+config.Token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return apiframework.AboutServer{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiframework.AboutServer{}, apiframework.HandleAPIError(resp)
	}

	var about apiframework.AboutServer
	if err := json.NewDecoder(resp.Body).Decode(&about); err != nil {
		return apiframework.AboutServer{}, err
	}
	return about, nil
}

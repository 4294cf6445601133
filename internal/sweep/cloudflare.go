package sweep

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CloudflareWorkerDeleter is the production WorkerDeleter, calling the
// Cloudflare Workers API's DELETE script endpoint. Hand-rolled HTTP, same
// convention as internal/ai.OpenRouterProvider (no Cloudflare Go SDK
// appears anywhere in the retrieval pack).
type CloudflareWorkerDeleter struct {
	BaseURL   string
	APIToken  string
	AccountID string
	Client    *http.Client
}

func NewCloudflareWorkerDeleter(baseURL, apiToken, accountID string) *CloudflareWorkerDeleter {
	if baseURL == "" {
		baseURL = "https://api.cloudflare.com/client/v4"
	}
	return &CloudflareWorkerDeleter{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		APIToken:  apiToken,
		AccountID: accountID,
		Client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// DeleteWorker implements WorkerDeleter. A 404 response maps to
// ErrWorkerNotFound, which Sweeper.sweepOne treats as success.
func (d *CloudflareWorkerDeleter) DeleteWorker(ctx context.Context, name string) error {
	url := fmt.Sprintf("%s/accounts/%s/workers/scripts/%s", d.BaseURL, d.AccountID, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+d.APIToken)

	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrWorkerNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2*1024))
		return fmt.Errorf("cloudflare: delete worker %s: status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

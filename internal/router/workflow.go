package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// MaxWorkflowRetries bounds the retry attempts against an external workflow
// collaborator (Flowise/n8n) per spec: exponential backoff, at most 3
// retries, any 2xx reply wins.
const MaxWorkflowRetries = 3

// WorkflowClient posts a transcript to an external workflow engine (Flowise
// or n8n) and returns its reply text, retrying on transport/non-2xx
// failures with exponential backoff.
type WorkflowClient struct {
	url    string
	client *http.Client
}

// NewWorkflowClient builds a WorkflowClient posting to url.
func NewWorkflowClient(url string) *WorkflowClient {
	return &WorkflowClient{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type workflowRequest struct {
	Text string `json:"text"`
}

type workflowResponse struct {
	Reply string `json:"reply"`
}

// Invoke posts text to the workflow and returns its reply. It retries up to
// MaxWorkflowRetries times on request failure or a non-2xx status.
func (w *WorkflowClient) Invoke(ctx context.Context, text string) (string, error) {
	reply, err := backoff.Retry(ctx, func() (string, error) {
		return w.tryOnce(ctx, text)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(MaxWorkflowRetries+1))
	if err != nil {
		return "", fmt.Errorf("workflow: exhausted retries: %w", err)
	}
	return reply, nil
}

func (w *WorkflowClient) tryOnce(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(workflowRequest{Text: text})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("workflow http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("workflow status %d: %s", resp.StatusCode, string(respBody))
	}

	var result workflowResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("workflow decode: %w", err)
	}
	return result.Reply, nil
}

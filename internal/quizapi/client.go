// Package quizapi is the client for the external quiz API's bulk answer
// submission endpoint.
package quizapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"offline-quiz-store/internal/domain"
)

const DefaultTimeout = 15 * time.Second

// Client submits answers over HTTP. Every request carries a client-side
// timeout so a hung call cannot pin a session in flight forever.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type bulkAnswersRequest struct {
	Answers []domain.AnswerSubmission `json:"answers"`
}

type bulkAnswersResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SubmitSessionAnswers posts the session's answers in one call. A non-2xx
// status or a success=false body is an error; the caller keeps its local
// copy for retry in that case.
func (c *Client) SubmitSessionAnswers(ctx context.Context, sessionID int, answers []domain.AnswerSubmission) error {
	body, err := json.Marshal(bulkAnswersRequest{Answers: answers})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/quiz-sessions/%d/answers/bulk", c.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("quiz api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("quiz api: unexpected status %s", resp.Status)
	}

	var result bulkAnswersResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("quiz api: decode response: %w", err)
	}
	if !result.Success {
		if result.Message == "" {
			result.Message = "submission rejected"
		}
		return fmt.Errorf("quiz api: %s", result.Message)
	}
	return nil
}

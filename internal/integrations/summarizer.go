// Package integrations holds HTTP clients for collaborators outside the sync core: the AI
// summarizer and the notification webhook.
package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"example.com/carevisits/libs/events"
)

// Summarizer produces a narrative summary for a completed visit.
type Summarizer interface {
	SummarizeVisit(ctx context.Context, visit events.VisitCompleted) (string, error)
}

// NoopSummarizer leaves every visit on its placeholder summary.
type NoopSummarizer struct{}

// SummarizeVisit returns an empty summary.
func (NoopSummarizer) SummarizeVisit(context.Context, events.VisitCompleted) (string, error) {
	return "", nil
}

// HTTPSummarizer calls an upstream summarization endpoint.
type HTTPSummarizer struct {
	client *http.Client
	url    string
	token  string
}

// NewHTTPSummarizer constructs an HTTPSummarizer.
func NewHTTPSummarizer(endpoint, token string, timeout time.Duration) *HTTPSummarizer {
	return &HTTPSummarizer{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(endpoint, "/"),
		token:  token,
	}
}

type summaryRequest struct {
	Kind  string                `json:"kind"`
	Visit events.VisitCompleted `json:"visit"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

// SummarizeVisit posts the completed visit and returns the generated summary text.
func (s *HTTPSummarizer) SummarizeVisit(ctx context.Context, visit events.VisitCompleted) (string, error) {
	body, err := json.Marshal(summaryRequest{Kind: "visit", Visit: visit})
	if err != nil {
		return "", err
	}
	resp, err := post(ctx, s.client, s.url+"/summaries/visit", s.token, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out summaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Summary), nil
}

func post(ctx context.Context, client *http.Client, url, token string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, &StatusError{URL: url, Status: resp.StatusCode}
	}
	return resp, nil
}

// StatusError represents a non-successful collaborator response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return "collaborator " + e.URL + " responded " + http.StatusText(e.Status)
}

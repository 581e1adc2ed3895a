/**
 * Remote PHI detection provider client.
 *
 * Talks to a detection gateway (fronting Azure Language or AWS Comprehend
 * Medical) that performs category filtering by masking level server-side.
 * Offsets in the response index the submitted text in runes.
 */

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redactifai/deid-worker/internal/deid"
	"github.com/rs/zerolog"
)

// RemotePHI implements deid.PHIProvider against an HTTP gateway.
type RemotePHI struct {
	baseURL          string
	customCategories []string
	httpClient       *http.Client
	logger           zerolog.Logger
}

// NewRemotePHI creates a client for the PHI detection gateway.
func NewRemotePHI(baseURL string, customCategories []string, logger zerolog.Logger) *RemotePHI {
	return &RemotePHI{
		baseURL:          baseURL,
		customCategories: customCategories,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// Name identifies the provider in error reports.
func (c *RemotePHI) Name() string { return "remote-phi" }

type remotePHIRequest struct {
	Text             string   `json:"text"`
	MaskingLevel     string   `json:"maskingLevel"`
	CustomCategories []string `json:"customCategories,omitempty"`
}

type remotePHIResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Entities []struct {
		Text        string  `json:"text"`
		Category    string  `json:"category"`
		Subcategory string  `json:"subcategory,omitempty"`
		Offset      int     `json:"offset"`
		Length      int     `json:"length"`
		Confidence  float64 `json:"confidence"`
	} `json:"entities"`
}

// Detect submits the text and returns the gateway's entities sorted by
// offset.
func (c *RemotePHI) Detect(ctx context.Context, fullText string, level deid.MaskingLevel) ([]deid.PHIEntity, error) {
	endpoint := fmt.Sprintf("%s/v1/phi/detect", c.baseURL)

	reqBody, err := json.Marshal(remotePHIRequest{
		Text:             fullText,
		MaskingLevel:     string(level),
		CustomCategories: c.customCategories,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "deid-worker")
	httpReq.Header.Set("X-Request-ID", uuid.New().String())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to PHI gateway failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("PHI gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	var phiResp remotePHIResponse
	if err := json.Unmarshal(body, &phiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !phiResp.Success {
		return nil, fmt.Errorf("PHI gateway operation failed: %s", phiResp.Message)
	}

	entities := make([]deid.PHIEntity, 0, len(phiResp.Entities))
	for _, e := range phiResp.Entities {
		entities = append(entities, deid.PHIEntity{
			Text:        e.Text,
			Category:    e.Category,
			Subcategory: e.Subcategory,
			Offset:      e.Offset,
			Length:      e.Length,
			Confidence:  e.Confidence,
		})
	}

	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Offset < entities[j].Offset
	})

	c.logger.Debug().Int("entities", len(entities)).Msg("remote PHI detection complete")
	return entities, nil
}

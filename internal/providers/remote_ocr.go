/**
 * Remote OCR provider client.
 *
 * Talks to an OCR gateway service (fronting Azure Document Intelligence,
 * AWS Textract or similar) that already speaks the normalized result
 * shape. The gateway is responsible for converting provider polygons to
 * axis-aligned boxes; this client copies the boxes as given and tags them
 * with the coordinate convention the gateway reports.
 */

package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redactifai/deid-worker/internal/deid"
	"github.com/rs/zerolog"
)

// RemoteOCR implements deid.OCRProvider against an HTTP gateway.
type RemoteOCR struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewRemoteOCR creates a client for the OCR gateway.
func NewRemoteOCR(baseURL string, logger zerolog.Logger) *RemoteOCR {
	return &RemoteOCR{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // full-document OCR can take a while
		},
		logger: logger,
	}
}

// Name identifies the provider in error reports.
func (c *RemoteOCR) Name() string { return "remote-ocr" }

type remoteOCRRequest struct {
	Document string `json:"document"` // base64
	Format   string `json:"format"`
	Language string `json:"language,omitempty"`
}

type remoteOCRResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    struct {
		Normalized bool   `json:"normalized"` // coordinate convention for every box
		FullText   string `json:"fullText"`
		Pages      []struct {
			PageNumber int     `json:"pageNumber"`
			Width      float64 `json:"width"`
			Height     float64 `json:"height"`
			Words      []struct {
				Text       string  `json:"text"`
				Confidence float64 `json:"confidence"`
				X          float64 `json:"x"`
				Y          float64 `json:"y"`
				Width      float64 `json:"width"`
				Height     float64 `json:"height"`
			} `json:"words"`
		} `json:"pages"`
	} `json:"data"`
}

// Analyze submits the document and converts the gateway response into the
// normalized OCR result.
func (c *RemoteOCR) Analyze(ctx context.Context, documentBytes []byte, format string, language string) (*deid.OCRResult, error) {
	endpoint := fmt.Sprintf("%s/v1/ocr/analyze", c.baseURL)

	reqBody, err := json.Marshal(remoteOCRRequest{
		Document: base64.StdEncoding.EncodeToString(documentBytes),
		Format:   format,
		Language: language,
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
		return nil, fmt.Errorf("request to OCR gateway failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OCR gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	var ocrResp remoteOCRResponse
	if err := json.Unmarshal(body, &ocrResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !ocrResp.Success {
		return nil, fmt.Errorf("OCR gateway operation failed: %s", ocrResp.Message)
	}

	result := &deid.OCRResult{FullText: ocrResp.Data.FullText}
	for _, page := range ocrResp.Data.Pages {
		ocrPage := deid.OCRPage{
			PageNumber: page.PageNumber,
			Width:      page.Width,
			Height:     page.Height,
		}
		for _, w := range page.Words {
			ocrPage.Words = append(ocrPage.Words, deid.OCRWord{
				Text:       w.Text,
				Confidence: w.Confidence,
				Box: deid.BoundingBox{
					Page:       page.PageNumber,
					X:          w.X,
					Y:          w.Y,
					Width:      w.Width,
					Height:     w.Height,
					Normalized: ocrResp.Data.Normalized,
				},
			})
		}
		result.Pages = append(result.Pages, ocrPage)
	}

	c.logger.Debug().Int("pages", len(result.Pages)).Int("text_len", len(result.FullText)).Msg("remote OCR complete")
	return result, nil
}

// HealthCheck verifies the gateway is reachable.
func (c *RemoteOCR) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("OCR gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("OCR gateway unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

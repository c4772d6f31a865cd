package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/qs3c/storyvoice_go_server/config"
)

const (
	defaultCartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaAPIVersion     = "2024-11-13"
)

// CartesiaClient Cartesia 语音克隆与合成客户端
type CartesiaClient struct {
	apiKey  string
	baseURL string
	modelID string
	httpc   *http.Client
}

func NewCartesiaClient(cfg config.ProviderConfig, timeout time.Duration) *CartesiaClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultCartesiaBaseURL
	}
	modelID := cfg.DefaultModel
	if modelID == "" {
		modelID = "sonic-2"
	}
	return &CartesiaClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		modelID: modelID,
		httpc:   &http.Client{Timeout: timeout},
	}
}

func (c *CartesiaClient) Name() string {
	return "cartesia"
}

func (c *CartesiaClient) setHeaders(req *http.Request) {
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaAPIVersion)
}

// CreateVoice 上传样本克隆声音
// POST /voices/clone
func (c *CartesiaClient) CreateVoice(ctx context.Context, sample []byte, filename, name string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("clip", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(sample); err != nil {
		return "", fmt.Errorf("failed to write sample: %w", err)
	}
	if err := writer.WriteField("name", name); err != nil {
		return "", err
	}
	if err := writer.WriteField("mode", "similarity"); err != nil {
		return "", err
	}
	if err := writer.WriteField("enhance", "true"); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/voices/clone", &body)
	if err != nil {
		return "", err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("cartesia clone voice request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.apiError(resp)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode clone voice response: %w", err)
	}
	if result.ID == "" {
		return "", &APIError{Provider: "cartesia", StatusCode: resp.StatusCode, Message: "no voice id in response"}
	}
	return result.ID, nil
}

// DeleteVoice 删除远程声音；404 视为已删除
// DELETE /voices/{id}
func (c *CartesiaClient) DeleteVoice(ctx context.Context, remoteID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/voices/"+remoteID, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("cartesia delete voice request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return c.apiError(resp)
}

// Synthesize 文本转语音
// POST /tts/bytes
func (c *CartesiaClient) Synthesize(ctx context.Context, remoteID, text string) ([]byte, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"model_id":   c.modelID,
		"transcript": text,
		"voice": map[string]string{
			"id": remoteID,
		},
		"output_format": map[string]string{
			"type": "mp3",
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts/bytes", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cartesia synthesize request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrRemoteVoiceMissing
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio body: %w", err)
	}
	return audio, nil
}

func (c *CartesiaClient) apiError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := "request failed"
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error != "" {
		message = parsed.Error
	} else if len(data) > 0 {
		message = string(data)
	}
	return &APIError{Provider: "cartesia", StatusCode: resp.StatusCode, Message: message}
}

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

const defaultElevenLabsBaseURL = "https://api.elevenlabs.io"

// ElevenLabsClient ElevenLabs 语音克隆与合成客户端
type ElevenLabsClient struct {
	apiKey  string
	baseURL string
	modelID string
	httpc   *http.Client
}

func NewElevenLabsClient(cfg config.ProviderConfig, timeout time.Duration) *ElevenLabsClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultElevenLabsBaseURL
	}
	modelID := cfg.DefaultModel
	if modelID == "" {
		modelID = "eleven_multilingual_v2"
	}
	return &ElevenLabsClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		modelID: modelID,
		httpc:   &http.Client{Timeout: timeout},
	}
}

func (c *ElevenLabsClient) Name() string {
	return "elevenlabs"
}

// CreateVoice 上传样本克隆声音
// POST /v1/voices/add
func (c *ElevenLabsClient) CreateVoice(ctx context.Context, sample []byte, filename, name string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("files", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(sample); err != nil {
		return "", fmt.Errorf("failed to write sample: %w", err)
	}
	if err := writer.WriteField("name", name); err != nil {
		return "", err
	}
	if err := writer.WriteField("description", "Cloned voice from user upload"); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/voices/add", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("elevenlabs create voice request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.apiError(resp)
	}

	var result struct {
		VoiceID string `json:"voice_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode create voice response: %w", err)
	}
	if result.VoiceID == "" {
		return "", &APIError{Provider: "elevenlabs", StatusCode: resp.StatusCode, Message: "no voice_id in response"}
	}
	return result.VoiceID, nil
}

// DeleteVoice 删除远程声音；404 视为已删除
// DELETE /v1/voices/{voice_id}
func (c *ElevenLabsClient) DeleteVoice(ctx context.Context, remoteID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/voices/"+remoteID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs delete voice request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return c.apiError(resp)
}

// Synthesize 文本转语音
// POST /v1/text-to-speech/{voice_id}
func (c *ElevenLabsClient) Synthesize(ctx context.Context, remoteID, text string) ([]byte, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"text":     text,
		"model_id": c.modelID,
		"voice_settings": map[string]float64{
			"stability":        0.5,
			"similarity_boost": 0.8,
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/text-to-speech/"+remoteID, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs synthesize request failed: %w", err)
	}
	defer resp.Body.Close()

	// 槽位被远端回收
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

func (c *ElevenLabsClient) apiError(resp *http.Response) error {
	detail := readErrorDetail(resp.Body)
	return &APIError{Provider: "elevenlabs", StatusCode: resp.StatusCode, Message: detail}
}

// readErrorDetail 尽力解析错误响应中的 detail 字段
func readErrorDetail(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return "request failed"
	}
	var parsed struct {
		Detail interface{} `json:"detail"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Detail != nil {
		return fmt.Sprintf("%v", parsed.Detail)
	}
	return string(data)
}

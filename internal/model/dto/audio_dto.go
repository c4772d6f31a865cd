package dto

// 合成请求的返回状态
const (
	SynthesisStatusReady           = "ready"
	SynthesisStatusProcessing      = "processing"
	SynthesisStatusAllocatingVoice = "allocating_voice"
	SynthesisStatusQueuedForSlot   = "queued_for_slot"
)

// SynthesisResponse 合成请求返回
type SynthesisResponse struct {
	Status        string `json:"status"`
	JobID         int64  `json:"job_id,omitempty"`
	ArtifactURL   string `json:"artifact_url,omitempty"`
	QueuePosition int    `json:"queue_position,omitempty"`
	QueueLength   int    `json:"queue_length,omitempty"`
	RemoteVoiceID string `json:"remote_voice_id,omitempty"`
}

// InsufficientCreditsResponse 402 响应体
type InsufficientCreditsResponse struct {
	Required  int `json:"required"`
	Available int `json:"available"`
}

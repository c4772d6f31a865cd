package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument  = errors.New("参数不合法")
	ErrNotFound         = errors.New("资源不存在")
	ErrPermissionDenied = errors.New("无权访问该资源")
	ErrInvalidUnitSize  = errors.New("unit_size 必须为正数")
)

// InsufficientCreditsError 活跃余额不足
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("积分不足：需要 %d，可用 %d", e.Required, e.Available)
}

// IsInsufficientCredits 判断并提取余额不足错误
func IsInsufficientCredits(err error) (*InsufficientCreditsError, bool) {
	var ice *InsufficientCreditsError
	if errors.As(err, &ice) {
		return ice, true
	}
	return nil, false
}

// VoiceUnavailableError 声音无法提供服务（分配失败或样本缺失）
type VoiceUnavailableError struct {
	Reason string
}

func (e *VoiceUnavailableError) Error() string {
	return fmt.Sprintf("声音不可用：%s", e.Reason)
}

// IsVoiceUnavailable 判断并提取声音不可用错误
func IsVoiceUnavailable(err error) (*VoiceUnavailableError, bool) {
	var vue *VoiceUnavailableError
	if errors.As(err, &vue) {
		return vue, true
	}
	return nil, false
}

package service

import (
	"unicode/utf8"
)

// RequiredCredits 计算一段文本需要的积分：max(1, ceil(字符数/unitSize))。
// 字符按码点计数而非字节，多语言文本计价一致。
func RequiredCredits(text string, unitSize int) (int, error) {
	if unitSize <= 0 {
		return 0, ErrInvalidUnitSize
	}

	chars := utf8.RuneCountInString(text)
	credits := (chars + unitSize - 1) / unitSize
	if credits < 1 {
		credits = 1
	}
	return credits, nil
}

package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredCredits(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		unitSize int
		want     int
	}{
		{"empty text still costs one", "", 1000, 1},
		{"short text", "hello", 1000, 1},
		{"exactly one unit", strings.Repeat("a", 1000), 1000, 1},
		{"one over unit", strings.Repeat("a", 1001), 1000, 2},
		{"two and a half units", strings.Repeat("a", 2500), 1000, 3},
		{"small unit size", "abcdef", 2, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RequiredCredits(tt.text, tt.unitSize)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequiredCredits_CountsCodepoints(t *testing.T) {
	// 多字节字符按码点计数，不按字节
	text := strings.Repeat("ą", 1000) // UTF-8 下每个字符 2 字节
	got, err := RequiredCredits(text, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	got, err = RequiredCredits(strings.Repeat("夜", 1500), 1000)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestRequiredCredits_InvalidUnitSize(t *testing.T) {
	_, err := RequiredCredits("text", 0)
	assert.ErrorIs(t, err, ErrInvalidUnitSize)

	_, err = RequiredCredits("text", -5)
	assert.ErrorIs(t, err, ErrInvalidUnitSize)
}

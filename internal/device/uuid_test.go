package device

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "16-bit UUID",
			input:    "2902",
			expected: "2902",
		},
		{
			name:     "16-bit UUID with 0x prefix",
			input:    "0x2902",
			expected: "2902",
		},
		{
			name:     "read characteristic in SIG base form",
			input:    "00001143-0000-1000-8000-00805f9b34fb",
			expected: "1143",
		},
		{
			name:     "write characteristic in SIG base form, uppercase",
			input:    "00001142-0000-1000-8000-00805F9B34FB",
			expected: "1142",
		},
		{
			name:     "SIG base without dashes",
			input:    "0000114300001000800000805f9b34fb",
			expected: "1143",
		},
		{
			name:     "Nordic UART TX characteristic is kept in full",
			input:    "6E400003-B5A3-F393-E0A9-E50E24DCCA9E",
			expected: "6e400003b5a3f393e0a9e50e24dcca9e",
		},
		{
			name:     "32-bit UUID",
			input:    "12345678",
			expected: "12345678",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
		{
			name:     "not hexadecimal",
			input:    "heart-rate",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestNormalizeUUID_NoShortening(t *testing.T) {
	inputs := []string{
		"AA001143-0000-1000-8000-00805f9b34fb",
		"00001143-1234-5678-9abc-def012345678",
		"0000114300001000800000805f9b34fb00",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			result := NormalizeUUID(input)
			assert.NotEqual(t, "1143", result)
			assert.Equal(t, strings.ToLower(strings.ReplaceAll(input, "-", "")), result)
		})
	}
}

func TestValidateUUID(t *testing.T) {
	t.Run("normalizes valid input", func(t *testing.T) {
		got, err := ValidateUUID("00001143-0000-1000-8000-00805f9b34fb", "2a37")
		require.NoError(t, err)
		assert.Equal(t, []string{"1143", "2a37"}, got)
	})

	t.Run("rejects empty list", func(t *testing.T) {
		_, err := ValidateUUID()
		assert.Error(t, err)
	})

	t.Run("rejects empty entry", func(t *testing.T) {
		_, err := ValidateUUID("2a37", "")
		assert.EqualError(t, err, "UUID at index 1 cannot be empty")
	})

	t.Run("rejects malformed entry", func(t *testing.T) {
		_, err := ValidateUUID("zz")
		assert.EqualError(t, err, "invalid UUID format at index 0: zz")
	})
}

package common

import (
	"regexp"
	"strings"
)

const maskedValue = "***MASKED***"

// SensitivePattern represents a pattern to detect and mask sensitive information
type SensitivePattern struct {
	Name        string         // Pattern name (e.g., "password", "dsn")
	Regex       *regexp.Regexp // Regular expression to match sensitive data
	Replacement string         // Replacement string
	Keys        []string       // Attribute keys masked outright (case-insensitive)
}

// DefaultSensitivePatterns covers what this tool can leak into logs: target
// connection strings and operator constants that carry credentials.
var DefaultSensitivePatterns = []SensitivePattern{
	{
		Name:        "dsn_password",
		Regex:       regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/@\s]+:)([^@\s]+)(@)`),
		Replacement: "${1}" + maskedValue + "${3}",
		Keys:        []string{"password", "passwd", "pwd"},
	},
	{
		Name:        "kv_password",
		Regex:       regexp.MustCompile(`(?i)\b(password)=([^\s&]+)`),
		Replacement: "${1}=" + maskedValue,
	},
	{
		Name:        "secret",
		Regex:       regexp.MustCompile(`(?i)("?(?:secret|token|api[_-]?key)"?\s*[:=]\s*"?)([^"',}\s]+)`),
		Replacement: "${1}" + maskedValue,
		Keys:        []string{"secret", "token", "api_key", "apikey"},
	},
}

// Masker handles masking of sensitive information in logs
type Masker struct {
	patterns []SensitivePattern
	enabled  bool
}

// NewMasker creates a new masker with default patterns
func NewMasker() *Masker {
	return &Masker{
		patterns: DefaultSensitivePatterns,
		enabled:  true,
	}
}

// SetEnabled enables or disables masking
func (m *Masker) SetEnabled(enabled bool) {
	m.enabled = enabled
}

// IsEnabled returns whether masking is enabled
func (m *Masker) IsEnabled() bool {
	return m.enabled
}

// MaskString masks sensitive information in a string
func (m *Masker) MaskString(input string) string {
	if !m.enabled {
		return input
	}
	result := input
	for _, pattern := range m.patterns {
		if pattern.Regex != nil {
			result = pattern.Regex.ReplaceAllString(result, pattern.Replacement)
		}
	}
	return result
}

// MaskValue masks value when key names a secret, otherwise scrubs the
// string form of value. Non-string values are returned unchanged.
func (m *Masker) MaskValue(key string, value any) any {
	if !m.enabled {
		return value
	}
	lowerKey := strings.ToLower(key)
	for _, pattern := range m.patterns {
		for _, k := range pattern.Keys {
			if lowerKey == k || strings.HasSuffix(lowerKey, "."+k) {
				return maskedValue
			}
		}
	}
	if s, ok := value.(string); ok {
		return m.MaskString(s)
	}
	return value
}

var globalMasker = NewMasker()

// GetGlobalMasker returns the global masker instance
func GetGlobalMasker() *Masker {
	return globalMasker
}

// MaskSensitiveData masks sensitive data using the global masker
func MaskSensitiveData(input string) string {
	return globalMasker.MaskString(input)
}

// EnableMasking enables/disables global masking
func EnableMasking(enabled bool) {
	globalMasker.SetEnabled(enabled)
}

package security

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

type SanitizerConfig struct {
	Enabled         bool `yaml:"enabled" mapstructure:"enabled"`
	MaxStringLength int  `yaml:"max_string_length" mapstructure:"max_string_length"`
	MaxArrayLength  int  `yaml:"max_array_length" mapstructure:"max_array_length"`
	MaxObjectDepth  int  `yaml:"max_object_depth" mapstructure:"max_object_depth"`
	StrictMode      bool `yaml:"strict_mode" mapstructure:"strict_mode"`
}

// InputSanitizer strips markup from free text coming from the console UI
// before it reaches the stores or the context broker.
type InputSanitizer struct {
	config     SanitizerConfig
	htmlPolicy *bluemonday.Policy
}

var entityTypePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

func NewInputSanitizer(config SanitizerConfig) *InputSanitizer {
	if config.MaxStringLength <= 0 {
		config.MaxStringLength = 10000
	}
	if config.MaxArrayLength <= 0 {
		config.MaxArrayLength = 1000
	}
	if config.MaxObjectDepth <= 0 {
		config.MaxObjectDepth = 10
	}
	return &InputSanitizer{
		config:     config,
		htmlPolicy: bluemonday.StrictPolicy(),
	}
}

// SanitizeString removes tags, NUL bytes and control characters and trims
// surrounding space. The result is plain text, not HTML.
func (is *InputSanitizer) SanitizeString(input string) (string, error) {
	if !is.config.Enabled {
		return input, nil
	}

	if len(input) > is.config.MaxStringLength {
		if is.config.StrictMode {
			return "", fmt.Errorf("string length exceeds maximum allowed length of %d", is.config.MaxStringLength)
		}
		input = input[:is.config.MaxStringLength]
	}

	if !utf8.ValidString(input) {
		if is.config.StrictMode {
			return "", fmt.Errorf("invalid UTF-8 string")
		}
		input = strings.ToValidUTF8(input, "")
	}

	input = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)

	cleaned := html.UnescapeString(is.htmlPolicy.Sanitize(input))

	return strings.TrimSpace(cleaned), nil
}

func (is *InputSanitizer) SanitizeValue(value any) (any, error) {
	return is.sanitizeValueWithDepth(value, 0)
}

func (is *InputSanitizer) sanitizeValueWithDepth(value any, depth int) (any, error) {
	if !is.config.Enabled {
		return value, nil
	}

	if depth > is.config.MaxObjectDepth {
		return nil, fmt.Errorf("object depth exceeds maximum allowed depth of %d", is.config.MaxObjectDepth)
	}

	switch v := value.(type) {
	case string:
		return is.SanitizeString(v)
	case []any:
		return is.sanitizeArray(v, depth)
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			clean, err := is.SanitizeString(s)
			if err != nil {
				return nil, err
			}
			out = append(out, clean)
		}
		return out, nil
	case map[string]any:
		return is.sanitizeObject(v, depth)
	default:
		return v, nil
	}
}

func (is *InputSanitizer) sanitizeArray(arr []any, depth int) ([]any, error) {
	if len(arr) > is.config.MaxArrayLength {
		if is.config.StrictMode {
			return nil, fmt.Errorf("array length exceeds maximum allowed length of %d", is.config.MaxArrayLength)
		}
		arr = arr[:is.config.MaxArrayLength]
	}

	sanitized := make([]any, 0, len(arr))
	for _, item := range arr {
		sanitizedItem, err := is.sanitizeValueWithDepth(item, depth+1)
		if err != nil {
			return nil, err
		}
		sanitized = append(sanitized, sanitizedItem)
	}

	return sanitized, nil
}

func (is *InputSanitizer) sanitizeObject(obj map[string]any, depth int) (map[string]any, error) {
	sanitized := make(map[string]any, len(obj))

	for key, value := range obj {
		sanitizedValue, err := is.sanitizeValueWithDepth(value, depth+1)
		if err != nil {
			return nil, fmt.Errorf("invalid value for key '%s': %w", key, err)
		}
		sanitized[key] = sanitizedValue
	}

	return sanitized, nil
}

// SanitizeEntityType accepts only identifier-like NGSI-LD type names.
func (is *InputSanitizer) SanitizeEntityType(entityType string) (string, error) {
	sanitized := strings.TrimSpace(entityType)
	if len(sanitized) == 0 || len(sanitized) > 100 {
		return "", fmt.Errorf("entity type length must be between 1 and 100 characters")
	}
	if !entityTypePattern.MatchString(sanitized) {
		return "", fmt.Errorf("entity type contains invalid characters")
	}
	return sanitized, nil
}

// SanitizeSearchQuery cleans an asset search string.
func (is *InputSanitizer) SanitizeSearchQuery(query string) (string, error) {
	sanitized, err := is.SanitizeString(query)
	if err != nil {
		return "", err
	}
	if len(sanitized) > 200 {
		return "", fmt.Errorf("search query too long")
	}
	return sanitized, nil
}

func (is *InputSanitizer) IsEnabled() bool {
	return is.config.Enabled
}

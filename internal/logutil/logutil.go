package logutil

import (
	"encoding/json"
	"sort"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

const redacted = "[REDACTED]"

// IsSensitiveLogField returns true when a field or locator label likely refers to secret input.
func IsSensitiveLogField(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.ReplaceAll(normalized, "_", "")
	normalized = strings.ReplaceAll(normalized, " ", "")

	switch {
	case normalized == "authorization":
		return true
	case strings.Contains(normalized, "token"):
		return true
	case strings.Contains(normalized, "secret"):
		return true
	case strings.Contains(normalized, "password"):
		return true
	case strings.Contains(normalized, "passcode"):
		return true
	case strings.Contains(normalized, "apikey"):
		return true
	case strings.Contains(normalized, "cookie"):
		return true
	case strings.Contains(normalized, "otp"):
		return true
	default:
		return false
	}
}

// RedactFillValue hides a typed value when the target field looks sensitive.
func RedactFillValue(target, value string) string {
	if value == "" {
		return ""
	}
	if IsSensitiveLogField(target) {
		return redacted
	}
	return TruncateForLog(value, 120)
}

// RedactBodyForLog redacts sensitive fields and secret fill values from JSON
// payloads and from server-sent event data lines; other bodies are returned as-is.
// Scenario YAML carried inside a "yaml" string field is redacted the same way.
func RedactBodyForLog(contentType string, body []byte) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "event-stream"):
		lines := strings.Split(string(body), "\n")
		for i, line := range lines {
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			lines[i] = "data: " + redactJSON(strings.TrimSpace(data))
		}
		return strings.Join(lines, "\n")
	case strings.Contains(ct, "json"):
		return redactJSON(string(body))
	default:
		return string(body)
	}
}

func redactJSON(text string) string {
	var payload any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return text
	}
	redactValue(payload)
	safeJSON, err := json.Marshal(payload)
	if err != nil {
		return text
	}
	return string(safeJSON)
}

func redactValue(v any) {
	switch typed := v.(type) {
	case map[string]any:
		if isSecretFill(typed) {
			typed["value"] = redacted
		}
		for k, child := range typed {
			if IsSensitiveLogField(k) {
				typed[k] = redacted
				continue
			}
			if k == "yaml" {
				if text, ok := child.(string); ok {
					typed[k] = redactYAML(text)
					continue
				}
			}
			redactValue(child)
		}
	case []any:
		for _, child := range typed {
			redactValue(child)
		}
	}
}

// redactYAML rewrites an embedded scenario document with secret fills hidden.
// Text that does not parse is dropped entirely.
func redactYAML(text string) string {
	var doc any
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return redacted
	}
	redactValue(doc)
	out, err := yaml.Marshal(doc)
	if err != nil {
		return redacted
	}
	return string(out)
}

// isSecretFill reports whether a decoded step fills a sensitive field.
func isSecretFill(step map[string]any) bool {
	if action, _ := step["action"].(string); action != "fill" {
		return false
	}
	if _, ok := step["value"]; !ok {
		return false
	}
	label, _ := step["description"].(string)
	switch target := step["target"].(type) {
	case map[string]any:
		keys := make([]string, 0, len(target))
		for k := range target {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s, ok := target[k].(string); ok {
				label += " " + s
			}
		}
	case string:
		label += " " + target
	}
	return IsSensitiveLogField(label)
}

// FormatBodyForLog redacts then truncates body text for safe logging.
func FormatBodyForLog(contentType string, body []byte, maxBytes int, truncated bool) string {
	if len(body) == 0 {
		return ""
	}
	text := RedactBodyForLog(contentType, body)
	if maxBytes > 0 && len(text) > maxBytes {
		text = cutAtRune(text, maxBytes)
		truncated = true
	}
	if truncated {
		return text + " [truncated]"
	}
	return text
}

// TruncateForLog returns a single-line truncated preview for unstructured values.
// maxChars counts bytes; the cut never splits a UTF-8 sequence.
func TruncateForLog(value string, maxChars int) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	normalized := strings.ReplaceAll(trimmed, "\n", "\\n")
	if maxChars <= 0 || len(normalized) <= maxChars {
		return normalized
	}
	return cutAtRune(normalized, maxChars) + "... [truncated]"
}

// cutAtRune returns the longest prefix of s no longer than n bytes that ends
// on a rune boundary.
func cutAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

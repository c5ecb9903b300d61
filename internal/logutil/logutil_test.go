package logutil

import (
	"strings"
	"testing"
	"unicode/utf8"

	"pgregory.net/rapid"
)

func TestIsSensitiveLogField(t *testing.T) {
	t.Parallel()
	sensitive := []string{"password", "Confirm Password", "api_key", "X-Auth-Token", "client-secret", "session_cookie", "OTP code"}
	for _, key := range sensitive {
		if !IsSensitiveLogField(key) {
			t.Fatalf("expected %q to be sensitive", key)
		}
	}
	plain := []string{"email", "Full Name", "testid=onboarding-next", "search"}
	for _, key := range plain {
		if IsSensitiveLogField(key) {
			t.Fatalf("expected %q to be loggable", key)
		}
	}
}

func testRedactFillValue_NeverLeaksSensitiveValues(t *rapid.T) {
	value := rapid.StringMatching(`[A-Za-z0-9!@#]{1,40}`).Draw(t, "value")
	target := rapid.SampledFrom([]string{"password", "xpath=//form/div[3]/input[@name='password']", "role=textbox name=\"API Key\""}).Draw(t, "target")

	got := RedactFillValue(target, value)
	if got != redacted {
		t.Fatalf("sensitive value leaked: target=%q got=%q", target, got)
	}
}

func TestRedactFillValue_NeverLeaksSensitiveValues(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testRedactFillValue_NeverLeaksSensitiveValues)
}

func TestRedactFillValue_PlainFieldsArePreserved(t *testing.T) {
	t.Parallel()
	if got := RedactFillValue("email", "testuser@example.com"); got != "testuser@example.com" {
		t.Fatalf("unexpected redaction: %q", got)
	}
	if got := RedactFillValue("password", ""); got != "" {
		t.Fatalf("empty value must stay empty, got %q", got)
	}
}

func TestTruncateForLog(t *testing.T) {
	t.Parallel()
	if got := TruncateForLog("  line1\nline2  ", 0); got != `line1\nline2` {
		t.Fatalf("unexpected normalization: %q", got)
	}
	if got := TruncateForLog(strings.Repeat("a", 20), 5); got != "aaaaa... [truncated]" {
		t.Fatalf("unexpected truncation: %q", got)
	}
}

func TestTruncateForLog_KeepsRuneBoundaries(t *testing.T) {
	t.Parallel()
	// "é" is two bytes; a cut at byte 3 would split the second one.
	if got := TruncateForLog("ééé", 3); got != "é... [truncated]" {
		t.Fatalf("unexpected truncation: %q", got)
	}
}

// ============================================================================
// Property: truncated previews are always valid UTF-8
// ============================================================================

func testTruncateForLog_AlwaysValidUTF8(t *rapid.T) {
	value := rapid.String().Draw(t, "value")
	maxChars := rapid.IntRange(1, 64).Draw(t, "maxChars")

	got := TruncateForLog(value, maxChars)
	if !utf8.ValidString(value) {
		return
	}
	if !utf8.ValidString(got) {
		t.Fatalf("invalid UTF-8 preview %q from %q (max %d)", got, value, maxChars)
	}
	if body, ok := strings.CutSuffix(got, "... [truncated]"); ok && len(body) > maxChars {
		t.Fatalf("preview body %q exceeds %d bytes", body, maxChars)
	}
}

func TestTruncateForLog_AlwaysValidUTF8(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testTruncateForLog_AlwaysValidUTF8)
}

func FuzzTruncateForLog_AlwaysValidUTF8(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testTruncateForLog_AlwaysValidUTF8))
}

func TestRedactBodyForLog(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		contentType string
		body        string
		secret      string
		keep        string
	}{
		{
			name:        "sensitive key",
			contentType: "application/json",
			body:        `{"params":{"api_key":"k-12345","name":"run"}}`,
			secret:      "k-12345",
			keep:        `"name":"run"`,
		},
		{
			name:        "fill into password field",
			contentType: "application/json",
			body:        `{"steps":[{"action":"fill","target":{"role":"textbox","name":"Password"},"value":"Hunter2Secret"}]}`,
			secret:      "Hunter2Secret",
			keep:        `"action":"fill"`,
		},
		{
			name:        "fill described as a token",
			contentType: "application/json",
			body:        `{"action":"fill","target":{"css":"#f3"},"value":"tok-987","description":"paste access token"}`,
			secret:      "tok-987",
			keep:        "#f3",
		},
		{
			name:        "embedded scenario yaml",
			contentType: "application/json",
			body:        `{"arguments":{"yaml":"name: login\nsteps:\n  - action: fill\n    target: {test_id: otp-input}\n    value: \"424242\"\n"}}`,
			secret:      "424242",
			keep:        "login",
		},
		{
			name:        "event stream data line",
			contentType: "text/event-stream",
			body:        "event: message\ndata: {\"token\":\"s3cr3t\"}\n\n",
			secret:      "s3cr3t",
			keep:        "event: message",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RedactBodyForLog(tt.contentType, []byte(tt.body))
			if strings.Contains(got, tt.secret) {
				t.Fatalf("secret %q leaked: %s", tt.secret, got)
			}
			if !strings.Contains(got, tt.keep) {
				t.Fatalf("expected %q to survive redaction: %s", tt.keep, got)
			}
			if !strings.Contains(got, redacted) {
				t.Fatalf("expected redaction marker: %s", got)
			}
		})
	}
}

func TestRedactBodyForLog_PlainFillIsKept(t *testing.T) {
	t.Parallel()
	got := RedactBodyForLog("application/json", []byte(`{"action":"fill","target":{"role":"textbox","name":"Email"},"value":"a@example.test"}`))
	if !strings.Contains(got, "a@example.test") {
		t.Fatalf("plain fill value should be logged: %s", got)
	}
}

// ============================================================================
// Property: fills into sensitive fields never reach formatted bodies
// ============================================================================

func testFormatBodyForLog_NeverLeaksSecretFills(t *rapid.T) {
	secret := rapid.StringMatching(`[A-Za-z0-9]{12,24}`).Draw(t, "secret")
	name := rapid.SampledFrom([]string{"Password", "New password", "API Key", "One-time passcode"}).Draw(t, "name")
	padding := rapid.IntRange(0, 20000).Draw(t, "padding")
	maxBytes := rapid.SampledFrom([]int{0, 256, 8 * 1024}).Draw(t, "maxBytes")

	body := `{"pad":"` + strings.Repeat("x", padding) + `","steps":[{"action":"fill","target":{"role":"textbox","name":"` +
		name + `"},"value":"` + secret + `"}]}`
	got := FormatBodyForLog("application/json", []byte(body), maxBytes, false)
	if strings.Contains(got, secret) {
		t.Fatalf("secret leaked for field %q: %s", name, got)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("formatted body is not valid UTF-8")
	}
}

func TestFormatBodyForLog_NeverLeaksSecretFills(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testFormatBodyForLog_NeverLeaksSecretFills)
}

func FuzzFormatBodyForLog_NeverLeaksSecretFills(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testFormatBodyForLog_NeverLeaksSecretFills))
}

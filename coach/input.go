package coach

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxMessageLength bounds a single user message, in characters.
const MaxMessageLength = 3000

// ErrInvalidMessage is matched by every ValidateMessage failure.
var ErrInvalidMessage = errors.New("invalid message")

// ErrInvalidIdentity is matched by every ValidateIdentity failure.
var ErrInvalidIdentity = errors.New("invalid identity")

// ValidateIdentity checks the identity a thread starts with. An empty
// timezone is allowed and means DefaultTimezone.
func ValidateIdentity(identity Identity) error {
	if strings.TrimSpace(identity.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidIdentity)
	}
	if identity.Timezone != "" {
		if _, err := time.LoadLocation(identity.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalidIdentity, identity.Timezone)
		}
	}
	return nil
}

// ValidateMessage checks a message arriving from a client.
func ValidateMessage(role, content string) error {
	switch role {
	case "user", "assistant", "system":
	default:
		return fmt.Errorf("%w: role must be user, assistant or system", ErrInvalidMessage)
	}

	n := utf8.RuneCountInString(content)
	if n < 1 || n > MaxMessageLength {
		return fmt.Errorf("%w: content must be between 1 and %d characters", ErrInvalidMessage, MaxMessageLength)
	}
	if strings.ContainsRune(content, 0) {
		return fmt.Errorf("%w: content contains null bytes", ErrInvalidMessage)
	}
	if strings.Contains(strings.ToLower(content), "<script") {
		return fmt.Errorf("%w: content contains a script tag", ErrInvalidMessage)
	}
	return nil
}

// NormalizeInput turns raw external input into plain text.
//
// Clients send either plain text or a message payload: an object with a
// "content" or "text" string, or a list of content parts whose "text"
// members are joined. Line endings are normalized and surrounding space is
// trimmed.
func NormalizeInput(raw string) string {
	s := strings.TrimSpace(strings.ReplaceAll(raw, "\r\n", "\n"))
	if s == "" {
		return ""
	}

	switch s[0] {
	case '{':
		var obj map[string]interface{}
		if json.Unmarshal([]byte(s), &obj) == nil {
			if text, ok := textOf(obj); ok {
				return strings.TrimSpace(text)
			}
		}
	case '[':
		var parts []interface{}
		if json.Unmarshal([]byte(s), &parts) == nil {
			var texts []string
			for _, part := range parts {
				switch p := part.(type) {
				case string:
					texts = append(texts, p)
				case map[string]interface{}:
					if text, ok := textOf(p); ok {
						texts = append(texts, text)
					}
				}
			}
			if len(texts) > 0 {
				return strings.TrimSpace(strings.Join(texts, "\n"))
			}
		}
	}
	return s
}

func textOf(obj map[string]interface{}) (string, bool) {
	for _, key := range []string{"content", "text"} {
		if text, ok := obj[key].(string); ok {
			return text, true
		}
	}
	return "", false
}

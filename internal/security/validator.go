package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"conchat/internal/config"
)

// ErrInvalidInput is wrapped by every validation failure.
var ErrInvalidInput = errors.New("invalid input")

var (
	validDisplayName = regexp.MustCompile(`^[^\s\p{C}]+$`)
	validRoomName    = regexp.MustCompile(`^[^\p{C}]+$`)
	collapseSpace    = regexp.MustCompile(`[ \t]+`)
)

// InputValidator handles input validation and normalisation
type InputValidator struct {
	maxUsernameLength int
	maxRoomNameLength int
	maxMessageLength  int
}

// NewInputValidator creates a new input validator
func NewInputValidator(cfg *config.Config) *InputValidator {
	return &InputValidator{
		maxUsernameLength: cfg.MaxUsernameLength,
		maxRoomNameLength: cfg.MaxRoomNameLength,
		maxMessageLength:  cfg.MaxMessageLength,
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func tooLong(s string, max int) bool {
	return max > 0 && utf8.RuneCountInString(s) > max
}

// ValidateDisplayName validates a display name. Names are compared
// case-sensitively elsewhere, so the case is preserved.
func (v *InputValidator) ValidateDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)

	if name == "" {
		return "", invalid("display name cannot be empty")
	}
	if tooLong(name, v.maxUsernameLength) {
		return "", invalid("display name too long (max %d characters)", v.maxUsernameLength)
	}
	if !validDisplayName.MatchString(name) {
		return "", invalid("display name cannot contain spaces or control characters")
	}
	return name, nil
}

// ValidateRoomName validates a room name
func (v *InputValidator) ValidateRoomName(roomName string) (string, error) {
	roomName = strings.TrimSpace(roomName)

	if roomName == "" {
		return "", invalid("room name cannot be empty")
	}
	if tooLong(roomName, v.maxRoomNameLength) {
		return "", invalid("room name too long (max %d characters)", v.maxRoomNameLength)
	}
	if !validRoomName.MatchString(roomName) {
		return "", invalid("room name contains control characters")
	}
	return roomName, nil
}

// ValidateRoomKey validates a room key as typed by a user
func (v *InputValidator) ValidateRoomKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", invalid("room key cannot be empty")
	}
	return key, nil
}

// ValidateMessage validates chat text
func (v *InputValidator) ValidateMessage(message string) (string, error) {
	message = strings.TrimSpace(message)

	if message == "" {
		return "", invalid("message cannot be empty")
	}
	if tooLong(message, v.maxMessageLength) {
		return "", invalid("message too long (max %d characters)", v.maxMessageLength)
	}

	message = collapseSpace.ReplaceAllString(message, " ")

	if v.isSpamMessage(message) {
		return "", invalid("message appears to be spam")
	}
	return message, nil
}

// ValidateValue validates a free-form edit argument such as CSS text,
// replacement text or markup. Only emptiness and length are checked.
func (v *InputValidator) ValidateValue(what, value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", invalid("%s cannot be empty", what)
	}
	if tooLong(value, v.maxMessageLength) {
		return "", invalid("%s too long (max %d characters)", what, v.maxMessageLength)
	}
	return value, nil
}

// isSpamMessage checks if a message appears to be spam
func (v *InputValidator) isSpamMessage(message string) bool {
	if utf8.RuneCountInString(message) > 20 {
		charCount := make(map[rune]int)
		for _, char := range message {
			if char == ' ' {
				continue
			}
			charCount[char]++
			if charCount[char] > 10 && charCount[char]*2 > utf8.RuneCountInString(message) {
				return true
			}
		}
	}

	words := strings.Fields(message)
	if len(words) > 5 {
		wordCount := make(map[string]int)
		for _, word := range words {
			w := strings.ToLower(word)
			wordCount[w]++
			if wordCount[w] > 3 && wordCount[w]*2 > len(words) {
				return true
			}
		}
	}

	return false
}

package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxContentBytes = 4096 // 4KB max frame payload
	MaxContentChars = 2000 // max character count
	MaxMentions     = 20   // max mentioned users per message
)

// ValidateContent checks that message content meets the wire requirements.
// Violations are validation errors: the frame is rejected but the connection
// stays open.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("message content is empty")
	}
	if len(content) > MaxContentBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxContentBytes)
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return fmt.Errorf("message exceeds %d character limit", MaxContentChars)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}

// ValidateMentions bounds the mention list and rejects empty entries.
func ValidateMentions(mentioned []string) error {
	if len(mentioned) > MaxMentions {
		return fmt.Errorf("too many mentioned users (max %d)", MaxMentions)
	}
	for _, uid := range mentioned {
		if uid == "" {
			return fmt.Errorf("mentioned user id is empty")
		}
	}
	return nil
}

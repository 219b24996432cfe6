package types

import "regexp"

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID matches the auth collaborator's id format: 1-50 chars,
// alphanumeric plus underscore/hyphen.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidModality reports whether m is one of the three matching pools.
func IsValidModality(m Modality) bool {
	switch m {
	case ModalityVideo, ModalityAudio, ModalityText:
		return true
	default:
		return false
	}
}

// ValidateChatText enforces the chat:message length bound.
func ValidateChatText(text string) error {
	if len(text) == 0 {
		return ErrValidation
	}
	if len(text) > 1000 {
		return ErrValidation
	}
	return nil
}

// ValidateReportReason enforces a non-empty reason on report:user.
func ValidateReportReason(reason string) error {
	if len(reason) == 0 || len(reason) > 500 {
		return ErrValidation
	}
	return nil
}

package services

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 20
	minPasswordLength = 6
	maxSignatureRunes = 500

	minMCUsernameLength = 3
	maxMCUsernameLength = 16
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	mcUUIDPattern   = regexp.MustCompile(`(?i)^[0-9a-f]{8}-?[0-9a-f]{4}-?[0-9a-f]{4}-?[0-9a-f]{4}-?[0-9a-f]{12}$`)
)

func validUsername(username string) bool {
	return len(username) >= minUsernameLength &&
		len(username) <= maxUsernameLength &&
		usernamePattern.MatchString(username)
}

func validMCUsername(username string) bool {
	return len(username) >= minMCUsernameLength &&
		len(username) <= maxMCUsernameLength &&
		usernamePattern.MatchString(username)
}

// NormalizeMCUUID validates a Minecraft UUID with or without dashes and
// returns it lower-cased in dashed form.
func NormalizeMCUUID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if !mcUUIDPattern.MatchString(raw) {
		return "", false
	}
	hex := strings.ToLower(strings.ReplaceAll(raw, "-", ""))
	if len(hex) != 32 {
		return "", false
	}
	return hex[0:8] + "-" + hex[8:12] + "-" + hex[12:16] + "-" + hex[16:20] + "-" + hex[20:32], true
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalid("Invalid email address")
	}
	return email, nil
}

func validSignature(signature string) bool {
	return utf8.RuneCountInString(signature) <= maxSignatureRunes
}

func validVisibility(value string) bool {
	switch value {
	case "public", "friends", "private":
		return true
	}
	return false
}

package identity

import (
	"fmt"
	"strings"

	"github.com/conneroisu/hotswap/internal/errors"
)

const (
	maxBundleNameLength = 200
	maxPlatformLength   = 64
)

// ValidateBundleName rejects bundle entries that could escape the project
// root or smuggle markup into a pool key.
func ValidateBundleName(name string) error {
	if name == "" {
		return errors.NewValidationError(errors.ErrCodeValidationFailed, "empty bundle name")
	}
	if len(name) > maxBundleNameLength {
		return errors.NewValidationError(errors.ErrCodeValidationFailed, "bundle name too long")
	}
	if strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return errors.NewValidationError(errors.ErrCodeValidationFailed, "absolute path not allowed")
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return errors.NewValidationError(errors.ErrCodeValidationFailed, "invalid path segment")
		}
	}
	if strings.ContainsAny(name, "<>\"'&;|$`{}()[]?# ") {
		return errors.NewValidationError(errors.ErrCodeValidationFailed, "dangerous character not allowed")
	}
	return nil
}

// ValidatePlatform accepts platform names made of letters, digits, dots,
// dashes and underscores.
func ValidatePlatform(platform string) error {
	if platform == "" {
		return errors.NewValidationError(errors.ErrCodeValidationFailed, "empty platform")
	}
	if len(platform) > maxPlatformLength {
		return errors.NewValidationError(errors.ErrCodeValidationFailed, "platform name too long")
	}
	for _, r := range platform {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return errors.NewValidationError(errors.ErrCodeValidationFailed,
				fmt.Sprintf("platform %q contains invalid character %q", platform, r))
		}
	}
	if strings.Contains(platform, "..") {
		return errors.NewValidationError(errors.ErrCodeValidationFailed, "invalid platform "+platform)
	}
	return nil
}

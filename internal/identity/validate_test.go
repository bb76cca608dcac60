package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conneroisu/hotswap/internal/errors"
)

func TestValidateBundleName(t *testing.T) {
	for _, name := range []string{"index", "apps/main", "index.ios"} {
		assert.NoError(t, ValidateBundleName(name), name)
	}
	for _, name := range []string{"", "/abs", "a/../b", "a//b", "a\\b", "x;rm", "<script>", "a b", strings.Repeat("a", 300)} {
		err := ValidateBundleName(name)
		assert.Error(t, err, name)
		assert.True(t, errors.HasErrorCode(err, errors.ErrCodeValidationFailed), name)
	}
}

func TestValidatePlatform(t *testing.T) {
	for _, platform := range []string{"ios", "android", "web", "macos-arm64", "tv_os", "visionos.1"} {
		assert.NoError(t, ValidatePlatform(platform), platform)
	}
	for _, platform := range []string{"", "../ios", "ios/..", "<script>alert(1)</script>", "junk ${}", "ios;rm", strings.Repeat("x", 65)} {
		err := ValidatePlatform(platform)
		assert.Error(t, err, platform)
		assert.True(t, errors.HasErrorType(err, errors.ErrorTypeValidation), platform)
	}
}

package cmd

import (
	"fmt"
	"strings"

	"github.com/conneroisu/hotswap/internal/identity"
)

// validateArgument checks a bundle entry or platform name given on the
// command line before it is placed in a URL or a pool key.
func validateArgument(kind, arg string) error {
	if arg == "" {
		return fmt.Errorf("%s must not be empty", kind)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "{", "}", "[", "]", "<", ">", "\"", "'", "\\", "?", "#", " "}
	for _, char := range dangerousChars {
		if strings.Contains(arg, char) {
			return fmt.Errorf("%s %q contains dangerous character: %s", kind, arg, char)
		}
	}

	if strings.Contains(arg, "..") {
		return fmt.Errorf("%s %q: path traversal attempt detected", kind, arg)
	}
	if strings.HasPrefix(arg, "/") {
		return fmt.Errorf("%s %q must be relative", kind, arg)
	}

	switch kind {
	case "bundle":
		return identity.ValidateBundleName(arg)
	case "platform":
		return identity.ValidatePlatform(arg)
	}
	return nil
}

// validateArguments validates kind/value pairs in order.
func validateArguments(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if err := validateArgument(pairs[i], pairs[i+1]); err != nil {
			return err
		}
	}
	return nil
}

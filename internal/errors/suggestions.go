package errors

import (
	"fmt"
	"strings"
)

// ErrorSuggestion represents a suggestion for fixing an error
type ErrorSuggestion struct {
	Title       string
	Description string
	Command     string
	Example     string
}

// ServerStartError generates suggestions for server startup failures
func ServerStartError(err error, port int) []ErrorSuggestion {
	var suggestions []ErrorSuggestion

	errStr := err.Error()

	if strings.Contains(errStr, "address already in use") || strings.Contains(errStr, "bind") {
		suggestions = append(suggestions,
			ErrorSuggestion{
				Title:       "Port already in use",
				Description: fmt.Sprintf("Port %d is already being used by another process", port),
				Command:     fmt.Sprintf("lsof -i :%d", port),
			},
			ErrorSuggestion{
				Title:       "Use a different port",
				Description: "Start the server on a different port",
				Command:     fmt.Sprintf("hotswap serve --port %d", port+1),
			},
		)
	}

	if strings.Contains(errStr, "permission denied") && port < 1024 {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Use unprivileged port",
			Description: "Ports below 1024 require root privileges",
			Command:     "hotswap serve --port 8081",
		})
	}

	return suggestions
}

// ConfigurationError generates suggestions for configuration issues
func ConfigurationError(configError string, configPath string) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{
		{
			Title:       "Check configuration file",
			Description: "Verify your configuration file exists and has valid syntax",
			Command:     "cat " + configPath,
		},
	}

	if strings.Contains(configError, "yaml") || strings.Contains(configError, "unmarshal") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Fix YAML syntax",
			Description: "There's a syntax error in your YAML configuration",
			Example:     "Use proper indentation and avoid tabs",
		})
	}

	return suggestions
}

// ConnectError generates suggestions for a client that cannot reach a dev
// server or load its bundle.
func ConnectError(err error, server string) []ErrorSuggestion {
	errStr := err.Error()

	var suggestions []ErrorSuggestion
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Start the dev server",
			Description: fmt.Sprintf("Nothing is listening at %s", server),
			Command:     "hotswap serve",
		})
	}
	if strings.Contains(errStr, "404") || strings.Contains(errStr, "Not Found") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Check the bundle entry",
			Description: "Bundles are served at /<entry>.bundle relative to the project root",
			Example:     "hotswap connect --bundle index",
		})
	}
	if strings.Contains(errStr, "500") || strings.Contains(errStr, ErrCodeBundleUnavailable) {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Fix the build",
			Description: "The server is running but the bundle failed to build; see the server log",
			Command:     "hotswap serve --log-level debug",
		})
	}
	return suggestions
}

// FormatSuggestions formats suggestions into a user-friendly string
func FormatSuggestions(title string, suggestions []ErrorSuggestion) string {
	if len(suggestions) == 0 {
		return title
	}

	var output strings.Builder
	output.WriteString(title + "\n\nSuggestions:\n")

	for i, suggestion := range suggestions {
		output.WriteString(fmt.Sprintf("  %d. %s\n", i+1, suggestion.Title))
		if suggestion.Description != "" {
			output.WriteString(fmt.Sprintf("     %s\n", suggestion.Description))
		}
		if suggestion.Command != "" {
			output.WriteString(fmt.Sprintf("     Run: %s\n", suggestion.Command))
		}
		if suggestion.Example != "" {
			output.WriteString(fmt.Sprintf("     Example: %s\n", suggestion.Example))
		}
	}

	return output.String()
}

// EnhancedError wraps an error with suggestions
type EnhancedError struct {
	OriginalError error
	Title         string
	Suggestions   []ErrorSuggestion
}

// Error implements the error interface
func (e *EnhancedError) Error() string {
	msg := FormatSuggestions(e.Title, e.Suggestions)
	if e.OriginalError != nil && len(e.Suggestions) == 0 {
		msg += ": " + e.OriginalError.Error()
	}
	return msg
}

// Unwrap returns the original error
func (e *EnhancedError) Unwrap() error {
	return e.OriginalError
}

// NewEnhancedError creates a new enhanced error with suggestions
func NewEnhancedError(title string, originalError error, suggestions []ErrorSuggestion) *EnhancedError {
	return &EnhancedError{
		OriginalError: originalError,
		Title:         title,
		Suggestions:   suggestions,
	}
}

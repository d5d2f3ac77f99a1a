package entrypoint

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

// ErrMissingSecret aborts the container start: the gateway must not come up
// unauthenticated.
var ErrMissingSecret = errors.New("required secret is not set")

// RequireSecret returns the value of the environment variable name, or the
// trimmed contents of the file named by name_FILE (the Docker secrets
// convention). An empty value counts as missing.
func RequireSecret(name string, getenv func(string) string) (string, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	if value := getenv(name); value != "" {
		return value, nil
	}

	if path := getenv(name + "_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s_FILE: %w", name, err)
		}
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) == 0 {
			return "", fmt.Errorf("%s_FILE %s is empty: %w", name, path, ErrMissingSecret)
		}
		return string(trimmed), nil
	}

	return "", fmt.Errorf("%s: %w", name, ErrMissingSecret)
}

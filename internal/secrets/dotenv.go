// Package secrets bootstraps process configuration from dotenv files.
package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Loader retrieves a key-value snapshot from a secret source.
type Loader func() (map[string]string, error)

// DotenvLoader returns a Loader that reads KEY=VALUE pairs from the given
// file. Blank lines and lines starting with # are ignored; values may be
// wrapped in single or double quotes. A missing file yields an empty map.
func DotenvLoader(path string) Loader {
	return func() (map[string]string, error) {
		f, err := os.Open(path) //nolint:gosec // G304: path comes from the operator
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return map[string]string{}, nil
			}
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close() //nolint:errcheck

		vals := make(map[string]string)
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
			value = strings.TrimSpace(value)
			if len(value) >= 2 {
				if (value[0] == '"' && value[len(value)-1] == '"') ||
					(value[0] == '\'' && value[len(value)-1] == '\'') {
					value = value[1 : len(value)-1]
				}
			}
			if key != "" {
				vals[key] = value
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return vals, nil
	}
}

// Bootstrap loads the given dotenv file into the process environment.
// Variables already present in the environment are never overwritten, so
// real env vars keep precedence over file contents.
func Bootstrap(path string) error {
	vals, err := DotenvLoader(path)()
	if err != nil {
		return err
	}
	for k, v := range vals {
		if _, exists := os.LookupEnv(k); !exists {
			if err := os.Setenv(k, v); err != nil {
				return fmt.Errorf("set %s: %w", k, err)
			}
		}
	}
	return nil
}

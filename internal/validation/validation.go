// Package validation provides input checks shared by configuration loading
// and request resolution: filesystem paths, allowed origins, document
// extensions and request names that try to climb out of the content root.
package validation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

var pathDangerousChars = []string{";", "&", "|", "$", "`", "<", ">", "\""}

var originDangerousChars = []string{";", "&", "|", "`", "$", "(", ")", "<", ">", "\"", "'", "\\", "\n", "\r", " "}

// ValidatePath rejects empty paths and paths carrying shell metacharacters.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("path contains a null byte")
	}
	for _, char := range pathDangerousChars {
		if strings.Contains(path, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}
	return nil
}

// ValidateOrigin checks one entry of an allowed origins list. Entries are
// either full origins ("https://blog.example.com:8443") or bare hosts
// ("blog.example.com").
func ValidateOrigin(origin string) error {
	if origin == "" {
		return fmt.Errorf("origin cannot be empty")
	}
	for _, char := range originDangerousChars {
		if strings.Contains(origin, char) {
			return fmt.Errorf("origin contains dangerous character: %q", char)
		}
	}

	if !strings.Contains(origin, "://") {
		if strings.Contains(origin, "/") {
			return fmt.Errorf("host %q must not contain a path", origin)
		}
		return nil
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid origin scheme: %s (only http/https allowed)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("origin must have a host")
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return fmt.Errorf("origin %q must not contain a path", origin)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" || parsed.User != nil {
		return fmt.Errorf("origin %q must only carry scheme, host and port", origin)
	}
	return nil
}

// ValidateExtension checks a document extension such as ".md".
func ValidateExtension(ext string) error {
	if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
		return fmt.Errorf("extension %q must start with a dot", ext)
	}
	if strings.ContainsAny(ext[1:], `./\`) {
		return fmt.Errorf("extension %q must be a single suffix", ext)
	}
	return nil
}

// EscapesRoot reports whether a slash separated request name has a ".."
// segment. Backslashes count as separators.
func EscapesRoot(name string) bool {
	for _, seg := range strings.Split(strings.ReplaceAll(name, `\`, "/"), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// Within reports whether path is dir itself or lies beneath it. Both must be
// cleaned absolute paths.
func Within(dir, path string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}

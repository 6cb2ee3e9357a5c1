package bundle

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// versionPattern accepts dotted versions with two to four numeric parts
var versionPattern = regexp.MustCompile(`^\d+(\.\d+){1,3}$`)

// statusByName maps squashed status texts ("notfound") to codes
var statusByName = func() map[string]int {
	names := make(map[string]int)
	for code := 100; code < 600; code++ {
		if text := http.StatusText(code); text != "" {
			names[squash(text)] = code
		}
	}
	return names
}()

// squash lower-cases s and drops everything but letters and digits
func squash(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(unicode.ToLower(r))
		}
	}
	return sb.String()
}

// ParseStatus accepts a known numeric status code or its name such as
// "NotFound" or "Not Found". An empty value means 200.
func ParseStatus(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return http.StatusOK, nil
	}

	if code, err := strconv.Atoi(s); err == nil {
		if http.StatusText(code) == "" {
			return 0, fmt.Errorf("unknown status code %d", code)
		}
		return code, nil
	}

	if code, ok := statusByName[squash(s)]; ok {
		return code, nil
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// ValidateVersion checks a dotted version string such as "1.0" or "2.3.1"
func ValidateVersion(v string) error {
	if !versionPattern.MatchString(v) {
		return fmt.Errorf("invalid version %q", v)
	}
	return nil
}

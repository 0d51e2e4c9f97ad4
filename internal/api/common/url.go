package common

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
)

// PathParam returns the named chi URL parameter, percent-decoded and with
// surrounding whitespace trimmed. Inner spaces are kept; a value that is
// blank or contains control characters is rejected.
func PathParam(r *http.Request, name string) (string, error) {
	decoded, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil {
		return "", fmt.Errorf("invalid URL encoding in %s", name)
	}

	value := strings.TrimSpace(decoded)
	if value == "" {
		return "", fmt.Errorf("%s cannot be empty", name)
	}
	if strings.IndexFunc(value, unicode.IsControl) >= 0 {
		return "", fmt.Errorf("%s cannot contain control characters", name)
	}
	return value, nil
}

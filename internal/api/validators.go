package api

import (
	"net/http"
	"strings"

	"github.com/ernie/whitelister/internal/domain"
)

// parseSpaceQuery reads the optional ?space= filter. Empty means all.
func parseSpaceQuery(r *http.Request) (domain.Space, bool) {
	s := r.URL.Query().Get("space")
	if s == "" || strings.EqualFold(s, "all") {
		return "", true
	}
	space, err := domain.ParseSpace(s)
	if err != nil {
		return "", false
	}
	return space, true
}

// parseSpacePath parses a space from the URL path
func parseSpacePath(r *http.Request, param string) (domain.Space, error) {
	return domain.ParseSpace(r.PathValue(param))
}

// validateAddRequest checks the fields required for the requested kind
func validateAddRequest(body AddMemberRequest) (domain.Space, string) {
	space, err := domain.ParseSpace(body.Kind)
	if err != nil {
		return "", "kind must be java or bedrock"
	}
	if strings.TrimSpace(body.Username) == "" {
		return "", "username is required"
	}
	if space == domain.SpaceBedrock && strings.TrimSpace(body.XUID) == "" {
		return "", "xuid is required for bedrock members"
	}
	return space, ""
}

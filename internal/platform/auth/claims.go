package auth

import (
	"net/http"
	"strings"
)

// rolesFromClaims accepts the three shapes custom role claims take in practice:
// a single string, a list of strings, or a map of role name to bool.
func rolesFromClaims(claims map[string]any, key string) []string {
	var candidates []string
	switch v := claims[key].(type) {
	case string:
		candidates = []string{v}
	case []string:
		candidates = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				candidates = append(candidates, s)
			}
		}
	case map[string]any:
		for name, enabled := range v {
			if on, ok := enabled.(bool); ok && on {
				candidates = append(candidates, name)
			}
		}
	}
	return dedupeRoles(candidates)
}

// staffFlags picks up legacy boolean claims such as {"staff": true}.
func staffFlags(claims map[string]any) []string {
	var roles []string
	for _, role := range []string{RoleStaff, RoleAdmin} {
		if on, ok := claims[role].(bool); ok && on {
			roles = append(roles, role)
		}
	}
	return roles
}

func dedupeRoles(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		role := normaliseRole(value)
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func stringClaim(claims map[string]any, key string) string {
	if s, ok := claims[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// audienceClaim normalises the "aud" claim, which may be a string or a list.
func audienceClaim(claims map[string]any) []string {
	switch v := claims["aud"].(type) {
	case string:
		return nonEmpty([]string{v})
	case []string:
		return nonEmpty(v)
	case []any:
		values := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
		return nonEmpty(values)
	}
	return nil
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

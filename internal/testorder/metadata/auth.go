package metadata

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/samber/lo"

	catdomain "github.com/apiforge-labs/testorder-backend/internal/catalogue/domain"
)

// Words that name a sign-in. They count for POST, and for GET only in the
// operation id.
var loginWords = map[string]struct{}{
	"login":          {},
	"signin":         {},
	"logon":          {},
	"authenticate":   {},
	"authentication": {},
}

// Credential nouns. Only a POST issues one; GET and DELETE on them manage
// existing credentials.
var credentialWords = map[string]struct{}{
	"token":  {},
	"tokens": {},
	"oauth":  {},
	"oauth2": {},
	"jwt":    {},
}

// Words that only count for POST operations ("/auth/me" is not a login).
var weakAuthWords = map[string]struct{}{
	"auth":      {},
	"session":   {},
	"sessions":  {},
	"authorize": {},
}

// Operations that mention auth but never issue credentials.
var antiAuthWords = map[string]struct{}{
	"logout":     {},
	"signout":    {},
	"logoff":     {},
	"revoke":     {},
	"register":   {},
	"signup":     {},
	"introspect": {},
	"password":   {},
}

var authWordPairs = [][2]string{
	{"log", "in"},
	{"sign", "in"},
	{"log", "on"},
}

var antiAuthWordPairs = [][2]string{
	{"log", "out"},
	{"sign", "out"},
	{"sign", "up"},
}

var tokenProperties = []string{
	"accesstoken", "access_token", "idtoken", "id_token", "jwt", "token", "refreshtoken", "refresh_token", "bearertoken",
}

// IsAuthRelated decides whether an endpoint issues or establishes
// credentials. False negatives are acceptable, false positives should be rare.
func IsAuthRelated(detail catdomain.EndpointDetail) bool {
	method := strings.ToUpper(detail.Endpoint.HTTPMethod)
	words := append(tokenize(detail.Endpoint.Path), tokenize(detail.Endpoint.OperationID)...)

	if containsAny(words, antiAuthWords) || containsPair(words, antiAuthWordPairs) {
		return false
	}

	switch method {
	case http.MethodPost:
	case http.MethodGet:
		ops := tokenize(detail.Endpoint.OperationID)
		return containsAny(ops, loginWords) || containsPair(ops, authWordPairs)
	default:
		return false
	}

	if containsAny(words, loginWords) || containsPair(words, authWordPairs) {
		return true
	}
	if containsAny(words, credentialWords) || containsAny(words, weakAuthWords) {
		return true
	}
	return issuesToken(detail.Responses)
}

func issuesToken(responses []catdomain.Response) bool {
	for _, resp := range responses {
		if !isSuccess(resp.StatusCode) {
			continue
		}
		props := propertyNames(resp.Schema)
		if lo.SomeBy(tokenProperties, func(p string) bool {
			_, ok := props[p]
			return ok
		}) {
			return true
		}
	}
	return false
}

// tokenize splits a path or operation id into lower-case words on
// separators and camelCase boundaries. Path parameters are dropped.
func tokenize(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	inParam := false
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '{':
			flush()
			inParam = true
		case r == '}':
			inParam = false
		case inParam:
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && len(cur) > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					flush()
				}
			}
			cur = append(cur, r)
		default:
			flush()
		}
	}
	flush()
	return words
}

func containsAny(words []string, set map[string]struct{}) bool {
	for _, w := range words {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

func containsPair(words []string, pairs [][2]string) bool {
	for i := 0; i+1 < len(words); i++ {
		for _, p := range pairs {
			if words[i] == p[0] && words[i+1] == p[1] {
				return true
			}
		}
	}
	return false
}

// isSuccess treats 2xx and the "default" response (0) as success.
func isSuccess(code int) bool {
	return code == 0 || (code >= 200 && code < 300)
}

package calendar

import (
	"errors"
	"strings"
)

// ErrNoCookie is returned when a curl command carries no Cookie header.
var ErrNoCookie = errors.New("cookie not found in curl string")

// CookieFromCurl extracts the session cookie from a curl command copied out
// of a browser's developer tools. The cookie is the two space separated
// tokens that follow the literal 'Cookie: header marker.
func CookieFromCurl(curl string) (string, error) {
	tokens := strings.Split(curl, " ")
	k := -1
	for i, tok := range tokens {
		if tok == "'Cookie:" {
			k = i
			break
		}
	}
	if k <= 0 || k+1 >= len(tokens) {
		return "", ErrNoCookie
	}

	end := k + 3
	if end > len(tokens) {
		end = len(tokens)
	}
	cookie := strings.Join(tokens[k+1:end], " ")
	cookie = strings.TrimSuffix(strings.TrimSpace(cookie), "'")
	if cookie == "" {
		return "", ErrNoCookie
	}
	return cookie, nil
}

package generation

import (
	"encoding/json"
	"errors"
	"strings"
)

var errNoJSON = errors.New("no JSON object found")

// ExtractJSON returns the JSON document in s. Models sometimes wrap the
// document in a markdown fence despite JSON mode; the first ```json fence wins,
// then the first plain ``` fence.
func ExtractJSON(s string) (json.RawMessage, error) {
	s = strings.TrimSpace(s)
	if json.Valid([]byte(s)) {
		return json.RawMessage(s), nil
	}

	for _, open := range []string{"```json", "```"} {
		body, ok := fenced(s, open)
		if !ok {
			continue
		}
		body = strings.TrimSpace(body)
		if json.Valid([]byte(body)) {
			return json.RawMessage(body), nil
		}
	}
	return nil, errNoJSON
}

func fenced(s, open string) (string, bool) {
	_, rest, ok := strings.Cut(s, open)
	if !ok {
		return "", false
	}
	body, _, ok := strings.Cut(rest, "```")
	if !ok {
		return "", false
	}
	return body, true
}

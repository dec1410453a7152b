package httpcheck

import (
	"net/http"
	"regexp"
	"strings"
)

// QuirkRule recognises a server that answers HEAD wrongly and names the
// method to retry with.
type QuirkRule struct {
	Name   string
	Match  func(out *Outcome) bool
	Method string
}

var netscapeEnterprise = regexp.MustCompile(`Netscape-Enterprise/`)

// DefaultQuirks are the known servers that need a GET to answer correctly.
var DefaultQuirks = []QuirkRule{
	{
		// No HEAD implemented, answers with an error status.
		Name: "netscape-enterprise",
		Match: func(out *Outcome) bool {
			return out.StatusCode >= http.StatusBadRequest &&
				netscapeEnterprise.MatchString(out.Header.Get("Server"))
		},
		Method: http.MethodGet,
	},
	{
		// Has to render the page to know its content type.
		Name: "zope",
		Match: func(out *Outcome) bool {
			if out.StatusCode >= http.StatusBadRequest || out.MediaType() != "application/octet-stream" {
				return false
			}
			return strings.HasPrefix(out.Header.Get("X-Powered-By"), "Zope") ||
				strings.HasPrefix(out.Header.Get("Server"), "Zope")
		},
		Method: http.MethodGet,
	},
}

func matchQuirk(rules []QuirkRule, out *Outcome) (QuirkRule, bool) {
	for _, r := range rules {
		if r.Match(out) {
			return r, true
		}
	}
	return QuirkRule{}, false
}

// Package httpapi implements the ten core HTTP endpoints of spec.md §6: AP
// content negotiation, the shared and per-user inbox, actor/note lookup,
// outbox/followers/following pagination, WebFinger and NodeInfo. Grounded
// on gnp-x-stegodon/web/router.go's gin wiring (gzip, per-IP rate limiting,
// a max-body-size guard on inbox routes) with the handler bodies rebuilt
// against internal/inbox, internal/resolve, internal/follow, internal/store
// and internal/pagination instead of the teacher's direct SQL/HTML-template
// calls, since C2S and the HTML web client are outside this server's scope.
package httpapi

import (
	"strings"
)

// activityJSONContentType is the media type this server emits for every AP
// object and activity response.
const activityJSONContentType = "application/activity+json; charset=utf-8"

// wantsActivityJSON reports whether the request's Accept header asks for an
// ActivityPub JSON representation, per spec.md §6's content-negotiation
// rule: "application/activity+json" or "application/ld+json" carrying the
// activitystreams profile. Anything else is treated as a browser-style
// request, which this server has no HTML view for and answers with 404 —
// the teacher's embedded-template web UI (gnp-x-stegodon/web/ui.go) is not
// part of this federation core; the SSH operator console is its read
// surface (see internal/operator).
func wantsActivityJSON(acceptHeader string) bool {
	for _, part := range strings.Split(acceptHeader, ",") {
		mediaType := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		switch {
		case mediaType == "application/activity+json":
			return true
		case mediaType == "application/ld+json" && strings.Contains(part, "activitystreams"):
			return true
		}
	}
	return false
}

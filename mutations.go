package posoffline

import (
	"regexp"
	"strings"
)

// Mutation is a write the queue knows how to replay safely. Only registered
// mutations may be enqueued: the server must deduplicate them by Idempotency-Key.
type Mutation struct {
	Method  string
	Pattern *regexp.Regexp
	Kind    string
}

const (
	KindOrderCreate    = "order.create"
	KindOrderUpdate    = "order.update"
	KindOrderCancel    = "order.cancel"
	KindDraftSave      = "draft.save"
	KindDraftUpdate    = "draft.update"
	KindDraftDelete    = "draft.delete"
	KindCustomerCreate = "customer.create"
)

var defaultMutations = []Mutation{
	{"POST", regexp.MustCompile(`^orders$`), KindOrderCreate},
	{"PATCH", regexp.MustCompile(`^orders/[^/]+$`), KindOrderUpdate},
	{"POST", regexp.MustCompile(`^orders/[^/]+/cancel$`), KindOrderCancel},
	{"POST", regexp.MustCompile(`^drafts$`), KindDraftSave},
	{"PUT", regexp.MustCompile(`^drafts/[^/]+$`), KindDraftUpdate},
	{"DELETE", regexp.MustCompile(`^drafts/[^/]+$`), KindDraftDelete},
	{"POST", regexp.MustCompile(`^customers$`), KindCustomerCreate},
}

func matchMutation(registry []Mutation, method, endpoint string) (Mutation, bool) {
	path := normalizeResource(endpoint)
	for _, m := range registry {
		if method == m.Method && m.Pattern.MatchString(path) {
			return m, true
		}
	}
	return Mutation{}, false
}

// streamOf returns the endpoint family an action belongs to. Actions in the
// same stream are replayed strictly in enqueue order and never in parallel.
func streamOf(endpoint string) string {
	path := normalizeResource(endpoint)
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

// regexpMustCompileAnchored compiles a registry pattern matched against the
// normalized endpoint (no leading slash, no "api/" prefix).
func regexpMustCompileAnchored(pattern string) *regexp.Regexp {
	p := strings.TrimPrefix(pattern, "^")
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, "$")
	return regexp.MustCompile("^" + p + "$")
}

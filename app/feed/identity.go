package feed

import (
	"hash/fnv"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

const (
	syntheticTitlePrefix = 32
	syntheticHashBound   = 100_000_000
)

// identifierParams are query parameters known to carry a notice identifier,
// in priority order. PLACSP links carry both uri=deeplink:<view> and
// idEvl=<notice>, so idEvl is looked at first.
var identifierParams = []string{"id", "idEvl", "uri", "ref"}

// routingPrefixes mark parameter values that name a view rather than a notice.
var routingPrefixes = []string{"deeplink:"}

var alphanumericRun = regexp.MustCompile(`[A-Za-z0-9]{6,}`)

// DeriveID returns a stable external identifier of at most 120 runes, never
// empty. Records without a link get a synthetic id from a title prefix and a
// non-cryptographic hash of title+summary, so identical content maps to the
// same id across runs.
func DeriveID(link, title, summary string) string {
	link = strings.TrimSpace(link)
	if link != "" {
		return truncateRunes(linkIdentifier(link), MaxExternalIDLength)
	}

	h := fnv.New64a()
	h.Write([]byte(title + summary))
	suffix := strconv.FormatUint(h.Sum64()%syntheticHashBound, 10)

	return truncateRunes(strings.TrimSpace(title), syntheticTitlePrefix) + suffix
}

func linkIdentifier(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}

	query := u.Query()
	for _, param := range identifierParams {
		if v := strings.TrimSpace(query.Get(param)); v != "" && !isRoutingValue(v) {
			return v
		}
	}

	keys := make([]string, 0, len(query))
	for key := range query {
		if strings.HasSuffix(strings.ToLower(key), "id") {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	for _, key := range keys {
		if v := strings.TrimSpace(query.Get(key)); v != "" && !isRoutingValue(v) {
			return v
		}
	}

	// The host is shared by every notice of a source, so only the path and
	// query are searched for an identifier-like token.
	for _, token := range alphanumericRun.FindAllString(u.EscapedPath()+"?"+u.RawQuery, -1) {
		if strings.IndexFunc(token, unicode.IsDigit) >= 0 {
			return token
		}
	}

	return link
}

func isRoutingValue(v string) bool {
	lower := strings.ToLower(v)
	for _, prefix := range routingPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

package revalcache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Key fingerprints an idempotent request. Only headers named in vary contribute, so the
// Authorization header never leaks into the key unless explicitly asked for.
func Key(method, rawURL string, header http.Header, vary []string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{'\n'})
	h.Write([]byte(normalizeURL(rawURL)))
	h.Write([]byte{'\n'})

	names := make([]string, 0, len(vary))
	seen := make(map[string]struct{}, len(vary))
	for _, name := range vary {
		canonical := http.CanonicalHeaderKey(strings.TrimSpace(name))
		if canonical == "" {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		names = append(names, canonical)
	}
	sort.Strings(names)
	for _, name := range names {
		values := append([]string(nil), header.Values(name)...)
		sort.Strings(values)
		h.Write([]byte(name))
		h.Write([]byte{':'})
		h.Write([]byte(strings.Join(values, ",")))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeURL lowercases scheme and host, drops the fragment and sorts the query.
// Unparseable input is used verbatim.
func normalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	query := u.Query()
	for k := range query {
		sort.Strings(query[k])
	}
	// url.Values.Encode sorts by key.
	u.RawQuery = query.Encode()
	return u.String()
}

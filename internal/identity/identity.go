// Package identity derives the canonical key for a two-party chat thread.
package identity

import (
	"errors"
	"sort"
	"strings"
)

// Separator joins the two escaped participant ids in a thread key.
const Separator = "_"

var ErrInvalidUserID = errors.New("invalid user id")

var (
	escaper   = strings.NewReplacer("%", "%25", "_", "%5F", "/", "%2F")
	unescaper = strings.NewReplacer("%5F", "_", "%2F", "/", "%25", "%")
)

// ThreadKey returns the same key for (a, b) and (b, a). Ids are sorted as
// given and escaped so that neither the separator nor a path slash can
// appear inside a component; distinct unordered pairs never collide.
// Ids without those characters produce the plain "a_b" form.
func ThreadKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return escaper.Replace(pair[0]) + Separator + escaper.Replace(pair[1])
}

// Participants reverses ThreadKey.
func Participants(key string) (a, b string, ok bool) {
	left, right, found := strings.Cut(key, Separator)
	if !found || strings.Contains(right, Separator) {
		return "", "", false
	}
	return unescaper.Replace(left), unescaper.Replace(right), true
}

// Peer returns the other participant of key, or ok=false when self is not
// one of them.
func Peer(key, self string) (string, bool) {
	a, b, ok := Participants(key)
	switch {
	case !ok:
		return "", false
	case a == self:
		return b, true
	case b == self:
		return a, true
	}
	return "", false
}

// Validate rejects ids that cannot name a document.
func Validate(userID string) error {
	if strings.TrimSpace(userID) == "" || strings.Contains(userID, "/") {
		return ErrInvalidUserID
	}
	return nil
}

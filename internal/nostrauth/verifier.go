// Package nostrauth verifies signed Nostr authentication events used as
// proof of key possession for HTTP requests and logins (NIP-98 style).
package nostrauth

import (
	"errors"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// KindHTTPAuth is the event kind discriminator for HTTP authentication
// events, per NIP-98.
const KindHTTPAuth = 27235

// Freshness windows. Request auth is bound to a single endpoint and gets a
// narrow replay window; logins are bound to a one-time challenge token and
// tolerate more latency.
const (
	RequestAuthWindow = 60 * time.Second
	LoginAuthWindow   = 120 * time.Second
)

// ErrInvalidAuthEvent is returned for every verification failure. Callers
// must not learn which check failed.
var ErrInvalidAuthEvent = errors.New("authentication failed")

// Verifier validates signed authentication events. The zero value is not
// usable; construct with NewVerifier.
type Verifier struct {
	now func() time.Time
}

// NewVerifier creates a verifier using the wall clock
func NewVerifier() *Verifier {
	return &Verifier{now: time.Now}
}

// NewVerifierAt creates a verifier with an injected clock
func NewVerifierAt(now func() time.Time) *Verifier {
	return &Verifier{now: now}
}

// VerifyRequestAuth checks a signed event as bearer-proof for a single HTTP
// request. Checks run in order and short-circuit on the first failure:
// kind, freshness, signature/id consistency, "u" tag binding to the exact
// request URL, "method" tag binding to the HTTP verb (case-insensitive).
// On success it returns the event's pubkey, the sole trustworthy output.
func (v *Verifier) VerifyRequestAuth(event *nostr.Event, expectedURL, expectedMethod string) (string, error) {
	if event == nil || event.Kind != KindHTTPAuth {
		return "", ErrInvalidAuthEvent
	}

	if !v.fresh(event.CreatedAt, RequestAuthWindow) {
		return "", ErrInvalidAuthEvent
	}

	if !selfConsistent(event) {
		return "", ErrInvalidAuthEvent
	}

	// Exact string match, no normalization: a trailing slash is a
	// different URL and a replay target.
	uTag := event.Tags.GetFirst([]string{"u"})
	if uTag == nil || uTag.Value() != expectedURL {
		return "", ErrInvalidAuthEvent
	}

	methodTag := event.Tags.GetFirst([]string{"method"})
	if methodTag == nil || !strings.EqualFold(methodTag.Value(), expectedMethod) {
		return "", ErrInvalidAuthEvent
	}

	return event.PubKey, nil
}

// VerifyLoginEvent checks a signed event against a one-time server-issued
// challenge token carried in the event content. No URL or method binding;
// the token itself scopes the event to a single login exchange.
func (v *Verifier) VerifyLoginEvent(event *nostr.Event, expectedToken string) (string, error) {
	if event == nil || event.Kind != KindHTTPAuth {
		return "", ErrInvalidAuthEvent
	}

	if !selfConsistent(event) {
		return "", ErrInvalidAuthEvent
	}

	if expectedToken == "" || event.Content != expectedToken {
		return "", ErrInvalidAuthEvent
	}

	if !v.fresh(event.CreatedAt, LoginAuthWindow) {
		return "", ErrInvalidAuthEvent
	}

	return event.PubKey, nil
}

// fresh reports whether the event timestamp is within the clock-skew
// tolerant window around now, inclusive at the boundary.
func (v *Verifier) fresh(createdAt nostr.Timestamp, window time.Duration) bool {
	delta := v.now().Unix() - int64(createdAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= int64(window/time.Second)
}

// selfConsistent verifies that the event id is the canonical hash of the
// event and that the signature over it is valid for the claimed pubkey.
func selfConsistent(event *nostr.Event) bool {
	if event.ID != event.GetID() {
		return false
	}
	ok, err := event.CheckSignature()
	return err == nil && ok
}

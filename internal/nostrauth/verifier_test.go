package nostrauth

import (
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testURL    = "https://relay.example.com/api/v1/orders"
	testMethod = "POST"
)

func fixedVerifier(now time.Time) *Verifier {
	return NewVerifierAt(func() time.Time { return now })
}

// signedRequestEvent builds and signs a request-auth event with the given
// offsets and tag values, returning the event and the signer's pubkey.
func signedRequestEvent(t *testing.T, createdAt time.Time, url, method string) (*nostr.Event, string) {
	t.Helper()

	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	event := &nostr.Event{
		Kind:      KindHTTPAuth,
		CreatedAt: nostr.Timestamp(createdAt.Unix()),
		Tags: nostr.Tags{
			{"u", url},
			{"method", method},
		},
	}
	require.NoError(t, event.Sign(sk))

	return event, pk
}

func signedLoginEvent(t *testing.T, createdAt time.Time, token string) (*nostr.Event, string) {
	t.Helper()

	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	event := &nostr.Event{
		Kind:      KindHTTPAuth,
		CreatedAt: nostr.Timestamp(createdAt.Unix()),
		Content:   token,
		Tags:      nostr.Tags{},
	}
	require.NoError(t, event.Sign(sk))

	return event, pk
}

func TestVerifyRequestAuth(t *testing.T) {
	now := time.Now()
	verifier := fixedVerifier(now)

	t.Run("valid event returns pubkey", func(t *testing.T) {
		event, pk := signedRequestEvent(t, now, testURL, testMethod)

		pubkey, err := verifier.VerifyRequestAuth(event, testURL, testMethod)
		require.NoError(t, err)
		assert.Equal(t, pk, pubkey)
	})

	t.Run("wrong kind is invalid", func(t *testing.T) {
		sk := nostr.GeneratePrivateKey()
		event := &nostr.Event{
			Kind:      1,
			CreatedAt: nostr.Timestamp(now.Unix()),
			Tags:      nostr.Tags{{"u", testURL}, {"method", testMethod}},
		}
		require.NoError(t, event.Sign(sk))

		_, err := verifier.VerifyRequestAuth(event, testURL, testMethod)
		assert.ErrorIs(t, err, ErrInvalidAuthEvent)
	})

	t.Run("nil event is invalid", func(t *testing.T) {
		_, err := verifier.VerifyRequestAuth(nil, testURL, testMethod)
		assert.ErrorIs(t, err, ErrInvalidAuthEvent)
	})

	t.Run("tampered signature is invalid despite well-formed fields", func(t *testing.T) {
		event, _ := signedRequestEvent(t, now, testURL, testMethod)
		other, _ := signedRequestEvent(t, now, testURL, testMethod)
		event.Sig = other.Sig

		_, err := verifier.VerifyRequestAuth(event, testURL, testMethod)
		assert.ErrorIs(t, err, ErrInvalidAuthEvent)
	})

	t.Run("tampered content invalidates the id", func(t *testing.T) {
		event, _ := signedRequestEvent(t, now, testURL, testMethod)
		event.Content = "changed after signing"

		_, err := verifier.VerifyRequestAuth(event, testURL, testMethod)
		assert.ErrorIs(t, err, ErrInvalidAuthEvent)
	})

	t.Run("created_at exactly 60s old is still valid", func(t *testing.T) {
		event, pk := signedRequestEvent(t, now.Add(-60*time.Second), testURL, testMethod)

		pubkey, err := verifier.VerifyRequestAuth(event, testURL, testMethod)
		require.NoError(t, err)
		assert.Equal(t, pk, pubkey)
	})

	t.Run("created_at 61s old is invalid", func(t *testing.T) {
		event, _ := signedRequestEvent(t, now.Add(-61*time.Second), testURL, testMethod)

		_, err := verifier.VerifyRequestAuth(event, testURL, testMethod)
		assert.ErrorIs(t, err, ErrInvalidAuthEvent)
	})

	t.Run("created_at 61s in the future is invalid", func(t *testing.T) {
		event, _ := signedRequestEvent(t, now.Add(61*time.Second), testURL, testMethod)

		_, err := verifier.VerifyRequestAuth(event, testURL, testMethod)
		assert.ErrorIs(t, err, ErrInvalidAuthEvent)
	})

	t.Run("url with trailing slash does not match", func(t *testing.T) {
		event, _ := signedRequestEvent(t, now, testURL+"/", testMethod)

		_, err := verifier.VerifyRequestAuth(event, testURL, testMethod)
		assert.ErrorIs(t, err, ErrInvalidAuthEvent)
	})

	t.Run("url bound to another endpoint does not match", func(t *testing.T) {
		event, _ := signedRequestEvent(t, now, "https://relay.example.com/api/v1/relays", testMethod)

		_, err := verifier.VerifyRequestAuth(event, testURL, testMethod)
		assert.ErrorIs(t, err, ErrInvalidAuthEvent)
	})

	t.Run("missing u tag is invalid", func(t *testing.T) {
		sk := nostr.GeneratePrivateKey()
		event := &nostr.Event{
			Kind:      KindHTTPAuth,
			CreatedAt: nostr.Timestamp(now.Unix()),
			Tags:      nostr.Tags{{"method", testMethod}},
		}
		require.NoError(t, event.Sign(sk))

		_, err := verifier.VerifyRequestAuth(event, testURL, testMethod)
		assert.ErrorIs(t, err, ErrInvalidAuthEvent)
	})

	t.Run("method match is case-insensitive", func(t *testing.T) {
		event, pk := signedRequestEvent(t, now, testURL, "post")

		pubkey, err := verifier.VerifyRequestAuth(event, testURL, "POST")
		require.NoError(t, err)
		assert.Equal(t, pk, pubkey)
	})

	t.Run("different method does not match", func(t *testing.T) {
		event, _ := signedRequestEvent(t, now, testURL, "GET")

		_, err := verifier.VerifyRequestAuth(event, testURL, testMethod)
		assert.ErrorIs(t, err, ErrInvalidAuthEvent)
	})
}

func TestVerifyLoginEvent(t *testing.T) {
	now := time.Now()
	verifier := fixedVerifier(now)
	token := "a1b2c3d4e5f6"

	t.Run("valid login event returns pubkey", func(t *testing.T) {
		event, pk := signedLoginEvent(t, now, token)

		pubkey, err := verifier.VerifyLoginEvent(event, token)
		require.NoError(t, err)
		assert.Equal(t, pk, pubkey)
	})

	t.Run("wrong kind is invalid", func(t *testing.T) {
		sk := nostr.GeneratePrivateKey()
		event := &nostr.Event{
			Kind:      22242,
			CreatedAt: nostr.Timestamp(now.Unix()),
			Content:   token,
			Tags:      nostr.Tags{},
		}
		require.NoError(t, event.Sign(sk))

		_, err := verifier.VerifyLoginEvent(event, token)
		assert.ErrorIs(t, err, ErrInvalidAuthEvent)
	})

	t.Run("wrong token is invalid", func(t *testing.T) {
		event, _ := signedLoginEvent(t, now, "some-other-token")

		_, err := verifier.VerifyLoginEvent(event, token)
		assert.ErrorIs(t, err, ErrInvalidAuthEvent)
	})

	t.Run("empty expected token never matches", func(t *testing.T) {
		event, _ := signedLoginEvent(t, now, "")

		_, err := verifier.VerifyLoginEvent(event, "")
		assert.ErrorIs(t, err, ErrInvalidAuthEvent)
	})

	t.Run("tampered signature is invalid", func(t *testing.T) {
		event, _ := signedLoginEvent(t, now, token)
		other, _ := signedLoginEvent(t, now, token)
		event.Sig = other.Sig

		_, err := verifier.VerifyLoginEvent(event, token)
		assert.ErrorIs(t, err, ErrInvalidAuthEvent)
	})

	t.Run("created_at exactly 120s old is still valid", func(t *testing.T) {
		event, pk := signedLoginEvent(t, now.Add(-120*time.Second), token)

		pubkey, err := verifier.VerifyLoginEvent(event, token)
		require.NoError(t, err)
		assert.Equal(t, pk, pubkey)
	})

	t.Run("created_at 121s old is invalid", func(t *testing.T) {
		event, _ := signedLoginEvent(t, now.Add(-121*time.Second), token)

		_, err := verifier.VerifyLoginEvent(event, token)
		assert.ErrorIs(t, err, ErrInvalidAuthEvent)
	})

	t.Run("request window does not apply to logins", func(t *testing.T) {
		// 90s is stale for request auth but fine for a login.
		event, pk := signedLoginEvent(t, now.Add(-90*time.Second), token)

		pubkey, err := verifier.VerifyLoginEvent(event, token)
		require.NoError(t, err)
		assert.Equal(t, pk, pubkey)
	})
}

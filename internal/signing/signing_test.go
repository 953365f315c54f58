package signing

import (
	"strings"
	"testing"

	"github.com/lastfmproxy/lastfmproxy/internal/params"
	"github.com/stretchr/testify/assert"
)

func TestMessage(t *testing.T) {
	p := params.Set{
		"method":   "auth.getSession",
		"api_key":  "key123",
		"token":    "tok",
		"format":   "json",
		"callback": "cb",
		"api_sig":  "old",
	}
	assert.Equal(t, "api_keykey123methodauth.getSessiontokentoksecret", Message(p, "secret"))
}

func TestSignLegacy(t *testing.T) {
	p := params.Set{"method": "auth.getSession", "api_key": "key123", "token": "tok"}
	assert.Equal(t, "995243d8950ca57a77965ffc9e4d04ad", SignLegacy(p, "secret"))

	t.Run("empty set hashes the secret alone", func(t *testing.T) {
		assert.Equal(t, "03c7c0ace395d80182db07ae2c30f034", SignLegacy(params.Set{}, "s"))
	})

	t.Run("excluded keys do not change the signature", func(t *testing.T) {
		q := p.Clone()
		q["format"] = "xml"
		q["api_sig"] = "whatever"
		q["callback"] = "fn"
		assert.Equal(t, SignLegacy(p, "secret"), SignLegacy(q, "secret"))
	})

	t.Run("api_key is bound", func(t *testing.T) {
		q := p.Clone()
		q["api_key"] = "other"
		assert.NotEqual(t, SignLegacy(p, "secret"), SignLegacy(q, "secret"))
	})
}

func TestSignRequest(t *testing.T) {
	p := params.Set{"artist": "Cher", "api_key": "k", "format": "json"}
	sig := SignRequest(p, "signing-key")

	assert.Equal(t, "9d3db76f104ebf55a08c05ce32292fb616f822a4c5a5485c657ae73c98ec3ee4", sig)
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, SignRequest(p.Clone(), "signing-key"), "deterministic")
	assert.NotEqual(t, sig, SignRequest(p, "other-key"))
	assert.NotEqual(t, sig, SignLegacy(p, "signing-key"))
}

func TestVerify(t *testing.T) {
	p := params.Set{"artist": "Cher", "api_key": "k"}
	good := SignRequest(p, "key")

	assert.True(t, Verify(p, "key", good))
	assert.True(t, Verify(p, "key", strings.ToUpper(good)))
	assert.False(t, Verify(p, "key", ""))
	assert.False(t, Verify(p, "key", good[:10]))
	assert.False(t, Verify(p, "wrong", good))

	tampered := p.Clone()
	tampered["artist"] = "Madonna"
	assert.False(t, Verify(tampered, "key", good))
}

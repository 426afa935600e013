package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"
	"ticket-ledger/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalIdentity_SignsProposal(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	id := NewLocal(priv)
	assert.Equal(t, KindLocal, id.Kind())
	assert.True(t, id.CanSign())
	assert.Equal(t, strings.ToUpper(hex.EncodeToString(pub)), id.Address())

	p := ledger.NewProposal("").Add(ledger.OpRedeemTicket, map[string]any{"ticket": "T1"})
	require.NoError(t, id.SignProposal(p))

	assert.Equal(t, id.Address(), p.Signer)

	sig, err := hex.DecodeString(strings.ToLower(p.Signature))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, p.Message(), sig))
}

func TestExternalIdentity_DelegatesToCallback(t *testing.T) {
	var signed []byte
	id := NewExternal("EXT1", func(message []byte) ([]byte, error) {
		signed = message
		return []byte{0xAA, 0xBB}, nil
	})

	p := ledger.NewProposal("")
	require.NoError(t, id.SignProposal(p))

	assert.Equal(t, "EXT1", p.Signer)
	assert.Equal(t, "AABB", p.Signature)
	assert.Equal(t, p.Message(), signed)
}

func TestNoneIdentity_CannotSign(t *testing.T) {
	id := None()
	assert.False(t, id.CanSign())

	err := id.SignProposal(ledger.NewProposal(""))
	assert.ErrorIs(t, err, ErrNoSigner)
}

func TestLocalFromSeed(t *testing.T) {
	seed := strings.Repeat("ab", 32)

	id1, err := LocalFromSeed(seed)
	require.NoError(t, err)

	id2, err := LocalFromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, id1.Address(), id2.Address())

	_, err = LocalFromSeed("abcd")
	assert.Error(t, err)
}

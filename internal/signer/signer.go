package signer

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"ticket-ledger/internal/ledger"
)

// Kind tags the three supported identity sources. The variant is resolved
// once per session; everything downstream sees only Identity.
type Kind string

const (
	KindExternal Kind = "external" // key held by an external wallet
	KindLocal    Kind = "local"    // locally-derived ed25519 key
	KindNone     Kind = "none"     // read-only session, cannot propose
)

var ErrNoSigner = errors.New("signer: identity cannot sign proposals")

// SignFunc is the narrow capability an externally-held key exposes: it
// receives the canonical proposal bytes and returns a signature.
type SignFunc func(message []byte) ([]byte, error)

// Identity is an immutable capability object: a public address plus the
// ability to sign proposals. It is passed explicitly into every component
// that needs it; there is no ambient wallet singleton.
type Identity struct {
	kind    Kind
	address string
	priv    ed25519.PrivateKey
	sign    SignFunc
}

// NewLocal wraps a locally-derived ed25519 private key.
func NewLocal(priv ed25519.PrivateKey) Identity {
	pub := priv.Public().(ed25519.PublicKey)
	return Identity{
		kind:    KindLocal,
		address: strings.ToUpper(hex.EncodeToString(pub)),
		priv:    priv,
	}
}

// NewExternal wraps an externally-held key behind its sign callback.
func NewExternal(address string, sign SignFunc) Identity {
	return Identity{kind: KindExternal, address: address, sign: sign}
}

// None is a read-only identity for sessions without a signing capability.
func None() Identity {
	return Identity{kind: KindNone}
}

func (id Identity) Kind() Kind      { return id.kind }
func (id Identity) Address() string { return id.address }
func (id Identity) CanSign() bool   { return id.kind != KindNone }

// SignProposal fills in the proposal's signer and signature fields. The
// same call works for both identity sources.
func (id Identity) SignProposal(p *ledger.Proposal) error {
	switch id.kind {
	case KindLocal:
		p.Signer = id.address
		sig := ed25519.Sign(id.priv, p.Message())
		p.Signature = strings.ToUpper(hex.EncodeToString(sig))
		return nil

	case KindExternal:
		p.Signer = id.address
		sig, err := id.sign(p.Message())
		if err != nil {
			return fmt.Errorf("signer.SignProposal: external sign: %w", err)
		}
		p.Signature = strings.ToUpper(hex.EncodeToString(sig))
		return nil

	default:
		return ErrNoSigner
	}
}

// LocalFromSeed derives a local identity from a 32-byte hex seed. Used by
// custodial deployments where the service itself holds the key.
func LocalFromSeed(seedHex string) (Identity, error) {
	seed, err := hex.DecodeString(strings.ToLower(seedHex))
	if err != nil {
		return Identity{}, fmt.Errorf("signer.LocalFromSeed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return Identity{}, fmt.Errorf("signer.LocalFromSeed: want %d-byte seed, got %d", ed25519.SeedSize, len(seed))
	}
	return NewLocal(ed25519.NewKeyFromSeed(seed)), nil
}

// Package signer defines the capability interface the relay engine needs
// for NIP-42 authentication and event publishing. The concrete signing
// key management and cryptographic primitives are deliberately out of
// scope for this core (spec §1) — this package only specifies the shape
// the engine is generic over, plus one default implementation so the
// rest of the module can be exercised end-to-end in tests.
package signer

import (
	"context"
	"fmt"
	"time"

	"github.com/asmogo/gonostrpool/nostr"
	goNostr "github.com/nbd-wtf/go-nostr"
)

// Signer is the capability the relay engine and pool need from a key
// holder: report its public key, and sign an unsigned event (spec §9).
type Signer interface {
	PublicKey(ctx context.Context) (string, error)
	Sign(ctx context.Context, e nostr.UnsignedEvent) (nostr.Event, error)
}

// Keys is a Signer backed directly by a secp256k1 private key, delegating
// schnorr signing to github.com/nbd-wtf/go-nostr (which in turn uses
// github.com/btcsuite/btcd/btcec/v2) — both teacher dependencies, wired
// here because real tests need a working signer without pulling in a key
// management subsystem.
type Keys struct {
	privateKeyHex string
	publicKeyHex  string
}

// New derives a Keys signer from a hex-encoded secp256k1 private key.
func New(privateKeyHex string) (*Keys, error) {
	pub, err := goNostr.GetPublicKey(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("signer: derive public key: %w", err)
	}
	return &Keys{privateKeyHex: privateKeyHex, publicKeyHex: pub}, nil
}

// NewRandom generates a fresh secp256k1 keypair, useful for tests and CLI
// demos that don't need a persisted identity.
func NewRandom() (*Keys, error) {
	return New(goNostr.GeneratePrivateKey())
}

func (k *Keys) PublicKey(context.Context) (string, error) {
	return k.publicKeyHex, nil
}

func (k *Keys) Sign(_ context.Context, u nostr.UnsignedEvent) (nostr.Event, error) {
	underlying := goNostr.Event{
		PubKey:    k.publicKeyHex,
		CreatedAt: goNostr.Timestamp(u.CreatedAt),
		Kind:      int(u.Kind),
		Content:   u.Content,
	}
	for _, tag := range u.Tags {
		underlying.Tags = append(underlying.Tags, goNostr.Tag(tag))
	}
	if err := underlying.Sign(k.privateKeyHex); err != nil {
		return nostr.Event{}, fmt.Errorf("signer: sign event: %w", err)
	}

	tags := make(nostr.Tags, 0, len(underlying.Tags))
	for _, tag := range underlying.Tags {
		tags = append(tags, nostr.Tag(tag))
	}
	return nostr.Event{
		ID:        underlying.ID,
		PubKey:    underlying.PubKey,
		CreatedAt: int64(underlying.CreatedAt),
		Kind:      nostr.Kind(underlying.Kind),
		Tags:      tags,
		Content:   underlying.Content,
		Sig:       underlying.Sig,
	}, nil
}

// AuthEvent builds the unsigned kind-22242 NIP-42 authentication event for
// the given relay URL and challenge (spec §4.1 "NIP-42 interleaving").
func AuthEvent(pubKey, relayURL, challenge string) nostr.UnsignedEvent {
	return nostr.UnsignedEvent{
		PubKey:    pubKey,
		CreatedAt: time.Now().Unix(),
		Kind:      nostr.KindAuth,
		Tags: nostr.Tags{
			{"relay", relayURL},
			{"challenge", challenge},
		},
	}
}

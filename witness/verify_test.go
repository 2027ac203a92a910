// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package witness

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

// newTestVerifier returns a verifier trusting exactly the given arbitrator
// keys.
func newTestVerifier(arbitratorKeys ...*btcec.PrivateKey) *Verifier {
	var keysHex []string
	for _, key := range arbitratorKeys {
		keysHex = append(keysHex, hex.EncodeToString(
			key.PubKey().SerializeCompressed(),
		))
	}
	return NewVerifier(VerifierConfig{
		IsTrustedArbitrator: StaticArbitratorRegistry(keysHex),
	})
}

// TestVerifyArbitratorAttestation asserts that a registered arbitrator's
// attestation verifies and survives a cache round trip.
func TestVerifyArbitratorAttestation(t *testing.T) {
	t.Parallel()

	arbKey := testKey(t)
	account := newTestAccount(0x10, time.Now())
	w := NewSignedWitness(
		MethodArbitrator, account.hash,
		SignWitnessHashAsArbitrator(arbKey, account.hash),
		arbKey.PubKey().SerializeCompressed(),
		testKey(t).PubKey().SerializeCompressed(),
		time.Now(), 500_000,
	)

	v := newTestVerifier(arbKey)
	require.True(t, v.Verify(w))

	// Second call is answered from the verdict cache.
	require.True(t, v.Verify(w))
}

// TestVerifyRejectsUnregisteredArbitrator asserts that a cryptographically
// valid attestation from a key outside the arbitrator registry is rejected
// before any signature check.
func TestVerifyRejectsUnregisteredArbitrator(t *testing.T) {
	t.Parallel()

	rogueKey := testKey(t)
	account := newTestAccount(0x11, time.Now())
	w := NewSignedWitness(
		MethodArbitrator, account.hash,
		SignWitnessHashAsArbitrator(rogueKey, account.hash),
		rogueKey.PubKey().SerializeCompressed(),
		testKey(t).PubKey().SerializeCompressed(),
		time.Now(), 500_000,
	)

	v := newTestVerifier(testKey(t))
	require.False(t, v.Verify(w))
}

// TestVerifyTraderAttestation covers the trade method: valid signatures
// pass, signatures over a different account hash fail, garbage fails
// without a fault.
func TestVerifyTraderAttestation(t *testing.T) {
	t.Parallel()

	signerKey := testKey(t)
	account := newTestAccount(0x12, time.Now())
	otherAccount := newTestAccount(0x13, time.Now())
	owner := testKey(t).PubKey().SerializeCompressed()

	v := newTestVerifier()

	valid := NewSignedWitness(
		MethodTrade, account.hash,
		SignWitnessHashAsTrader(signerKey, account.hash),
		signerKey.PubKey().SerializeCompressed(), owner,
		time.Now(), 250_000,
	)
	require.True(t, v.Verify(valid))

	wrongHash := NewSignedWitness(
		MethodTrade, otherAccount.hash,
		SignWitnessHashAsTrader(signerKey, account.hash),
		signerKey.PubKey().SerializeCompressed(), owner,
		time.Now(), 250_000,
	)
	require.False(t, v.Verify(wrongHash))

	garbageSig := NewSignedWitness(
		MethodTrade, account.hash, []byte("not a signature"),
		signerKey.PubKey().SerializeCompressed(), owner,
		time.Now(), 250_000,
	)
	require.False(t, v.Verify(garbageSig))

	badKey := NewSignedWitness(
		MethodTrade, account.hash,
		SignWitnessHashAsTrader(signerKey, account.hash),
		[]byte{0x02, 0x03}, owner,
		time.Now(), 250_000,
	)
	require.False(t, v.Verify(badKey))
}

// TestVerifyUnknownMethod asserts that an unknown method never verifies.
func TestVerifyUnknownMethod(t *testing.T) {
	t.Parallel()

	signerKey := testKey(t)
	account := newTestAccount(0x14, time.Now())
	w := NewSignedWitness(
		Method(99), account.hash,
		SignWitnessHashAsTrader(signerKey, account.hash),
		signerKey.PubKey().SerializeCompressed(),
		testKey(t).PubKey().SerializeCompressed(),
		time.Now(), 250_000,
	)

	require.False(t, newTestVerifier().Verify(w))
}

// TestVerifyArbitratorBadBase64 asserts that non-base64 signature bytes on
// the arbitrator path are rejected without a fault.
func TestVerifyArbitratorBadBase64(t *testing.T) {
	t.Parallel()

	arbKey := testKey(t)
	account := newTestAccount(0x15, time.Now())
	w := NewSignedWitness(
		MethodArbitrator, account.hash, []byte("%%%not base64%%%"),
		arbKey.PubKey().SerializeCompressed(),
		testKey(t).PubKey().SerializeCompressed(),
		time.Now(), 500_000,
	)

	require.False(t, newTestVerifier(arbKey).Verify(w))
}

// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package witness

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

const day = 24 * time.Hour

// insert adds the witness to the store, failing the test on any error.
func insert(t *testing.T, store *Store, w *SignedWitness) {
	t.Helper()

	inserted, err := store.InsertIfAbsent(w)
	require.NoError(t, err)
	require.True(t, inserted)
}

// newArbitratorWitness builds an arbitrator attestation of the account.
func newArbitratorWitness(t *testing.T, arbKey *btcec.PrivateKey,
	ownerPubKey []byte, account *testAccount,
	date time.Time) *SignedWitness {

	t.Helper()

	return NewSignedWitness(
		MethodArbitrator, account.hash,
		SignWitnessHashAsArbitrator(arbKey, account.hash),
		arbKey.PubKey().SerializeCompressed(), ownerPubKey,
		date, 500_000,
	)
}

// accountHash derives a unique 32 byte account hash from an index.
func accountHash(i uint64) []byte {
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], i)
	h := sha256.Sum256(seed[:])
	return h[:]
}

// TestSignerAgeRule covers the eligibility window of an arbitrator signed
// account: 31 days after the attestation the account may vouch for others,
// 29 days after it may not, while the account itself counts as signed
// either way.
func TestSignerAgeRule(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	arbKey := testKey(t)
	verifier := newTestVerifier(arbKey)
	chain := NewChainVerifier(store, verifier)

	signedAt := time.Now().Add(-31 * day)
	ownerKey := testKey(t)
	account := &testAccount{
		hash: accountHash(1),
		date: signedAt.UnixMilli(),
	}
	insert(t, store, newArbitratorWitness(
		t, arbKey, ownerKey.PubKey().SerializeCompressed(), account,
		signedAt,
	))

	require.True(t, chain.IsValidSigner(account, signedAt.Add(31*day)))
	require.False(t, chain.IsValidSigner(account, signedAt.Add(29*day)))

	// The public queries evaluate against the wall clock: 31 days after
	// signing the account is both signed and a signer.
	require.True(t, chain.IsSignedAccountAgeWitness(account))
	require.True(t, chain.IsSignerAccountAgeWitness(account))
}

// TestFreshSignedAccountIsNotSigner asserts that a freshly attested
// account is signed but not yet eligible to vouch.
func TestFreshSignedAccountIsNotSigner(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	arbKey := testKey(t)
	chain := NewChainVerifier(store, newTestVerifier(arbKey))

	signedAt := time.Now().Add(-time.Hour)
	ownerKey := testKey(t)
	account := &testAccount{
		hash: accountHash(2),
		date: signedAt.UnixMilli(),
	}
	insert(t, store, newArbitratorWitness(
		t, arbKey, ownerKey.PubKey().SerializeCompressed(), account,
		signedAt,
	))

	require.True(t, chain.IsSignedAccountAgeWitness(account))
	require.False(t, chain.IsSignerAccountAgeWitness(account))
}

// TestPeerAttestationChain builds arbitrator -> A -> B and checks both the
// happy path and the signer age rule on the intermediate hop.
func TestPeerAttestationChain(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	arbKey := testKey(t)
	chain := NewChainVerifier(store, newTestVerifier(arbKey))

	t0 := time.Now().Add(-90 * day)
	keyA := testKey(t)
	keyB := testKey(t)

	accountA := &testAccount{hash: accountHash(3), date: t0.UnixMilli()}
	insert(t, store, newArbitratorWitness(
		t, arbKey, keyA.PubKey().SerializeCompressed(), accountA, t0,
	))

	// A vouches for B 31 days later.
	bSignedAt := t0.Add(31 * day)
	accountB := &testAccount{
		hash: accountHash(4),
		date: bSignedAt.UnixMilli(),
	}
	insert(t, store, newTradeWitness(
		t, keyA, keyB.PubKey().SerializeCompressed(), accountB,
		bSignedAt,
	))

	require.True(t, chain.IsValidSigner(accountB, t0.Add(62*day)))
	require.False(t, chain.IsValidSigner(accountB, t0.Add(50*day)))
}

// TestChainWithUnverifiableLink asserts that a chain through a bad
// signature is rejected as a whole.
func TestChainWithUnverifiableLink(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	arbKey := testKey(t)
	chain := NewChainVerifier(store, newTestVerifier(arbKey))

	t0 := time.Now().Add(-90 * day)
	keyA := testKey(t)
	keyB := testKey(t)

	// The root link is signed by a key that never matches the claimed
	// signer.
	accountA := &testAccount{hash: accountHash(5), date: t0.UnixMilli()}
	forged := NewSignedWitness(
		MethodArbitrator, accountA.hash,
		SignWitnessHashAsArbitrator(testKey(t), accountA.hash),
		arbKey.PubKey().SerializeCompressed(),
		keyA.PubKey().SerializeCompressed(), t0, 500_000,
	)
	insert(t, store, forged)

	bSignedAt := t0.Add(31 * day)
	accountB := &testAccount{
		hash: accountHash(6),
		date: bSignedAt.UnixMilli(),
	}
	insert(t, store, newTradeWitness(
		t, keyA, keyB.PubKey().SerializeCompressed(), accountB,
		bSignedAt,
	))

	require.False(t, chain.IsValidSigner(accountB, t0.Add(62*day)))
}

// TestChainCycleTerminates asserts that a cyclic attestation graph with no
// arbitrator root fails closed instead of walking forever. Keys already on
// the current path are excluded from deeper candidate lookups.
func TestChainCycleTerminates(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	chain := NewChainVerifier(store, newTestVerifier())

	base := time.Now().Add(-200 * day)
	keyA := testKey(t)
	keyB := testKey(t)
	keyC := testKey(t)

	// C's account vouched by A, B's by C, A's by B: a pure cycle.
	accountA := &testAccount{
		hash: accountHash(7),
		date: base.Add(62 * day).UnixMilli(),
	}
	accountB := &testAccount{
		hash: accountHash(8),
		date: base.Add(31 * day).UnixMilli(),
	}
	accountC := &testAccount{hash: accountHash(9), date: base.UnixMilli()}

	insert(t, store, newTradeWitness(
		t, keyB, keyA.PubKey().SerializeCompressed(), accountA,
		base.Add(62*day),
	))
	insert(t, store, newTradeWitness(
		t, keyC, keyB.PubKey().SerializeCompressed(), accountB,
		base.Add(31*day),
	))
	insert(t, store, newTradeWitness(
		t, keyA, keyC.PubKey().SerializeCompressed(), accountC, base,
	))

	require.False(t, chain.IsValidSigner(accountA, base.Add(93*day)))
}

// TestChainDepthBound builds a valid attestation chain deeper than the
// exclusion cap allows and asserts the walk fails closed, while a short
// chain of the same shape passes.
func TestChainDepthBound(t *testing.T) {
	t.Parallel()

	buildChain := func(t *testing.T, depth int) (*ChainVerifier,
		*testAccount) {

		store := newTestStore(t)
		arbKey := testKey(t)
		chain := NewChainVerifier(store, newTestVerifier(arbKey))

		base := time.Now()
		keys := make([]*btcec.PrivateKey, depth+1)
		for i := range keys {
			keys[i] = testKey(t)
		}

		// Account i is owned by key i and vouched by key i+1; the
		// deepest account is vouched by the arbitrator.
		var queryAccount *testAccount
		for i := 0; i < depth; i++ {
			date := base.Add(-time.Duration(i) * 31 * day)
			account := &testAccount{
				hash: accountHash(uint64(100 + i)),
				date: date.UnixMilli(),
			}
			if i == 0 {
				queryAccount = account
			}
			insert(t, store, newTradeWitness(
				t, keys[i+1],
				keys[i].PubKey().SerializeCompressed(),
				account, date,
			))
		}
		rootDate := base.Add(-time.Duration(depth) * 31 * day)
		rootAccount := &testAccount{
			hash: accountHash(uint64(100 + depth)),
			date: rootDate.UnixMilli(),
		}
		insert(t, store, newArbitratorWitness(
			t, arbKey,
			keys[depth].PubKey().SerializeCompressed(),
			rootAccount, rootDate,
		))

		return chain, queryAccount
	}

	// A short chain to the arbitrator passes.
	shortChain, shortAccount := buildChain(t, 5)
	require.True(t, shortChain.IsValidSigner(
		shortAccount, time.Now().Add(31*day),
	))

	// A chain needing more than maxExcludedKeys visited keys does not,
	// even though every link is individually valid.
	deepDepth := maxExcludedKeys/2 + 10
	deepChain, deepAccount := buildChain(t, deepDepth)
	require.False(t, deepChain.IsValidSigner(
		deepAccount, time.Now().Add(31*day),
	))
}

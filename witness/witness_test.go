// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package witness

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

// testAccount is a minimal account age witness for tests.
type testAccount struct {
	hash []byte
	date int64
}

func (a *testAccount) Hash() []byte { return a.hash }
func (a *testAccount) Date() int64  { return a.date }

// newTestAccount derives a deterministic 32 byte account hash from the seed.
func newTestAccount(seed byte, date time.Time) *testAccount {
	hash := bytes.Repeat([]byte{seed}, AccountHashLen)
	return &testAccount{hash: hash, date: date.UnixMilli()}
}

func testKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return key
}

// TestDedupHashIgnoresDateAndAmount asserts that two attestations differing
// only in date and trade amount collapse to the same dedup hash, while a
// different signature produces a different hash.
func TestDedupHashIgnoresDateAndAmount(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	owner := testKey(t).PubKey().SerializeCompressed()
	account := newTestAccount(0x01, time.Now())
	sig := SignWitnessHashAsTrader(key, account.hash)

	w1 := NewSignedWitness(
		MethodTrade, account.hash, sig,
		key.PubKey().SerializeCompressed(), owner,
		time.Now(), 250_000,
	)
	w2 := NewSignedWitness(
		MethodTrade, account.hash, sig,
		key.PubKey().SerializeCompressed(), owner,
		time.Now().Add(48*time.Hour), 900_000,
	)
	require.Equal(t, w1.Hash(), w2.Hash())

	otherSig := SignWitnessHashAsArbitrator(key, account.hash)
	w3 := NewSignedWitness(
		MethodTrade, account.hash, otherSig,
		key.PubKey().SerializeCompressed(), owner,
		time.Now(), 250_000,
	)
	require.NotEqual(t, w1.Hash(), w3.Hash())
}

// TestParseRecomputesHash asserts that the dedup hash of a decoded witness
// is derived from the decoded fields rather than carried on the wire.
func TestParseRecomputesHash(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	account := newTestAccount(0x02, time.Now())
	w := NewSignedWitness(
		MethodTrade, account.hash,
		SignWitnessHashAsTrader(key, account.hash),
		key.PubKey().SerializeCompressed(),
		testKey(t).PubKey().SerializeCompressed(),
		time.Now(), 300_000,
	)

	encoded, err := w.Serialize()
	require.NoError(t, err)

	decoded, err := ParseSignedWitness(encoded)
	require.NoError(t, err)
	require.Equal(t, w.Hash(), decoded.Hash())
	require.Equal(t, w.Method, decoded.Method)
	require.Equal(t, w.AccountWitnessHash, decoded.AccountWitnessHash)
	require.Equal(t, w.Date, decoded.Date)
	require.Equal(t, w.TradeAmount, decoded.TradeAmount)
}

// TestParseRejectsBadAccountHash asserts that records with a wrong-sized
// account witness hash are rejected as malformed.
func TestParseRejectsBadAccountHash(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	shortHash := bytes.Repeat([]byte{0x03}, AccountHashLen-1)
	w := NewSignedWitness(
		MethodTrade, shortHash,
		SignWitnessHashAsTrader(key, shortHash),
		key.PubKey().SerializeCompressed(),
		testKey(t).PubKey().SerializeCompressed(),
		time.Now(), 300_000,
	)

	encoded, err := w.Serialize()
	require.NoError(t, err)

	_, err = ParseSignedWitness(encoded)
	require.Error(t, err)

	var storeErr StoreError
	require.ErrorAs(t, err, &storeErr)
	require.Equal(t, ErrMalformedWitness, storeErr.ErrorCode)
}

// TestParseRejectsGarbage asserts that undecodable bytes report a malformed
// witness error.
func TestParseRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := ParseSignedWitness([]byte{0xde, 0xad, 0xbe, 0xef})
	require.Error(t, err)
}

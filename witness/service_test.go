// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package witness

import (
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"

	"github.com/tradenet/tradenetd/p2p"
)

// recordingBroadcaster captures broadcast payloads for assertions.
type recordingBroadcaster struct {
	mu       sync.Mutex
	payloads []p2p.StoragePayload
}

func (b *recordingBroadcaster) Broadcast(payload p2p.StoragePayload) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, payload)
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.payloads)
}

// newTestService assembles a service over fresh fakes. The returned
// broadcaster records everything the service publishes.
func newTestService(t *testing.T,
	cfgMods ...func(*ServiceConfig)) (*Service, *recordingBroadcaster) {

	t.Helper()

	store := newTestStore(t)
	verifier := newTestVerifier()
	broadcaster := &recordingBroadcaster{}

	cfg := ServiceConfig{
		Store:         store,
		Verifier:      verifier,
		ChainVerifier: NewChainVerifier(store, verifier),
		Broadcaster:   broadcaster,
		SignerKey:     testKey(t),
	}
	for _, mod := range cfgMods {
		mod(&cfg)
	}

	svc := NewService(cfg)
	t.Cleanup(svc.Stop)
	return svc, broadcaster
}

// TestTradeAmountGate asserts that trades below the signing minimum do not
// produce an attestation.
func TestTradeAmountGate(t *testing.T) {
	t.Parallel()

	svc, broadcaster := newTestService(t)
	account := newTestAccount(0x30, time.Now())
	peer := testKey(t).PubKey().SerializeCompressed()

	w, err := svc.SignAndPublishAsTrader(
		MinTradeAmountForSigning-1, account, peer,
	)
	require.NoError(t, err)
	require.Nil(t, w)
	require.Zero(t, broadcaster.count())

	w, err = svc.SignAndPublishAsTrader(
		MinTradeAmountForSigning, account, peer,
	)
	require.NoError(t, err)
	require.NotNil(t, w)
	require.Equal(t, 1, broadcaster.count())
}

// TestDoubleSigningIsIdempotent asserts that signing an already attested
// account is a silent no-op for both signing paths.
func TestDoubleSigningIsIdempotent(t *testing.T) {
	t.Parallel()

	arbKey := testKey(t)
	svc, broadcaster := newTestService(t)
	account := newTestAccount(0x31, time.Now())
	peer := testKey(t).PubKey().SerializeCompressed()

	w, err := svc.SignAndPublishAsArbitrator(500_000, account, arbKey, peer)
	require.NoError(t, err)
	require.NotNil(t, w)

	// Both a repeated arbitrator signing and a trade signing of the same
	// account are absorbed.
	w, err = svc.SignAndPublishAsArbitrator(500_000, account, arbKey, peer)
	require.NoError(t, err)
	require.Nil(t, w)

	w, err = svc.SignAndPublishAsTrader(500_000, account, peer)
	require.NoError(t, err)
	require.Nil(t, w)

	require.Equal(t, 1, broadcaster.count())
}

// TestPublishSkipsHeldWitness asserts that a witness whose dedup hash is
// already stored is not broadcast again.
func TestPublishSkipsHeldWitness(t *testing.T) {
	t.Parallel()

	svc, broadcaster := newTestService(t)

	signerKey := testKey(t)
	owner := testKey(t).PubKey().SerializeCompressed()
	account := newTestAccount(0x32, time.Now())
	w := newTradeWitness(t, signerKey, owner, account, time.Now())

	require.NoError(t, svc.AddReceivedWitness(w))
	require.Zero(t, broadcaster.count())

	require.NoError(t, svc.Publish(w))
	require.Zero(t, broadcaster.count())

	fresh := newTradeWitness(t, signerKey, owner,
		newTestAccount(0x33, time.Now()), time.Now())
	require.NoError(t, svc.Publish(fresh))
	require.Equal(t, 1, broadcaster.count())
}

// TestWitnessDateQueries asserts the sorted date queries and their
// verification filter.
func TestWitnessDateQueries(t *testing.T) {
	t.Parallel()

	arbKey := testKey(t)
	store := newTestStore(t)
	verifier := newTestVerifier(arbKey)
	svc := NewService(ServiceConfig{
		Store:         store,
		Verifier:      verifier,
		ChainVerifier: NewChainVerifier(store, verifier),
		Broadcaster:   &recordingBroadcaster{},
	})
	t.Cleanup(svc.Stop)

	account := newTestAccount(0x34, time.Now())
	signerKey := testKey(t)
	owner := testKey(t).PubKey().SerializeCompressed()

	later := time.Now()
	earlier := later.Add(-40 * day)

	insert(t, store, newTradeWitness(t, signerKey, owner, account, later))
	insert(t, store, newArbitratorWitness(t, arbKey, owner, account,
		earlier))

	// A record with a signature that does not verify is visible to the
	// unverified query only.
	forged := NewSignedWitness(
		MethodTrade, account.hash,
		SignWitnessHashAsTrader(testKey(t), accountHash(42)),
		signerKey.PubKey().SerializeCompressed(), owner,
		later.Add(time.Hour), 250_000,
	)
	insert(t, store, forged)

	verified := svc.VerifiedWitnessDates(account)
	require.Equal(t, []int64{earlier.UnixMilli(), later.UnixMilli()},
		verified)

	unverified := svc.UnverifiedWitnessDates(account)
	require.Len(t, unverified, 3)
	require.IsIncreasing(t, unverified)

	require.True(t, svc.IsSignedByArbitrator(account))
}

// TestRootSignedWitnesses asserts that only attestations whose signer has
// no attested account of its own count as roots, with arbitrator roots
// filtered unless requested.
func TestRootSignedWitnesses(t *testing.T) {
	t.Parallel()

	arbKey := testKey(t)
	store := newTestStore(t)
	verifier := newTestVerifier(arbKey)
	svc := NewService(ServiceConfig{
		Store:         store,
		Verifier:      verifier,
		ChainVerifier: NewChainVerifier(store, verifier),
		Broadcaster:   &recordingBroadcaster{},
	})
	t.Cleanup(svc.Stop)

	t0 := time.Now().Add(-90 * day)
	keyA := testKey(t)
	keyB := testKey(t)

	// Arbitrator attests A's account, A attests B's account: the
	// arbitrator attestation is the only root.
	accountA := &testAccount{hash: accountHash(50), date: t0.UnixMilli()}
	insert(t, store, newArbitratorWitness(
		t, arbKey, keyA.PubKey().SerializeCompressed(), accountA, t0,
	))
	accountB := &testAccount{
		hash: accountHash(51),
		date: t0.Add(31 * day).UnixMilli(),
	}
	insert(t, store, newTradeWitness(
		t, keyA, keyB.PubKey().SerializeCompressed(), accountB,
		t0.Add(31*day),
	))

	require.Len(t, svc.RootSignedWitnesses(true), 1)
	require.Empty(t, svc.RootSignedWitnesses(false))
}

// TestSelfSign asserts that self-signing attests the local account with
// the identity key on both sides of the witness.
func TestSelfSign(t *testing.T) {
	t.Parallel()

	svc, broadcaster := newTestService(t)
	account := newTestAccount(0x3f, time.Now())

	w, err := svc.SelfSignAndPublish(account)
	require.NoError(t, err)
	require.NotNil(t, w)

	ownKey := svc.cfg.SignerKey.PubKey().SerializeCompressed()
	require.Equal(t, MethodTrade, w.Method)
	require.Equal(t, ownKey, w.SignerPubKey)
	require.Equal(t, ownKey, w.WitnessOwnerPubKey)
	require.Equal(t, int64(MinTradeAmountForSigning), w.TradeAmount)
	require.Equal(t, 1, broadcaster.count())

	// Repeating the self-signing is absorbed like any double signing.
	w, err = svc.SelfSignAndPublish(account)
	require.NoError(t, err)
	require.Nil(t, w)
	require.Equal(t, 1, broadcaster.count())
}

// TestArbitratorRepublish asserts that an arbitrator re-broadcasts the
// root witnesses, and only those, once after bootstrap.
func TestArbitratorRepublish(t *testing.T) {
	t.Parallel()

	bootstrapped := make(chan struct{})
	forceTick := ticker.NewForce(time.Hour)

	var store *Store
	svc, broadcaster := newTestService(t, func(cfg *ServiceConfig) {
		cfg.IsArbitrator = true
		cfg.Bootstrapped = bootstrapped
		cfg.RepublishTicker = forceTick
		store = cfg.Store
	})

	// Arbitrator attests A, A attests B. Only the arbitrator root needs
	// re-seeding; B's attestation is re-announced by A itself.
	t0 := time.Now().Add(-90 * day)
	arbKey := testKey(t)
	keyA := testKey(t)
	keyB := testKey(t)

	accountA := &testAccount{hash: accountHash(60), date: t0.UnixMilli()}
	insert(t, store, newArbitratorWitness(
		t, arbKey, keyA.PubKey().SerializeCompressed(), accountA, t0,
	))
	insert(t, store, newTradeWitness(
		t, keyA, keyB.PubKey().SerializeCompressed(),
		newTestAccount(0x40, t0.Add(31*day)), t0.Add(31*day),
	))

	svc.Start()

	// Nothing is re-broadcast before bootstrap completes.
	require.Zero(t, broadcaster.count())

	close(bootstrapped)
	forceTick.Force <- time.Now()

	require.Eventually(t, func() bool {
		return broadcaster.count() == 1
	}, 5*time.Second, 10*time.Millisecond)

	broadcaster.mu.Lock()
	republished := broadcaster.payloads[0].(*SignedWitness)
	broadcaster.mu.Unlock()
	require.True(t, republished.SignedByArbitrator())
}

// TestWitnessCapabilityGate asserts that signed witness payloads demand the
// peer capability that gates their delivery.
func TestWitnessCapabilityGate(t *testing.T) {
	t.Parallel()

	signerKey := testKey(t)
	owner := testKey(t).PubKey().SerializeCompressed()
	w := newTradeWitness(t, signerKey, owner,
		newTestAccount(0x41, time.Now()), time.Now())

	require.Equal(t, p2p.CapSignedAccountAgeWitness,
		w.RequiredCapability())
}

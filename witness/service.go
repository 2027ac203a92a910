// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package witness

import (
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/tradenet/tradenetd/p2p"
)

const (
	// MinTradeAmountForSigning is the minimum stake a trade must have
	// carried before the peers may vouch for each other. Smaller trades
	// make Sybil chains too cheap.
	MinTradeAmountForSigning = btcutil.Amount(250_000)

	// defaultRepublishDelay is how long after bootstrap completion an
	// arbitrator waits before re-broadcasting its held witnesses. The
	// delay lets the initial flood settle first.
	defaultRepublishDelay = time.Minute
)

// ServiceConfig houses the dependencies of the witness service.
type ServiceConfig struct {
	// Store is the signed witness repository.
	Store *Store

	// Verifier checks individual witness signatures.
	Verifier *Verifier

	// ChainVerifier walks attestation chains.
	ChainVerifier *ChainVerifier

	// Broadcaster floods new witnesses to capable peers.
	Broadcaster p2p.Broadcaster

	// SignerKey is the local peer's identity key, used for trade
	// attestations.
	SignerKey *btcec.PrivateKey

	// IsArbitrator marks the local peer as a registered arbitrator.
	// Arbitrators re-broadcast their held witnesses after bootstrap as a
	// liveness aid for new and returning peers.
	IsArbitrator bool

	// Bootstrapped is signalled (closed or sent on) once the initial
	// network bootstrap completes.
	Bootstrapped <-chan struct{}

	// RepublishTicker paces the post-bootstrap re-broadcast. If nil, a
	// one minute ticker is used.
	RepublishTicker ticker.Ticker
}

// Service orchestrates creation, publication and querying of signed
// witnesses. All mutation runs on the caller's dispatch context; only the
// bootstrap republisher owns a goroutine, and it hands its work back
// through the store which it accesses read-only.
type Service struct {
	cfg ServiceConfig

	started sync.Once
	stopped sync.Once
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewService constructs the witness service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.RepublishTicker == nil {
		cfg.RepublishTicker = ticker.New(defaultRepublishDelay)
	}
	return &Service{
		cfg:  cfg,
		quit: make(chan struct{}),
	}
}

// Start launches the bootstrap republisher when the local peer is an
// arbitrator.
func (s *Service) Start() {
	s.started.Do(func() {
		if !s.cfg.IsArbitrator {
			return
		}
		s.wg.Add(1)
		go s.republishHandler()
	})
}

// Stop shuts down the service.
func (s *Service) Stop() {
	s.stopped.Do(func() {
		close(s.quit)
		s.wg.Wait()
	})
}

// republishHandler waits for bootstrap completion and then re-broadcasts
// the held root witnesses once after the republish delay. Roots are the
// records only an arbitrator can re-seed; everything downstream is
// re-announced by its own owner.
func (s *Service) republishHandler() {
	defer s.wg.Done()

	select {
	case <-s.cfg.Bootstrapped:
	case <-s.quit:
		return
	}

	s.cfg.RepublishTicker.Resume()
	defer s.cfg.RepublishTicker.Stop()

	select {
	case <-s.cfg.RepublishTicker.Ticks():
	case <-s.quit:
		return
	}

	witnesses := s.RootSignedWitnesses(true)
	log.Infof("Arbitrator re-broadcasting %d root signed witnesses",
		len(witnesses))
	for _, w := range witnesses {
		s.cfg.Broadcaster.Broadcast(w)
	}
}

// SignAndPublishAsArbitrator creates, stores and broadcasts an arbitrator
// attestation for the given account. If the account already carries an
// attestation this is a no-op with a warning, not an error, so the signing
// path stays idempotent under replay.
func (s *Service) SignAndPublishAsArbitrator(tradeAmount btcutil.Amount,
	aw AccountAgeWitness, arbitratorKey *btcec.PrivateKey,
	peerPubKey []byte) (*SignedWitness, error) {

	if existing := s.cfg.Store.GetByAccountHash(aw.Hash()); len(existing) > 0 {
		log.Warnf("Account %x already has %d attestation(s), not "+
			"signing again", aw.Hash(), len(existing))
		return nil, nil
	}

	sig := SignWitnessHashAsArbitrator(arbitratorKey, aw.Hash())
	w := NewSignedWitness(
		MethodArbitrator, aw.Hash(), sig,
		arbitratorKey.PubKey().SerializeCompressed(), peerPubKey,
		time.Now(), tradeAmount,
	)
	if err := s.Publish(w); err != nil {
		return nil, err
	}
	return w, nil
}

// SignAndPublishAsTrader creates, stores and broadcasts a trade attestation
// signed with the local identity key. Besides the same dedup no-op as the
// arbitrator path, trades below MinTradeAmountForSigning are rejected with a
// warning: the stake gate is what makes vouching expensive for Sybils.
func (s *Service) SignAndPublishAsTrader(tradeAmount btcutil.Amount,
	aw AccountAgeWitness, peerPubKey []byte) (*SignedWitness, error) {

	if tradeAmount < MinTradeAmountForSigning {
		log.Warnf("Trade amount %v is below the signing minimum %v, "+
			"not signing account %x", tradeAmount,
			MinTradeAmountForSigning, aw.Hash())
		return nil, nil
	}
	if existing := s.cfg.Store.GetByAccountHash(aw.Hash()); len(existing) > 0 {
		log.Warnf("Account %x already has %d attestation(s), not "+
			"signing again", aw.Hash(), len(existing))
		return nil, nil
	}

	sig := SignWitnessHashAsTrader(s.cfg.SignerKey, aw.Hash())
	w := NewSignedWitness(
		MethodTrade, aw.Hash(), sig,
		s.cfg.SignerKey.PubKey().SerializeCompressed(), peerPubKey,
		time.Now(), tradeAmount,
	)
	if err := s.Publish(w); err != nil {
		return nil, err
	}
	return w, nil
}

// SelfSignAndPublish attests the local peer's own account at the minimum
// signing stake, with the identity key as both signer and owner. Used to
// carry an earned signer status over to the peer's other accounts; the
// resulting witness only counts once the signing account itself has a
// valid chain.
func (s *Service) SelfSignAndPublish(aw AccountAgeWitness) (*SignedWitness,
	error) {

	log.Infof("Signing own account %x", aw.Hash())
	return s.SignAndPublishAsTrader(
		MinTradeAmountForSigning, aw,
		s.cfg.SignerKey.PubKey().SerializeCompressed(),
	)
}

// Publish stores the witness and broadcasts it to the network unless its
// dedup hash is already held locally, in which case the broadcast is
// skipped: the rest of the network would dedup it away anyway.
func (s *Service) Publish(w *SignedWitness) error {
	inserted, err := s.cfg.Store.InsertIfAbsent(w)
	if err != nil {
		return err
	}
	if !inserted {
		log.Debugf("Not broadcasting already held witness %v", w)
		return nil
	}

	s.cfg.Broadcaster.Broadcast(w)
	return nil
}

// AddReceivedWitness records a witness received from the network, dedup by
// hash. Used for both the startup load of fresh payloads and live gossip.
func (s *Service) AddReceivedWitness(w *SignedWitness) error {
	inserted, err := s.cfg.Store.InsertIfAbsent(w)
	if err != nil {
		return err
	}
	if inserted {
		log.Debugf("Stored received witness %v", w)
	}
	return nil
}

// VerifiedWitnessDates returns the signing dates, ascending, of every
// attestation of the account whose signature verifies.
func (s *Service) VerifiedWitnessDates(aw AccountAgeWitness) []int64 {
	var dates []int64
	for _, w := range s.cfg.Store.GetByAccountHash(aw.Hash()) {
		if !s.cfg.Verifier.Verify(w) {
			continue
		}
		dates = append(dates, w.Date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })
	return dates
}

// UnverifiedWitnessDates returns the signing dates, ascending, of every
// attestation of the account without checking signatures. Only usable where
// self-deception has no security implication, e.g. display of the local
// account's own state.
func (s *Service) UnverifiedWitnessDates(aw AccountAgeWitness) []int64 {
	var dates []int64
	for _, w := range s.cfg.Store.GetByAccountHash(aw.Hash()) {
		dates = append(dates, w.Date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })
	return dates
}

// IsSignedByArbitrator reports whether any verifying attestation of the
// account was issued by an arbitrator.
func (s *Service) IsSignedByArbitrator(aw AccountAgeWitness) bool {
	for _, w := range s.cfg.Store.GetByAccountHash(aw.Hash()) {
		if w.SignedByArbitrator() && s.cfg.Verifier.Verify(w) {
			return true
		}
	}
	return false
}

// IsSignedAccountAgeWitness reports whether the account has a valid
// attestation chain.
func (s *Service) IsSignedAccountAgeWitness(aw AccountAgeWitness) bool {
	return s.cfg.ChainVerifier.IsSignedAccountAgeWitness(aw)
}

// IsSignerAccountAgeWitness reports whether the account may vouch for other
// accounts.
func (s *Service) IsSignerAccountAgeWitness(aw AccountAgeWitness) bool {
	return s.cfg.ChainVerifier.IsSignerAccountAgeWitness(aw)
}

// RootSignedWitnesses returns witnesses whose signer key has no attested
// account of its own, i.e. the roots of the locally known attestation
// forest. With includeArbitrators false, arbitrator attestations (the
// legitimate roots) are filtered out, leaving the orphaned subtrees.
func (s *Service) RootSignedWitnesses(includeArbitrators bool) []*SignedWitness {
	var roots []*SignedWitness
	for _, w := range s.cfg.Store.All() {
		if !includeArbitrators && w.SignedByArbitrator() {
			continue
		}
		if len(s.cfg.Store.GetByOwnerPubKey(w.SignerPubKey, nil)) == 0 {
			roots = append(roots, w)
		}
	}
	return roots
}

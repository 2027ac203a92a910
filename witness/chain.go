// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package witness

import (
	"time"
)

const (
	// SignerAge is how long a signer's own attestation must predate the
	// attestation it issues. Without it, a fresh account could vouch for
	// another fresh account and bootstrap an instant trust chain.
	SignerAge = 30 * 24 * time.Hour

	// maxExcludedKeys bounds the number of public keys visited on one
	// path of the attestation graph walk. Exceeding it means "no valid
	// signer found", not an error: an adversarially deep graph must
	// fail closed, cheaply.
	maxExcludedKeys = 2000
)

// ChainVerifier decides whether an account age witness carries an
// attestation that chains back to an arbitrator through valid, sufficiently
// aged peer attestations.
type ChainVerifier struct {
	store    *Store
	verifier *Verifier
}

// NewChainVerifier constructs a ChainVerifier over the given store and
// signature verifier.
func NewChainVerifier(store *Store, verifier *Verifier) *ChainVerifier {
	return &ChainVerifier{
		store:    store,
		verifier: verifier,
	}
}

// IsSignedAccountAgeWitness reports whether the account has any valid
// attestation chain at all.
func (v *ChainVerifier) IsSignedAccountAgeWitness(aw AccountAgeWitness) bool {
	// Project the reference date forward so that the signer age rule
	// degenerates to "signed any time in the past".
	return v.IsValidSigner(aw, time.Now().Add(SignerAge))
}

// IsSignerAccountAgeWitness reports whether the account's attestation is old
// enough for the account to vouch for others.
func (v *ChainVerifier) IsSignerAccountAgeWitness(aw AccountAgeWitness) bool {
	return v.IsValidSigner(aw, time.Now())
}

// IsValidSigner reports whether the account carries an attestation usable to
// vouch for other accounts at the given reference time. Each candidate
// attestation of the account is checked in turn, short-circuiting on the
// first valid chain.
func (v *ChainVerifier) IsValidSigner(aw AccountAgeWitness,
	at time.Time) bool {

	for _, w := range v.store.GetByAccountHash(aw.Hash()) {
		if v.validChain(w, at.UnixMilli()) {
			return true
		}
	}
	return false
}

// exclusionStack is the ordered set of public keys already visited on the
// current path. Stack discipline, not a global visited set: the same key may
// legitimately appear on different independent paths.
type exclusionStack struct {
	keys    []string
	members map[string]int
}

func newExclusionStack() *exclusionStack {
	return &exclusionStack{members: make(map[string]int)}
}

func (s *exclusionStack) push(key []byte) {
	k := string(key)
	s.keys = append(s.keys, k)
	s.members[k]++
}

func (s *exclusionStack) pop() {
	k := s.keys[len(s.keys)-1]
	s.keys = s.keys[:len(s.keys)-1]
	if s.members[k] <= 1 {
		delete(s.members, k)
	} else {
		s.members[k]--
	}
}

func (s *exclusionStack) contains(key []byte) bool {
	_, ok := s.members[string(key)]
	return ok
}

func (s *exclusionStack) len() int {
	return len(s.keys)
}

// frame is one in-progress node of the graph walk.
type frame struct {
	witness    *SignedWitness
	candidates []*SignedWitness
	next       int
}

// validChain walks the attestation graph from the given witness towards an
// arbitrator root. The walk is an explicit-stack depth first search so that
// adversarial graph shapes can never exhaust the native stack; total work is
// bounded by the exclusion set cap.
//
// A node is accepted when its signature verifies and it predates the child
// attestation by at least SignerAge. An accepted arbitrator attestation
// terminates the chain; an accepted peer attestation requires the signer to
// itself carry a valid chain, explored through all attestations owned by the
// signer key that are not already on the current path.
func (v *ChainVerifier) validChain(root *SignedWitness, childDate int64) bool {
	excluded := newExclusionStack()
	var stack []*frame

	// enter checks the non-recursive conditions of one witness. It
	// reports (done, valid): done with a verdict, or not done because
	// the witness is a peer attestation whose signer must be explored,
	// in which case a frame has been pushed.
	enter := func(w *SignedWitness, childDate int64) (bool, bool) {
		if !v.verifier.Verify(w) {
			return true, false
		}
		if !v.verifyDate(w, childDate) {
			return true, false
		}
		if excluded.len() >= maxExcludedKeys {
			log.Warnf("Attestation graph walk exceeded %d keys, "+
				"failing closed for %v", maxExcludedKeys, w)
			return true, false
		}
		if w.SignedByArbitrator() {
			return true, true
		}

		excluded.push(w.SignerPubKey)
		excluded.push(w.WitnessOwnerPubKey)
		stack = append(stack, &frame{
			witness: w,
			candidates: v.store.GetByOwnerPubKey(
				w.SignerPubKey, excluded.contains,
			),
		})
		return false, false
	}

	done, valid := enter(root, childDate)
	if done {
		return valid
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]

		// All of this node's signer attestations failed: unwind.
		if top.next >= len(top.candidates) {
			excluded.pop()
			excluded.pop()
			stack = stack[:len(stack)-1]
			continue
		}

		cand := top.candidates[top.next]
		top.next++

		done, valid := enter(cand, top.witness.Date)
		if done && valid {
			return true
		}
	}
	return false
}

// verifyDate enforces the signer age rule: the attestation must have been
// made at least SignerAge before the child attestation date.
func (v *ChainVerifier) verifyDate(w *SignedWitness, childDate int64) bool {
	return w.Date <= childDate-SignerAge.Milliseconds()
}

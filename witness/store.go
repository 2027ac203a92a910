// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package witness

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcwallet/walletdb"
)

// witnessBucketName is the top level bucket holding all signed witness
// records, keyed by their 20 byte dedup hash.
var witnessBucketName = []byte("signedwitness")

// Store is the append-only signed witness repository. It mirrors the
// durable bucket with an in-memory index so that reads never touch the
// database, and enforces first-write-wins in both layers from a single
// place.
//
// The store is exclusively owned by the witness service's dispatch context;
// it is deliberately unsynchronized.
type Store struct {
	db walletdb.DB

	byHash    map[[HashLen]byte]*SignedWitness
	byAccount map[string][]*SignedWitness
	byOwner   map[string][]*SignedWitness
}

// OpenStore opens the witness repository, creating the bucket on first use
// and loading every persisted record into the in-memory index. Records are
// re-hashed on load; a record that no longer hashes to its key is dropped
// with an error log rather than trusted.
func OpenStore(db walletdb.DB) (*Store, error) {
	s := &Store{
		db:        db,
		byHash:    make(map[[HashLen]byte]*SignedWitness),
		byAccount: make(map[string][]*SignedWitness),
		byOwner:   make(map[string][]*SignedWitness),
	}

	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		bucket, err := tx.CreateTopLevelBucket(witnessBucketName)
		if err != nil {
			return err
		}
		return bucket.ForEach(func(k, v []byte) error {
			w, err := ParseSignedWitness(v)
			if err != nil {
				log.Errorf("Skipping undecodable witness "+
					"record %x: %v", k, err)
				return nil
			}
			hash := w.Hash()
			if !bytes.Equal(hash[:], k) {
				log.Errorf("Skipping witness record %x: %v",
					k, storeError(ErrCorruptRecord,
						fmt.Sprintf("record hashes "+
							"to %x", hash), nil))
				return nil
			}
			s.index(w)
			return nil
		})
	})
	if err != nil {
		return nil, storeError(ErrDatabase,
			"unable to load signed witness bucket", err)
	}

	log.Infof("Loaded %d signed witnesses", len(s.byHash))
	return s, nil
}

// index adds a witness to the in-memory lookup maps.
func (s *Store) index(w *SignedWitness) {
	s.byHash[w.Hash()] = w
	s.byAccount[string(w.AccountWitnessHash)] = append(
		s.byAccount[string(w.AccountWitnessHash)], w,
	)
	s.byOwner[string(w.WitnessOwnerPubKey)] = append(
		s.byOwner[string(w.WitnessOwnerPubKey)], w,
	)
}

// InsertIfAbsent appends the witness to the durable bucket and the
// in-memory index unless a record with the same dedup hash is already held.
// The first writer wins; later duplicates report false with no error, which
// keeps the intake path idempotent under replay.
func (s *Store) InsertIfAbsent(w *SignedWitness) (bool, error) {
	hash := w.Hash()
	if _, ok := s.byHash[hash]; ok {
		return false, nil
	}

	value, err := w.Serialize()
	if err != nil {
		return false, storeError(ErrMalformedWitness,
			"unable to serialize signed witness", err)
	}

	err = walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(witnessBucketName)
		if existing := bucket.Get(hash[:]); existing != nil {
			// The bucket already has a record the index missed.
			// Keep the disk copy, it was first.
			return nil
		}
		return bucket.Put(hash[:], value)
	})
	if err != nil {
		return false, storeError(ErrDatabase,
			"unable to append signed witness", err)
	}

	s.index(w)
	return true, nil
}

// Contains reports whether a witness with the given dedup hash is held.
func (s *Store) Contains(hash [HashLen]byte) bool {
	_, ok := s.byHash[hash]
	return ok
}

// GetByHash returns the witness stored under the given dedup hash, or nil.
func (s *Store) GetByHash(hash [HashLen]byte) *SignedWitness {
	return s.byHash[hash]
}

// GetByAccountHash returns all witnesses vouching for the given account age
// witness hash.
func (s *Store) GetByAccountHash(accountWitnessHash []byte) []*SignedWitness {
	return s.byAccount[string(accountWitnessHash)]
}

// GetByOwnerPubKey returns all witnesses whose vouched account is owned by
// the given public key, excluding those signed by any of the excluded
// signer keys.
func (s *Store) GetByOwnerPubKey(ownerPubKey []byte,
	excludedSignerKeys func([]byte) bool) []*SignedWitness {

	all := s.byOwner[string(ownerPubKey)]
	if excludedSignerKeys == nil {
		return all
	}

	var filtered []*SignedWitness
	for _, w := range all {
		if excludedSignerKeys(w.SignerPubKey) {
			continue
		}
		filtered = append(filtered, w)
	}
	return filtered
}

// All returns every witness held in the index.
func (s *Store) All() []*SignedWitness {
	witnesses := make([]*SignedWitness, 0, len(s.byHash))
	for _, w := range s.byHash {
		witnesses = append(witnesses, w)
	}
	return witnesses
}

// Count returns the number of held witnesses.
func (s *Store) Count() int {
	return len(s.byHash)
}

// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package arbitration

import (
	"fmt"

	"github.com/btcsuite/btcwallet/walletdb"
)

// disputeBucketName is the top level bucket holding all dispute records,
// keyed by trade id.
var disputeBucketName = []byte("disputes")

// DisputeStore is the durable dispute repository. Unlike the witness
// repository it is not append-only: a dispute record is rewritten in place
// as settlement progresses, closed and never deleted.
//
// The store is exclusively owned by the settlement engine's dispatch
// context; it is deliberately unsynchronized.
type DisputeStore struct {
	db walletdb.DB

	disputes map[string]*Dispute
}

// OpenDisputeStore opens the dispute repository, creating the bucket on
// first use and loading every persisted record into memory.
func OpenDisputeStore(db walletdb.DB) (*DisputeStore, error) {
	s := &DisputeStore{
		db:       db,
		disputes: make(map[string]*Dispute),
	}

	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		bucket, err := tx.CreateTopLevelBucket(disputeBucketName)
		if err != nil {
			return err
		}
		return bucket.ForEach(func(k, v []byte) error {
			d, err := parseDispute(v)
			if err != nil {
				log.Errorf("Skipping undecodable dispute "+
					"record %s: %v", k, err)
				return nil
			}
			if d.TradeID != string(k) {
				log.Errorf("Skipping dispute record %s: "+
					"payload names trade %v", k, d.TradeID)
				return nil
			}
			s.disputes[d.TradeID] = d
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("unable to load dispute bucket: %w", err)
	}

	log.Infof("Loaded %d disputes", len(s.disputes))
	return s, nil
}

// Put persists the dispute record under its trade id, overwriting any
// previous snapshot, and updates the in-memory copy.
func (s *DisputeStore) Put(d *Dispute) error {
	value, err := serializeDispute(d)
	if err != nil {
		return fmt.Errorf("unable to serialize dispute %v: %w",
			d.TradeID, err)
	}

	err = walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(disputeBucketName)
		return bucket.Put([]byte(d.TradeID), value)
	})
	if err != nil {
		return fmt.Errorf("unable to persist dispute %v: %w",
			d.TradeID, err)
	}

	s.disputes[d.TradeID] = d
	return nil
}

// Get returns the dispute for the given trade id, or nil.
func (s *DisputeStore) Get(tradeID string) *Dispute {
	return s.disputes[tradeID]
}

// All returns every dispute held in memory.
func (s *DisputeStore) All() []*Dispute {
	disputes := make([]*Dispute, 0, len(s.disputes))
	for _, d := range s.disputes {
		disputes = append(disputes, d)
	}
	return disputes
}

// Count returns the number of held disputes.
func (s *DisputeStore) Count() int {
	return len(s.disputes)
}

// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/tradenet/tradenetd/escrow"
)

// localWallet is the in-process stand-in for an external wallet backend. It
// holds the optional arbitrator key and tracks transactions committed by
// the settlement engine, but it cannot derive per-trade multisig keys; a
// real wallet has to be attached for the trader payout path.
type localWallet struct {
	arbitratorKey *btcec.PrivateKey

	committed map[chainhash.Hash]*wire.MsgTx
}

func newLocalWallet(arbitratorKey *btcec.PrivateKey) *localWallet {
	return &localWallet{
		arbitratorKey: arbitratorKey,
		committed:     make(map[chainhash.Hash]*wire.MsgTx),
	}
}

// ArbitratorAddressPubKey returns the public key of the local arbitrator
// key, or nil when the node does not run in arbitrator mode.
func (w *localWallet) ArbitratorAddressPubKey() []byte {
	if w.arbitratorKey == nil {
		return nil
	}
	return w.arbitratorKey.PubKey().SerializeCompressed()
}

// MultiSigKey fails until an external wallet backend is attached.
func (w *localWallet) MultiSigKey(tradeID string,
	multiSigPubKey []byte) (*btcec.PrivateKey, error) {

	return nil, fmt.Errorf("multisig key derivation for trade %v "+
		"requires an external wallet backend", tradeID)
}

// PayoutTx returns nil; the local wallet has no trade history.
func (w *localWallet) PayoutTx(tradeID string) *wire.MsgTx {
	return nil
}

// CommitTx records a network-observed transaction.
func (w *localWallet) CommitTx(tx *wire.MsgTx) {
	hash := tx.TxHash()
	if _, ok := w.committed[hash]; ok {
		return
	}
	w.committed[hash] = tx
	log.Infof("Committed transaction %v", hash)
}

// A compile time check to ensure localWallet satisfies the wallet bridge.
var _ escrow.WalletBridge = (*localWallet)(nil)

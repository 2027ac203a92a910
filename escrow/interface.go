// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package escrow

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// WalletBridge is the slice of the wallet the settlement engine needs. The
// wallet itself, with key derivation and UTXO bookkeeping, lives outside
// this module.
type WalletBridge interface {
	// ArbitratorAddressPubKey returns the public key of the local
	// arbitrator address entry, or nil when the local peer has none.
	ArbitratorAddressPubKey() []byte

	// MultiSigKey returns the private key matching the local party's
	// multisig public key for the given trade.
	MultiSigKey(tradeID string, multiSigPubKey []byte) (*btcec.PrivateKey,
		error)

	// PayoutTx returns the payout transaction already known for the
	// trade, or nil.
	PayoutTx(tradeID string) *wire.MsgTx

	// CommitTx records a network-observed transaction into the wallet
	// view.
	CommitTx(tx *wire.MsgTx)
}

// TxBroadcaster publishes transactions to the Bitcoin network. The returned
// channel receives exactly one buffered result: the transaction hash on
// acceptance, or the broadcast fault.
type TxBroadcaster interface {
	Broadcast(tx *wire.MsgTx) <-chan fn.Result[chainhash.Hash]
}

// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package escrow

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrNoChainBackend is delivered by the NullBroadcaster for every
// transaction.
var ErrNoChainBackend = errors.New("no chain backend configured")

// RPCBroadcaster publishes transactions through a btcd full node over its
// websocket RPC interface.
type RPCBroadcaster struct {
	// Client is the connected btcd RPC client.
	Client *rpcclient.Client
}

// Broadcast submits the transaction to the backing node. The returned
// channel receives exactly one buffered result.
func (b *RPCBroadcaster) Broadcast(tx *wire.MsgTx) <-chan fn.Result[chainhash.Hash] {
	resultChan := make(chan fn.Result[chainhash.Hash], 1)

	go func() {
		hash, err := b.Client.SendRawTransaction(tx, false)
		if err != nil {
			log.Errorf("Broadcast of %v rejected: %v",
				tx.TxHash(), err)
			resultChan <- fn.Err[chainhash.Hash](err)
			return
		}
		resultChan <- fn.Ok(*hash)
	}()

	return resultChan
}

// NullBroadcaster is the TxBroadcaster of a node running without a chain
// backend. Every broadcast fails with ErrNoChainBackend.
type NullBroadcaster struct{}

// Broadcast delivers ErrNoChainBackend.
func (NullBroadcaster) Broadcast(tx *wire.MsgTx) <-chan fn.Result[chainhash.Hash] {
	resultChan := make(chan fn.Result[chainhash.Hash], 1)
	resultChan <- fn.Err[chainhash.Hash](ErrNoChainBackend)
	return resultChan
}

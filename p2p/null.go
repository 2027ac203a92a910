// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"errors"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrNoTransport is returned for sends attempted before a real transport
// backend has been attached.
var ErrNoTransport = errors.New("no transport backend attached")

// NullTransport is a Broadcaster and MailboxSender that drops everything on
// the floor. It stands in for the overlay network when the daemon runs
// without a transport backend, e.g. during local development.
type NullTransport struct{}

// NewNullTransport returns a transport that logs and discards all traffic.
func NewNullTransport() *NullTransport {
	return &NullTransport{}
}

// Broadcast discards the payload.
func (t *NullTransport) Broadcast(payload StoragePayload) {
	log.Debugf("Null transport dropping broadcast of %T", payload)
}

// SendEncrypted fails every send with ErrNoTransport.
func (t *NullTransport) SendEncrypted(peer NodeAddress, peerPubKey []byte,
	msg MailboxMessage) <-chan fn.Result[DeliveryStatus] {

	log.Debugf("Null transport dropping %T to %v. tradeID=%v, uid=%v",
		msg, peer, msg.TradeID(), msg.UID())

	resChan := make(chan fn.Result[DeliveryStatus], 1)
	resChan <- fn.Err[DeliveryStatus](ErrNoTransport)
	return resChan
}

// A compile time check to ensure NullTransport satisfies both transport
// interfaces.
var _ Broadcaster = (*NullTransport)(nil)
var _ MailboxSender = (*NullTransport)(nil)

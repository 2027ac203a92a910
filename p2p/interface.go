// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"github.com/lightningnetwork/lnd/fn/v2"
)

// NodeAddress identifies a peer's hidden service endpoint on the trading
// overlay.
type NodeAddress string

// Capability identifies an optional protocol feature a peer has announced
// support for. Peers must never be sent a payload whose capability they
// lack, as unknown message types cause them to disconnect.
type Capability uint16

const (
	// CapTradeStatistics is announced by peers able to process trade
	// statistic payloads.
	CapTradeStatistics Capability = iota

	// CapAccountAgeWitness is announced by peers able to process account
	// age witness payloads.
	CapAccountAgeWitness

	// CapSignedAccountAgeWitness is announced by peers able to process
	// signed account age witness payloads.
	CapSignedAccountAgeWitness

	// CapMediation is announced by peers supporting the mediation based
	// dispute protocols.
	CapMediation
)

// DeliveryStatus reports how a mailbox message reached its destination.
type DeliveryStatus uint8

const (
	// Arrived means the peer was online and acknowledged receipt
	// directly.
	Arrived DeliveryStatus = iota

	// StoredInMailbox means the peer was offline and the message was
	// deposited with its mailbox nodes for later pickup.
	StoredInMailbox
)

// String returns a human readable delivery status.
func (s DeliveryStatus) String() string {
	switch s {
	case Arrived:
		return "Arrived"
	case StoredInMailbox:
		return "StoredInMailbox"
	default:
		return "Unknown"
	}
}

// StoragePayload is an entry replicated into the network-wide append-only
// data store.
type StoragePayload interface {
	// RequiredCapability names the capability a peer must have announced
	// before this payload may be sent to it.
	RequiredCapability() Capability

	// Serialize returns the wire encoding of the payload.
	Serialize() ([]byte, error)
}

// Broadcaster floods storage payloads to all connected peers that announced
// the payload's required capability.
type Broadcaster interface {
	Broadcast(payload StoragePayload)
}

// MailboxMessage is a direct, encrypted message addressed to a single peer.
// Delivery falls back to the peer's mailbox nodes when it is offline.
type MailboxMessage interface {
	// TradeID returns the trade the message belongs to.
	TradeID() string

	// UID returns the globally unique id of this message instance.
	UID() string
}

// MailboxSender delivers mailbox messages asynchronously. The returned
// channel receives exactly one result: the delivery status on success, or
// the transport fault otherwise. The channel is buffered, so the result may
// be consumed at leisure or dropped entirely.
type MailboxSender interface {
	SendEncrypted(peer NodeAddress, peerPubKey []byte,
		msg MailboxMessage) <-chan fn.Result[DeliveryStatus]
}

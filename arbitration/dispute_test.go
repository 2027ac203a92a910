// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package arbitration

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"

	"github.com/tradenet/tradenetd/p2p"
)

func testPubKey(t *testing.T) []byte {
	t.Helper()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return key.PubKey().SerializeCompressed()
}

// newTestContract builds a contract with fresh keys for both sides.
func newTestContract(t *testing.T, tradeID string) *Contract {
	t.Helper()

	return &Contract{
		TradeID:              tradeID,
		BuyerPubKey:          testPubKey(t),
		SellerPubKey:         testPubKey(t),
		BuyerPayoutAddress:   "SbuyerPayoutAddress",
		SellerPayoutAddress:  "SsellerPayoutAddress",
		BuyerMultiSigPubKey:  testPubKey(t),
		SellerMultiSigPubKey: testPubKey(t),
		BuyerNodeAddress:     "buyer.onion:9999",
		SellerNodeAddress:    "seller.onion:9999",
	}
}

// newTestResult builds a ruling with an embedded closing chat message.
func newTestResult(t *testing.T, tradeID string, winner Winner,
	loserPublisher bool) *DisputeResult {

	t.Helper()

	return &DisputeResult{
		TradeID:        tradeID,
		Winner:         winner,
		LoserPublisher: loserPublisher,

		BuyerPayoutAmount:   600_000,
		SellerPayoutAmount:  399_000,
		ArbitratorSignature: []byte{0x30, 0x44, 0x02, 0x20},
		ArbitratorPubKey:    testPubKey(t),
		ChatMessage: &ChatMessage{
			UID:           "chat-uid-1",
			TradeID:       tradeID,
			SenderAddress: "arbitrator.onion:9999",
			Message:       "ruling attached",
			Date:          time.Now().UnixMilli(),
		},
	}
}

// TestResultPublisher covers the loser-publisher inversion matrix.
func TestResultPublisher(t *testing.T) {
	t.Parallel()

	tests := []struct {
		winner         Winner
		loserPublisher bool
		publisher      Winner
	}{
		{WinnerBuyer, false, WinnerBuyer},
		{WinnerSeller, false, WinnerSeller},
		{WinnerBuyer, true, WinnerSeller},
		{WinnerSeller, true, WinnerBuyer},
	}
	for _, test := range tests {
		r := &DisputeResult{
			Winner:         test.winner,
			LoserPublisher: test.loserPublisher,
		}
		require.Equal(t, test.publisher, r.Publisher(),
			"winner=%v loserPublisher=%v", test.winner,
			test.loserPublisher)
	}
}

// TestChatMessageDedup asserts that re-adding a chat message by uid is a
// no-op.
func TestChatMessageDedup(t *testing.T) {
	t.Parallel()

	d := &Dispute{TradeID: "trade-1"}
	msg := &ChatMessage{UID: "uid-1", TradeID: "trade-1", Message: "hello"}

	d.AddChatMessage(msg)
	d.AddChatMessage(msg)
	d.AddChatMessage(&ChatMessage{UID: "uid-1", Message: "replayed"})
	require.Len(t, d.ChatMessages, 1)

	d.AddChatMessage(&ChatMessage{UID: "uid-2", Message: "second"})
	require.Len(t, d.ChatMessages, 2)
	require.True(t, d.HasChatMessage("uid-1"))
	require.True(t, d.HasChatMessage("uid-2"))
	require.False(t, d.HasChatMessage("uid-3"))
}

// TestContractRoles asserts role derivation from the contract key ring.
func TestContractRoles(t *testing.T) {
	t.Parallel()

	c := newTestContract(t, "trade-1")

	require.True(t, c.IsBuyer(c.BuyerPubKey))
	require.False(t, c.IsBuyer(c.SellerPubKey))

	peerKey, peerAddr := c.PeerOf(c.BuyerPubKey)
	require.Equal(t, c.SellerPubKey, peerKey)
	require.Equal(t, c.SellerNodeAddress, peerAddr)

	peerKey, peerAddr = c.PeerOf(c.SellerPubKey)
	require.Equal(t, c.BuyerPubKey, peerKey)
	require.Equal(t, c.BuyerNodeAddress, peerAddr)
}

// TestContractSerialization round-trips the contract snapshot on its own.
// The codec shares its stream with the record's trade id, so every field
// must encode under its assigned type.
func TestContractSerialization(t *testing.T) {
	t.Parallel()

	c := newTestContract(t, "trade-1")

	encoded, err := serializeContract(c)
	require.NoError(t, err)

	decoded, err := parseContract(encoded)
	require.NoError(t, err)
	require.Equal(t, c, decoded)
}

// TestDisputeSerialization round-trips a dispute through its persisted
// form, with and without an attached ruling.
func TestDisputeSerialization(t *testing.T) {
	t.Parallel()

	d := &Dispute{
		TradeID:       "trade-1",
		OpenerIsBuyer: true,
		Opened:        time.Now().UnixMilli(),
		Contract:      newTestContract(t, "trade-1"),
		ChatMessages: []*ChatMessage{
			{
				UID:           "uid-1",
				TradeID:       "trade-1",
				SenderAddress: "buyer.onion:9999",
				Message:       "opening the dispute",
				Date:          time.Now().UnixMilli(),
			},
			{
				UID:     "uid-2",
				TradeID: "trade-1",
				Message: "second message",
			},
		},
		State:               StateStartedLocally,
		DepositTxSerialized: []byte{0x01, 0x02, 0x03},
	}

	encoded, err := serializeDispute(d)
	require.NoError(t, err)
	decoded, err := parseDispute(encoded)
	require.NoError(t, err)

	require.Equal(t, d.TradeID, decoded.TradeID)
	require.Equal(t, d.OpenerIsBuyer, decoded.OpenerIsBuyer)
	require.Equal(t, d.Opened, decoded.Opened)
	require.Equal(t, d.Contract, decoded.Contract,
		"decoded contract: %v", spew.Sdump(decoded.Contract))
	require.Equal(t, d.ChatMessages, decoded.ChatMessages)
	require.Equal(t, d.State, decoded.State)
	require.Nil(t, decoded.Result)
	require.Equal(t, d.DepositTxSerialized, decoded.DepositTxSerialized)

	// Attach a ruling and re-check.
	d.Result = newTestResult(t, "trade-1", WinnerSeller, true)
	d.State = StateClosed
	d.IsClosed = true
	d.PayoutTxID = "deadbeef"

	encoded, err = serializeDispute(d)
	require.NoError(t, err)
	decoded, err = parseDispute(encoded)
	require.NoError(t, err)

	require.Equal(t, d.Result, decoded.Result)
	require.Equal(t, StateClosed, decoded.State)
	require.True(t, decoded.IsClosed)
	require.Equal(t, "deadbeef", decoded.PayoutTxID)
}

// TestMessageSerialization round-trips every support message type through
// ParseMessage.
func TestMessageSerialization(t *testing.T) {
	t.Parallel()

	dispute := &Dispute{
		TradeID:             "trade-1",
		OpenerIsBuyer:       true,
		Opened:              time.Now().UnixMilli(),
		Contract:            newTestContract(t, "trade-1"),
		State:               StateStartedLocally,
		DepositTxSerialized: []byte{0x01, 0x02},
	}
	sender := p2p.NodeAddress("buyer.onion:9999")

	messages := []SupportMessage{
		NewOpenNewDisputeMessage(dispute, sender),
		NewPeerOpenedDisputeMessage(dispute, sender),
		NewDisputeResultMessage(
			newTestResult(t, "trade-1", WinnerBuyer, false),
			"arbitrator.onion:9999", testPubKey(t),
		),
		NewPeerPublishedDisputePayoutTxMessage(
			"trade-1", []byte{0xaa, 0xbb}, sender,
		),
	}
	messages = append(messages, NewAckMessage(
		messages[2], "seller.onion:9999", false, "no deposit tx",
	))

	for _, msg := range messages {
		encoded, err := msg.Serialize()
		require.NoError(t, err)

		decoded, err := ParseMessage(encoded)
		require.NoError(t, err)
		require.Equal(t, msg.Type(), decoded.Type())
		require.Equal(t, msg.UID(), decoded.UID())
		require.Equal(t, msg.TradeID(), decoded.TradeID())
		require.Equal(t, msg, decoded)
	}
}

// TestParseMessageRejectsUnknown asserts unknown type bytes and empty
// input are rejected.
func TestParseMessageRejectsUnknown(t *testing.T) {
	t.Parallel()

	_, err := ParseMessage(nil)
	require.Error(t, err)

	_, err = ParseMessage([]byte{0xff, 0x01, 0x02})
	require.Error(t, err)
}

// TestMessageUIDsAreUnique asserts every constructed message gets its own
// uid.
func TestMessageUIDsAreUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		msg := NewPeerPublishedDisputePayoutTxMessage(
			"trade-1", nil, "peer.onion:9999",
		)
		_, ok := seen[msg.UID()]
		require.False(t, ok)
		seen[msg.UID()] = struct{}{}
	}
}

// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package arbitration

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/tlv"

	"github.com/tradenet/tradenetd/p2p"
)

// Winner identifies the party a dispute was ruled for.
type Winner uint8

const (
	// WinnerBuyer means the buyer receives the (larger) payout.
	WinnerBuyer Winner = 0

	// WinnerSeller means the seller receives the (larger) payout.
	WinnerSeller Winner = 1
)

// String returns a human readable winner name.
func (w Winner) String() string {
	switch w {
	case WinnerBuyer:
		return "Buyer"
	case WinnerSeller:
		return "Seller"
	default:
		return fmt.Sprintf("Unknown Winner (%d)", uint8(w))
	}
}

// other returns the opposite party.
func (w Winner) other() Winner {
	if w == WinnerBuyer {
		return WinnerSeller
	}
	return WinnerBuyer
}

// State tracks a dispute through settlement. Closed is terminal.
type State uint8

const (
	// StateNoDispute is the zero state of a trade without a dispute.
	StateNoDispute State = iota

	// StateStartedByPeer means the counterparty opened the dispute.
	StateStartedByPeer

	// StateStartedLocally means the local party opened the dispute.
	StateStartedLocally

	// StateResultReceived means the arbitrator's ruling has arrived.
	StateResultReceived

	// StatePayoutPublished means the local party broadcast the payout
	// transaction.
	StatePayoutPublished

	// StatePayoutReceivedFromPeer means the counterparty broadcast the
	// payout transaction and sent it over.
	StatePayoutReceivedFromPeer

	// StateClosed is terminal.
	StateClosed
)

// String returns a human readable state name.
func (s State) String() string {
	switch s {
	case StateNoDispute:
		return "NoDispute"
	case StateStartedByPeer:
		return "StartedByPeer"
	case StateStartedLocally:
		return "StartedLocally"
	case StateResultReceived:
		return "ResultReceived"
	case StatePayoutPublished:
		return "PayoutPublished"
	case StatePayoutReceivedFromPeer:
		return "PayoutReceivedFromPeer"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Unknown State (%d)", uint8(s))
	}
}

// Contract is the immutable snapshot of the escrow contract both parties
// signed at trade time: identity keys, payout addresses, escrow keys and
// overlay addresses of both sides.
type Contract struct {
	TradeID string

	BuyerPubKey  []byte
	SellerPubKey []byte

	BuyerPayoutAddress  string
	SellerPayoutAddress string

	BuyerMultiSigPubKey  []byte
	SellerMultiSigPubKey []byte

	BuyerNodeAddress  p2p.NodeAddress
	SellerNodeAddress p2p.NodeAddress
}

// IsBuyer reports whether the given identity key is the contract's buyer.
func (c *Contract) IsBuyer(pubKey []byte) bool {
	return bytes.Equal(c.BuyerPubKey, pubKey)
}

// PeerOf returns the identity key and overlay address of the counterparty
// of the given identity key.
func (c *Contract) PeerOf(pubKey []byte) ([]byte, p2p.NodeAddress) {
	if c.IsBuyer(pubKey) {
		return c.SellerPubKey, c.SellerNodeAddress
	}
	return c.BuyerPubKey, c.BuyerNodeAddress
}

// ChatMessage is one entry of a dispute's communication thread. The
// arbitrator's ruling carries its closing chat message embedded.
type ChatMessage struct {
	UID           string
	TradeID       string
	SenderAddress p2p.NodeAddress
	Message       string
	Date          int64
}

// DisputeResult is the arbitrator's ruling on a dispute. Immutable once
// issued; attached to exactly one dispute.
type DisputeResult struct {
	TradeID string

	// Winner names the ruled-for party.
	Winner Winner

	// LoserPublisher inverts broadcast responsibility: the losing party
	// publishes the payout transaction. Used when the winner is expected
	// to stay offline, so the ruling can still be executed without
	// re-arbitration.
	LoserPublisher bool

	BuyerPayoutAmount  btcutil.Amount
	SellerPayoutAmount btcutil.Amount

	// ArbitratorSignature is the arbitrator's escrow input signature for
	// the agreed payout transaction.
	ArbitratorSignature []byte

	// ArbitratorPubKey is the arbitrator's escrow public key.
	ArbitratorPubKey []byte

	// ChatMessage is the arbitrator's closing message.
	ChatMessage *ChatMessage
}

// Publisher returns the party responsible for broadcasting the payout
// transaction: the winner, or the loser when the ruling set the inversion
// flag.
func (r *DisputeResult) Publisher() Winner {
	if r.LoserPublisher {
		return r.Winner.other()
	}
	return r.Winner
}

// Dispute is the mutable per-trade settlement record. One Dispute exists
// per trade id; it is owned by the settlement engine's dispute list and is
// closed, never deleted, once an outcome is final.
type Dispute struct {
	TradeID string

	// OpenerIsBuyer records which side opened the dispute; the payout
	// notification is addressed to the opposite side of the opener.
	OpenerIsBuyer bool

	// Opened is the opening time in milliseconds since the epoch.
	Opened int64

	Contract *Contract

	ChatMessages []*ChatMessage

	// Result is nil until the arbitrator rules.
	Result *DisputeResult

	State State

	// IsClosed is set as soon as a ruling is applied, before the payout
	// has necessarily been published.
	IsClosed bool

	// DepositTxSerialized is the raw escrow deposit transaction.
	DepositTxSerialized []byte

	// PayoutTxID is the id of the final payout transaction once known.
	PayoutTxID string
}

// HasChatMessage reports whether a chat message with the given uid was
// already recorded.
func (d *Dispute) HasChatMessage(uid string) bool {
	for _, m := range d.ChatMessages {
		if m.UID == uid {
			return true
		}
	}
	return false
}

// AddChatMessage records a chat message, skipping duplicates by uid.
func (d *Dispute) AddChatMessage(m *ChatMessage) {
	if d.HasChatMessage(m.UID) {
		log.Warnf("We already stored the chat message with uid %v. "+
			"tradeID=%v", m.UID, d.TradeID)
		return
	}
	d.ChatMessages = append(d.ChatMessages, m)
}

// tlv types of the persisted and wire-carried dispute structures.
const (
	typeTradeID             tlv.Type = 1
	typeOpenerIsBuyer       tlv.Type = 2
	typeOpened              tlv.Type = 3
	typeContract            tlv.Type = 4
	typeChatMessages        tlv.Type = 5
	typeResult              tlv.Type = 6
	typeState               tlv.Type = 7
	typeIsClosed            tlv.Type = 8
	typeDepositTx           tlv.Type = 9
	typePayoutTxID          tlv.Type = 10
	typeBuyerPubKey         tlv.Type = 2
	typeSellerPubKey        tlv.Type = 3
	typeBuyerPayoutAddr     tlv.Type = 4
	typeSellerPayoutAddr    tlv.Type = 5
	typeBuyerMultiSigKey    tlv.Type = 6
	typeSellerMultiSigKey   tlv.Type = 7
	typeBuyerNodeAddress    tlv.Type = 8
	typeSellerNodeAddress   tlv.Type = 9
	typeWinner              tlv.Type = 2
	typeLoserPublisher      tlv.Type = 3
	typeBuyerPayoutAmount   tlv.Type = 4
	typeSellerPayoutAmount  tlv.Type = 5
	typeArbitratorSignature tlv.Type = 6
	typeArbitratorPubKey    tlv.Type = 7
	typeResultChatMessage   tlv.Type = 8
	typeChatUID             tlv.Type = 1
	typeChatTradeID         tlv.Type = 2
	typeChatSender          tlv.Type = 3
	typeChatText            tlv.Type = 4
	typeChatDate            tlv.Type = 5
)

// encodeStream encodes the given records as one tlv stream.
func encodeStream(records ...tlv.Record) ([]byte, error) {
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeStream decodes one tlv stream into the given records.
func decodeStream(b []byte, records ...tlv.Record) error {
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}
	return stream.Decode(bytes.NewReader(b))
}

// boolByte converts a bool for tlv primitive encoding.
func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

// serializeContract encodes a contract snapshot.
func serializeContract(c *Contract) ([]byte, error) {
	buyerNode := []byte(c.BuyerNodeAddress)
	sellerNode := []byte(c.SellerNodeAddress)
	buyerAddr := []byte(c.BuyerPayoutAddress)
	sellerAddr := []byte(c.SellerPayoutAddress)
	tradeID := []byte(c.TradeID)
	return encodeStream(
		tlv.MakePrimitiveRecord(typeTradeID, &tradeID),
		tlv.MakePrimitiveRecord(typeBuyerPubKey, &c.BuyerPubKey),
		tlv.MakePrimitiveRecord(typeSellerPubKey, &c.SellerPubKey),
		tlv.MakePrimitiveRecord(typeBuyerPayoutAddr, &buyerAddr),
		tlv.MakePrimitiveRecord(typeSellerPayoutAddr, &sellerAddr),
		tlv.MakePrimitiveRecord(typeBuyerMultiSigKey,
			&c.BuyerMultiSigPubKey),
		tlv.MakePrimitiveRecord(typeSellerMultiSigKey,
			&c.SellerMultiSigPubKey),
		tlv.MakePrimitiveRecord(typeBuyerNodeAddress, &buyerNode),
		tlv.MakePrimitiveRecord(typeSellerNodeAddress, &sellerNode),
	)
}

// parseContract decodes a contract snapshot.
func parseContract(b []byte) (*Contract, error) {
	var (
		c          Contract
		tradeID    []byte
		buyerNode  []byte
		sellerNode []byte
		buyerAddr  []byte
		sellerAddr []byte
	)
	err := decodeStream(b,
		tlv.MakePrimitiveRecord(typeTradeID, &tradeID),
		tlv.MakePrimitiveRecord(typeBuyerPubKey, &c.BuyerPubKey),
		tlv.MakePrimitiveRecord(typeSellerPubKey, &c.SellerPubKey),
		tlv.MakePrimitiveRecord(typeBuyerPayoutAddr, &buyerAddr),
		tlv.MakePrimitiveRecord(typeSellerPayoutAddr, &sellerAddr),
		tlv.MakePrimitiveRecord(typeBuyerMultiSigKey,
			&c.BuyerMultiSigPubKey),
		tlv.MakePrimitiveRecord(typeSellerMultiSigKey,
			&c.SellerMultiSigPubKey),
		tlv.MakePrimitiveRecord(typeBuyerNodeAddress, &buyerNode),
		tlv.MakePrimitiveRecord(typeSellerNodeAddress, &sellerNode),
	)
	if err != nil {
		return nil, err
	}
	c.TradeID = string(tradeID)
	c.BuyerPayoutAddress = string(buyerAddr)
	c.SellerPayoutAddress = string(sellerAddr)
	c.BuyerNodeAddress = p2p.NodeAddress(buyerNode)
	c.SellerNodeAddress = p2p.NodeAddress(sellerNode)
	return &c, nil
}

// serializeChatMessage encodes a chat message.
func serializeChatMessage(m *ChatMessage) ([]byte, error) {
	uid := []byte(m.UID)
	tradeID := []byte(m.TradeID)
	sender := []byte(m.SenderAddress)
	text := []byte(m.Message)
	date := uint64(m.Date)
	return encodeStream(
		tlv.MakePrimitiveRecord(typeChatUID, &uid),
		tlv.MakePrimitiveRecord(typeChatTradeID, &tradeID),
		tlv.MakePrimitiveRecord(typeChatSender, &sender),
		tlv.MakePrimitiveRecord(typeChatText, &text),
		tlv.MakePrimitiveRecord(typeChatDate, &date),
	)
}

// parseChatMessage decodes a chat message.
func parseChatMessage(b []byte) (*ChatMessage, error) {
	var (
		uid     []byte
		tradeID []byte
		sender  []byte
		text    []byte
		date    uint64
	)
	err := decodeStream(b,
		tlv.MakePrimitiveRecord(typeChatUID, &uid),
		tlv.MakePrimitiveRecord(typeChatTradeID, &tradeID),
		tlv.MakePrimitiveRecord(typeChatSender, &sender),
		tlv.MakePrimitiveRecord(typeChatText, &text),
		tlv.MakePrimitiveRecord(typeChatDate, &date),
	)
	if err != nil {
		return nil, err
	}
	return &ChatMessage{
		UID:           string(uid),
		TradeID:       string(tradeID),
		SenderAddress: p2p.NodeAddress(sender),
		Message:       string(text),
		Date:          int64(date),
	}, nil
}

// serializeResult encodes a dispute result.
func serializeResult(r *DisputeResult) ([]byte, error) {
	tradeID := []byte(r.TradeID)
	winner := uint8(r.Winner)
	loserPub := boolByte(r.LoserPublisher)
	buyerAmt := uint64(r.BuyerPayoutAmount)
	sellerAmt := uint64(r.SellerPayoutAmount)

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeTradeID, &tradeID),
		tlv.MakePrimitiveRecord(typeWinner, &winner),
		tlv.MakePrimitiveRecord(typeLoserPublisher, &loserPub),
		tlv.MakePrimitiveRecord(typeBuyerPayoutAmount, &buyerAmt),
		tlv.MakePrimitiveRecord(typeSellerPayoutAmount, &sellerAmt),
		tlv.MakePrimitiveRecord(typeArbitratorSignature,
			&r.ArbitratorSignature),
		tlv.MakePrimitiveRecord(typeArbitratorPubKey,
			&r.ArbitratorPubKey),
	}
	if r.ChatMessage != nil {
		chat, err := serializeChatMessage(r.ChatMessage)
		if err != nil {
			return nil, err
		}
		records = append(records, tlv.MakePrimitiveRecord(
			typeResultChatMessage, &chat,
		))
	}
	return encodeStream(records...)
}

// parseResult decodes a dispute result.
func parseResult(b []byte) (*DisputeResult, error) {
	var (
		r         DisputeResult
		tradeID   []byte
		winner    uint8
		loserPub  uint8
		buyerAmt  uint64
		sellerAmt uint64
		chat      []byte
	)
	err := decodeStream(b,
		tlv.MakePrimitiveRecord(typeTradeID, &tradeID),
		tlv.MakePrimitiveRecord(typeWinner, &winner),
		tlv.MakePrimitiveRecord(typeLoserPublisher, &loserPub),
		tlv.MakePrimitiveRecord(typeBuyerPayoutAmount, &buyerAmt),
		tlv.MakePrimitiveRecord(typeSellerPayoutAmount, &sellerAmt),
		tlv.MakePrimitiveRecord(typeArbitratorSignature,
			&r.ArbitratorSignature),
		tlv.MakePrimitiveRecord(typeArbitratorPubKey,
			&r.ArbitratorPubKey),
		tlv.MakePrimitiveRecord(typeResultChatMessage, &chat),
	)
	if err != nil {
		return nil, err
	}
	r.TradeID = string(tradeID)
	r.Winner = Winner(winner)
	r.LoserPublisher = loserPub != 0
	r.BuyerPayoutAmount = btcutil.Amount(buyerAmt)
	r.SellerPayoutAmount = btcutil.Amount(sellerAmt)
	if len(chat) > 0 {
		r.ChatMessage, err = parseChatMessage(chat)
		if err != nil {
			return nil, err
		}
	}
	return &r, nil
}

// serializeDispute encodes a full dispute record for persistence and for
// the dispute-open message snapshots.
func serializeDispute(d *Dispute) ([]byte, error) {
	tradeID := []byte(d.TradeID)
	openerIsBuyer := boolByte(d.OpenerIsBuyer)
	opened := uint64(d.Opened)
	state := uint8(d.State)
	isClosed := boolByte(d.IsClosed)
	payoutTxID := []byte(d.PayoutTxID)

	contract, err := serializeContract(d.Contract)
	if err != nil {
		return nil, err
	}

	var chatBuf bytes.Buffer
	for _, m := range d.ChatMessages {
		enc, err := serializeChatMessage(m)
		if err != nil {
			return nil, err
		}
		if err := tlv.WriteVarInt(&chatBuf, uint64(len(enc)),
			&[8]byte{}); err != nil {

			return nil, err
		}
		chatBuf.Write(enc)
	}
	chats := chatBuf.Bytes()

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeTradeID, &tradeID),
		tlv.MakePrimitiveRecord(typeOpenerIsBuyer, &openerIsBuyer),
		tlv.MakePrimitiveRecord(typeOpened, &opened),
		tlv.MakePrimitiveRecord(typeContract, &contract),
		tlv.MakePrimitiveRecord(typeChatMessages, &chats),
	}
	if d.Result != nil {
		result, err := serializeResult(d.Result)
		if err != nil {
			return nil, err
		}
		records = append(records, tlv.MakePrimitiveRecord(
			typeResult, &result,
		))
	}
	records = append(records,
		tlv.MakePrimitiveRecord(typeState, &state),
		tlv.MakePrimitiveRecord(typeIsClosed, &isClosed),
		tlv.MakePrimitiveRecord(typeDepositTx,
			&d.DepositTxSerialized),
		tlv.MakePrimitiveRecord(typePayoutTxID, &payoutTxID),
	)
	return encodeStream(records...)
}

// parseDispute decodes a full dispute record.
func parseDispute(b []byte) (*Dispute, error) {
	var (
		d             Dispute
		tradeID       []byte
		openerIsBuyer uint8
		opened        uint64
		contract      []byte
		chats         []byte
		result        []byte
		state         uint8
		isClosed      uint8
		payoutTxID    []byte
	)
	err := decodeStream(b,
		tlv.MakePrimitiveRecord(typeTradeID, &tradeID),
		tlv.MakePrimitiveRecord(typeOpenerIsBuyer, &openerIsBuyer),
		tlv.MakePrimitiveRecord(typeOpened, &opened),
		tlv.MakePrimitiveRecord(typeContract, &contract),
		tlv.MakePrimitiveRecord(typeChatMessages, &chats),
		tlv.MakePrimitiveRecord(typeResult, &result),
		tlv.MakePrimitiveRecord(typeState, &state),
		tlv.MakePrimitiveRecord(typeIsClosed, &isClosed),
		tlv.MakePrimitiveRecord(typeDepositTx,
			&d.DepositTxSerialized),
		tlv.MakePrimitiveRecord(typePayoutTxID, &payoutTxID),
	)
	if err != nil {
		return nil, err
	}

	d.TradeID = string(tradeID)
	d.OpenerIsBuyer = openerIsBuyer != 0
	d.Opened = int64(opened)
	d.State = State(state)
	d.IsClosed = isClosed != 0
	d.PayoutTxID = string(payoutTxID)

	d.Contract, err = parseContract(contract)
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(chats)
	for r.Len() > 0 {
		size, err := tlv.ReadVarInt(r, &[8]byte{})
		if err != nil {
			return nil, err
		}
		enc := make([]byte, size)
		if _, err := io.ReadFull(r, enc); err != nil {
			return nil, err
		}
		m, err := parseChatMessage(enc)
		if err != nil {
			return nil, err
		}
		d.ChatMessages = append(d.ChatMessages, m)
	}

	if len(result) > 0 {
		d.Result, err = parseResult(result)
		if err != nil {
			return nil, err
		}
	}
	return &d, nil
}

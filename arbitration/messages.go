// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package arbitration

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/lightningnetwork/lnd/tlv"

	"github.com/tradenet/tradenetd/p2p"
)

// MessageType identifies a support message on the wire. It is carried as
// a single prefix byte ahead of the tlv encoded body.
type MessageType uint8

const (
	// MsgOpenNewDispute is sent by the dispute opener to the arbitrator.
	MsgOpenNewDispute MessageType = 1

	// MsgPeerOpenedDispute is sent by the arbitrator to the opener's
	// counterparty so both sides track the dispute.
	MsgPeerOpenedDispute MessageType = 2

	// MsgDisputeResult carries the arbitrator's ruling to a trader.
	MsgDisputeResult MessageType = 3

	// MsgPeerPublishedPayoutTx is sent by the party that broadcast the
	// payout transaction to its counterparty.
	MsgPeerPublishedPayoutTx MessageType = 4

	// MsgAck confirms receipt and processing of another support message.
	MsgAck MessageType = 5
)

// String returns a human readable message type name.
func (t MessageType) String() string {
	switch t {
	case MsgOpenNewDispute:
		return "OpenNewDisputeMessage"
	case MsgPeerOpenedDispute:
		return "PeerOpenedDisputeMessage"
	case MsgDisputeResult:
		return "DisputeResultMessage"
	case MsgPeerPublishedPayoutTx:
		return "PeerPublishedDisputePayoutTxMessage"
	case MsgAck:
		return "AckMessage"
	default:
		return fmt.Sprintf("Unknown MessageType (%d)", uint8(t))
	}
}

// SupportMessage is a dispute protocol message deliverable over the
// mailbox transport.
type SupportMessage interface {
	p2p.MailboxMessage

	// Type returns the wire type of the message.
	Type() MessageType

	// Serialize returns the type-prefixed wire encoding.
	Serialize() ([]byte, error)
}

// newUID returns a fresh globally unique message id.
func newUID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("unable to read random uid: %v", err))
	}
	return hex.EncodeToString(b[:])
}

// tlv types of the support message bodies.
const (
	typeMsgUID        tlv.Type = 1
	typeMsgTradeID    tlv.Type = 2
	typeMsgSender     tlv.Type = 3
	typeMsgDispute    tlv.Type = 4
	typeMsgResult     tlv.Type = 5
	typeMsgPayoutTx   tlv.Type = 6
	typeMsgAckedUID   tlv.Type = 7
	typeMsgSourceType tlv.Type = 8
	typeMsgSuccess    tlv.Type = 9
	typeMsgError      tlv.Type = 10
	typeMsgSenderKey  tlv.Type = 11
)

// OpenNewDisputeMessage asks the arbitrator to open a dispute. It carries
// a full snapshot of the opener's dispute record.
type OpenNewDisputeMessage struct {
	Uid           string
	Dispute       *Dispute
	SenderAddress p2p.NodeAddress
}

// NewOpenNewDisputeMessage wraps a dispute snapshot for delivery to the
// arbitrator.
func NewOpenNewDisputeMessage(d *Dispute,
	sender p2p.NodeAddress) *OpenNewDisputeMessage {

	return &OpenNewDisputeMessage{
		Uid:           newUID(),
		Dispute:       d,
		SenderAddress: sender,
	}
}

// TradeID returns the trade the message belongs to.
func (m *OpenNewDisputeMessage) TradeID() string {
	return m.Dispute.TradeID
}

// UID returns the globally unique id of this message instance.
func (m *OpenNewDisputeMessage) UID() string {
	return m.Uid
}

// Type returns the wire type of the message.
func (m *OpenNewDisputeMessage) Type() MessageType {
	return MsgOpenNewDispute
}

// Serialize returns the type-prefixed wire encoding.
func (m *OpenNewDisputeMessage) Serialize() ([]byte, error) {
	return serializeDisputeCarrier(m.Type(), m.Uid, m.Dispute,
		m.SenderAddress)
}

// PeerOpenedDisputeMessage informs the counterparty of the opener that a
// dispute exists, carrying the arbitrator's copy of the dispute record.
type PeerOpenedDisputeMessage struct {
	Uid           string
	Dispute       *Dispute
	SenderAddress p2p.NodeAddress
}

// NewPeerOpenedDisputeMessage wraps a dispute snapshot for delivery to
// the non-opening trader.
func NewPeerOpenedDisputeMessage(d *Dispute,
	sender p2p.NodeAddress) *PeerOpenedDisputeMessage {

	return &PeerOpenedDisputeMessage{
		Uid:           newUID(),
		Dispute:       d,
		SenderAddress: sender,
	}
}

// TradeID returns the trade the message belongs to.
func (m *PeerOpenedDisputeMessage) TradeID() string {
	return m.Dispute.TradeID
}

// UID returns the globally unique id of this message instance.
func (m *PeerOpenedDisputeMessage) UID() string {
	return m.Uid
}

// Type returns the wire type of the message.
func (m *PeerOpenedDisputeMessage) Type() MessageType {
	return MsgPeerOpenedDispute
}

// Serialize returns the type-prefixed wire encoding.
func (m *PeerOpenedDisputeMessage) Serialize() ([]byte, error) {
	return serializeDisputeCarrier(m.Type(), m.Uid, m.Dispute,
		m.SenderAddress)
}

// DisputeResultMessage delivers the arbitrator's ruling to a trader. The
// sender's transport identity key rides along so the receiver can address
// its ack without conflating it with the escrow key inside the ruling.
type DisputeResultMessage struct {
	Uid           string
	Result        *DisputeResult
	SenderAddress p2p.NodeAddress
	SenderPubKey  []byte
}

// NewDisputeResultMessage wraps a ruling for delivery to a trader.
func NewDisputeResultMessage(r *DisputeResult, sender p2p.NodeAddress,
	senderPubKey []byte) *DisputeResultMessage {

	return &DisputeResultMessage{
		Uid:           newUID(),
		Result:        r,
		SenderAddress: sender,
		SenderPubKey:  senderPubKey,
	}
}

// TradeID returns the trade the message belongs to.
func (m *DisputeResultMessage) TradeID() string {
	return m.Result.TradeID
}

// UID returns the globally unique id of this message instance.
func (m *DisputeResultMessage) UID() string {
	return m.Uid
}

// Type returns the wire type of the message.
func (m *DisputeResultMessage) Type() MessageType {
	return MsgDisputeResult
}

// Serialize returns the type-prefixed wire encoding.
func (m *DisputeResultMessage) Serialize() ([]byte, error) {
	uid := []byte(m.Uid)
	sender := []byte(m.SenderAddress)
	result, err := serializeResult(m.Result)
	if err != nil {
		return nil, err
	}
	body, err := encodeStream(
		tlv.MakePrimitiveRecord(typeMsgUID, &uid),
		tlv.MakePrimitiveRecord(typeMsgSender, &sender),
		tlv.MakePrimitiveRecord(typeMsgResult, &result),
		tlv.MakePrimitiveRecord(typeMsgSenderKey, &m.SenderPubKey),
	)
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(m.Type())}, body...), nil
}

// PeerPublishedDisputePayoutTxMessage tells the counterparty that the
// payout transaction was broadcast, carrying the raw transaction so the
// receiver can commit it to its own wallet.
type PeerPublishedDisputePayoutTxMessage struct {
	Uid           string
	Trade         string
	PayoutTx      []byte
	SenderAddress p2p.NodeAddress
}

// NewPeerPublishedDisputePayoutTxMessage wraps a broadcast payout
// transaction for delivery to the counterparty.
func NewPeerPublishedDisputePayoutTxMessage(tradeID string, payoutTx []byte,
	sender p2p.NodeAddress) *PeerPublishedDisputePayoutTxMessage {

	return &PeerPublishedDisputePayoutTxMessage{
		Uid:           newUID(),
		Trade:         tradeID,
		PayoutTx:      payoutTx,
		SenderAddress: sender,
	}
}

// TradeID returns the trade the message belongs to.
func (m *PeerPublishedDisputePayoutTxMessage) TradeID() string {
	return m.Trade
}

// UID returns the globally unique id of this message instance.
func (m *PeerPublishedDisputePayoutTxMessage) UID() string {
	return m.Uid
}

// Type returns the wire type of the message.
func (m *PeerPublishedDisputePayoutTxMessage) Type() MessageType {
	return MsgPeerPublishedPayoutTx
}

// Serialize returns the type-prefixed wire encoding.
func (m *PeerPublishedDisputePayoutTxMessage) Serialize() ([]byte, error) {
	uid := []byte(m.Uid)
	tradeID := []byte(m.Trade)
	sender := []byte(m.SenderAddress)
	body, err := encodeStream(
		tlv.MakePrimitiveRecord(typeMsgUID, &uid),
		tlv.MakePrimitiveRecord(typeMsgTradeID, &tradeID),
		tlv.MakePrimitiveRecord(typeMsgSender, &sender),
		tlv.MakePrimitiveRecord(typeMsgPayoutTx, &m.PayoutTx),
	)
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(m.Type())}, body...), nil
}

// AckMessage confirms that a support message was received and reports
// whether processing succeeded.
type AckMessage struct {
	Uid           string
	Trade         string
	AckedUID      string
	SourceType    MessageType
	Success       bool
	ErrorMessage  string
	SenderAddress p2p.NodeAddress
}

// NewAckMessage builds an acknowledgement for the given source message.
func NewAckMessage(src SupportMessage, sender p2p.NodeAddress, success bool,
	errorMessage string) *AckMessage {

	return &AckMessage{
		Uid:           newUID(),
		Trade:         src.TradeID(),
		AckedUID:      src.UID(),
		SourceType:    src.Type(),
		Success:       success,
		ErrorMessage:  errorMessage,
		SenderAddress: sender,
	}
}

// TradeID returns the trade the message belongs to.
func (m *AckMessage) TradeID() string {
	return m.Trade
}

// UID returns the globally unique id of this message instance.
func (m *AckMessage) UID() string {
	return m.Uid
}

// Type returns the wire type of the message.
func (m *AckMessage) Type() MessageType {
	return MsgAck
}

// Serialize returns the type-prefixed wire encoding.
func (m *AckMessage) Serialize() ([]byte, error) {
	uid := []byte(m.Uid)
	tradeID := []byte(m.Trade)
	sender := []byte(m.SenderAddress)
	ackedUID := []byte(m.AckedUID)
	sourceType := uint8(m.SourceType)
	success := boolByte(m.Success)
	errMsg := []byte(m.ErrorMessage)
	body, err := encodeStream(
		tlv.MakePrimitiveRecord(typeMsgUID, &uid),
		tlv.MakePrimitiveRecord(typeMsgTradeID, &tradeID),
		tlv.MakePrimitiveRecord(typeMsgSender, &sender),
		tlv.MakePrimitiveRecord(typeMsgAckedUID, &ackedUID),
		tlv.MakePrimitiveRecord(typeMsgSourceType, &sourceType),
		tlv.MakePrimitiveRecord(typeMsgSuccess, &success),
		tlv.MakePrimitiveRecord(typeMsgError, &errMsg),
	)
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(m.Type())}, body...), nil
}

// serializeDisputeCarrier encodes the two message types that carry a full
// dispute snapshot, which differ only in their type byte.
func serializeDisputeCarrier(msgType MessageType, uid string, d *Dispute,
	sender p2p.NodeAddress) ([]byte, error) {

	uidBytes := []byte(uid)
	senderBytes := []byte(sender)
	dispute, err := serializeDispute(d)
	if err != nil {
		return nil, err
	}
	body, err := encodeStream(
		tlv.MakePrimitiveRecord(typeMsgUID, &uidBytes),
		tlv.MakePrimitiveRecord(typeMsgSender, &senderBytes),
		tlv.MakePrimitiveRecord(typeMsgDispute, &dispute),
	)
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(msgType)}, body...), nil
}

// ParseMessage decodes a type-prefixed support message.
func ParseMessage(b []byte) (SupportMessage, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("empty support message")
	}
	msgType, body := MessageType(b[0]), b[1:]

	switch msgType {
	case MsgOpenNewDispute, MsgPeerOpenedDispute:
		var (
			uid     []byte
			sender  []byte
			dispute []byte
		)
		err := decodeStream(body,
			tlv.MakePrimitiveRecord(typeMsgUID, &uid),
			tlv.MakePrimitiveRecord(typeMsgSender, &sender),
			tlv.MakePrimitiveRecord(typeMsgDispute, &dispute),
		)
		if err != nil {
			return nil, err
		}
		d, err := parseDispute(dispute)
		if err != nil {
			return nil, err
		}
		if msgType == MsgOpenNewDispute {
			return &OpenNewDisputeMessage{
				Uid:           string(uid),
				Dispute:       d,
				SenderAddress: p2p.NodeAddress(sender),
			}, nil
		}
		return &PeerOpenedDisputeMessage{
			Uid:           string(uid),
			Dispute:       d,
			SenderAddress: p2p.NodeAddress(sender),
		}, nil

	case MsgDisputeResult:
		var (
			uid       []byte
			sender    []byte
			result    []byte
			senderKey []byte
		)
		err := decodeStream(body,
			tlv.MakePrimitiveRecord(typeMsgUID, &uid),
			tlv.MakePrimitiveRecord(typeMsgSender, &sender),
			tlv.MakePrimitiveRecord(typeMsgResult, &result),
			tlv.MakePrimitiveRecord(typeMsgSenderKey, &senderKey),
		)
		if err != nil {
			return nil, err
		}
		r, err := parseResult(result)
		if err != nil {
			return nil, err
		}
		return &DisputeResultMessage{
			Uid:           string(uid),
			Result:        r,
			SenderAddress: p2p.NodeAddress(sender),
			SenderPubKey:  senderKey,
		}, nil

	case MsgPeerPublishedPayoutTx:
		var m PeerPublishedDisputePayoutTxMessage
		var (
			uid     []byte
			tradeID []byte
			sender  []byte
		)
		err := decodeStream(body,
			tlv.MakePrimitiveRecord(typeMsgUID, &uid),
			tlv.MakePrimitiveRecord(typeMsgTradeID, &tradeID),
			tlv.MakePrimitiveRecord(typeMsgSender, &sender),
			tlv.MakePrimitiveRecord(typeMsgPayoutTx, &m.PayoutTx),
		)
		if err != nil {
			return nil, err
		}
		m.Uid = string(uid)
		m.Trade = string(tradeID)
		m.SenderAddress = p2p.NodeAddress(sender)
		return &m, nil

	case MsgAck:
		var (
			uid        []byte
			tradeID    []byte
			sender     []byte
			ackedUID   []byte
			sourceType uint8
			success    uint8
			errMsg     []byte
		)
		err := decodeStream(body,
			tlv.MakePrimitiveRecord(typeMsgUID, &uid),
			tlv.MakePrimitiveRecord(typeMsgTradeID, &tradeID),
			tlv.MakePrimitiveRecord(typeMsgSender, &sender),
			tlv.MakePrimitiveRecord(typeMsgAckedUID, &ackedUID),
			tlv.MakePrimitiveRecord(typeMsgSourceType, &sourceType),
			tlv.MakePrimitiveRecord(typeMsgSuccess, &success),
			tlv.MakePrimitiveRecord(typeMsgError, &errMsg),
		)
		if err != nil {
			return nil, err
		}
		return &AckMessage{
			Uid:           string(uid),
			Trade:         string(tradeID),
			AckedUID:      string(ackedUID),
			SourceType:    MessageType(sourceType),
			Success:       success != 0,
			ErrorMessage:  string(errMsg),
			SenderAddress: p2p.NodeAddress(sender),
		}, nil

	default:
		return nil, fmt.Errorf("unknown support message type %d",
			uint8(msgType))
	}
}

// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package witness

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/tlv"

	"github.com/tradenet/tradenetd/p2p"
)

const (
	// AccountHashLen is the length of an account age witness hash.
	AccountHashLen = 32

	// HashLen is the length of the derived dedup hash of a signed
	// witness.
	HashLen = 20
)

// Method describes which kind of key produced a witness attestation.
type Method uint8

const (
	// MethodArbitrator marks an attestation issued by a registered
	// arbitrator with its EC message signing key.
	MethodArbitrator Method = 0

	// MethodTrade marks an attestation issued by a trading peer with its
	// identity key after a qualifying trade.
	MethodTrade Method = 1
)

// String returns a human readable method name.
func (m Method) String() string {
	switch m {
	case MethodArbitrator:
		return "Arbitrator"
	case MethodTrade:
		return "Trade"
	default:
		return fmt.Sprintf("Unknown Method (%d)", uint8(m))
	}
}

// AccountAgeWitness is the commitment to a payment account's identity and
// salt that attestations vouch for. The witness subsystem only ever needs
// the commitment hash and the account's creation date, so the concrete
// entity stays with the payment account bookkeeping.
type AccountAgeWitness interface {
	// Hash returns the 32 byte commitment hash.
	Hash() []byte

	// Date returns the witness creation time in milliseconds since the
	// epoch.
	Date() int64
}

// tlv types of the signed witness record. The derived dedup hash is
// deliberately absent, it is recomputed from the record on every decode and
// never trusted from the wire or from disk.
const (
	typeMethod             tlv.Type = 1
	typeAccountWitnessHash tlv.Type = 2
	typeSignature          tlv.Type = 3
	typeSignerPubKey       tlv.Type = 4
	typeWitnessOwnerPubKey tlv.Type = 5
	typeDate               tlv.Type = 6
	typeTradeAmount        tlv.Type = 7
)

// SignedWitness is an immutable attestation that an account age witness has
// been vouched for, either by an arbitrator or by a trading peer.
type SignedWitness struct {
	// Method selects the signature scheme and trust semantics of this
	// attestation.
	Method Method

	// AccountWitnessHash is the hash of the vouched account age witness.
	AccountWitnessHash []byte

	// Signature carries base64 encoded EC message signature bytes for
	// arbitrator attestations, or a raw DER signature for trade
	// attestations.
	Signature []byte

	// SignerPubKey is the raw public key the signature was made with.
	SignerPubKey []byte

	// WitnessOwnerPubKey is the raw public key of the account being
	// vouched for.
	WitnessOwnerPubKey []byte

	// Date is the signing time in milliseconds since the epoch.
	Date int64

	// TradeAmount is the amount in satoshi of the trade that justified
	// the signing.
	TradeAmount int64

	hash [HashLen]byte
}

// NewSignedWitness constructs a signed witness and derives its dedup hash.
func NewSignedWitness(method Method, accountWitnessHash, signature,
	signerPubKey, witnessOwnerPubKey []byte, date time.Time,
	tradeAmount btcutil.Amount) *SignedWitness {

	w := &SignedWitness{
		Method:             method,
		AccountWitnessHash: accountWitnessHash,
		Signature:          signature,
		SignerPubKey:       signerPubKey,
		WitnessOwnerPubKey: witnessOwnerPubKey,
		Date:               date.UnixMilli(),
		TradeAmount:        int64(tradeAmount),
	}
	w.deriveHash()
	return w
}

// deriveHash computes RIPEMD160(SHA256(...)) over the account witness hash,
// the signature and the signer key. Date and trade amount are excluded so
// that repeated trades between the same peer pair collapse to a single
// stored record.
func (w *SignedWitness) deriveHash() {
	var buf bytes.Buffer
	buf.Write(w.AccountWitnessHash)
	buf.Write(w.Signature)
	buf.Write(w.SignerPubKey)
	copy(w.hash[:], btcutil.Hash160(buf.Bytes()))
}

// Hash returns the 20 byte dedup hash the witness is stored under.
func (w *SignedWitness) Hash() [HashLen]byte {
	return w.hash
}

// SignedByArbitrator reports whether this attestation was issued by an
// arbitrator.
func (w *SignedWitness) SignedByArbitrator() bool {
	return w.Method == MethodArbitrator
}

// DateTime returns the signing time.
func (w *SignedWitness) DateTime() time.Time {
	return time.UnixMilli(w.Date)
}

// RequiredCapability returns the capability a peer must have announced
// before signed witness payloads may be sent to it.
//
// This satisfies p2p.StoragePayload.
func (w *SignedWitness) RequiredCapability() p2p.Capability {
	return p2p.CapSignedAccountAgeWitness
}

// records returns the tlv records of all wire transmitted fields.
func (w *SignedWitness) records() []tlv.Record {
	method := uint8(w.Method)
	date := uint64(w.Date)
	amount := uint64(w.TradeAmount)
	return []tlv.Record{
		tlv.MakePrimitiveRecord(typeMethod, &method),
		tlv.MakePrimitiveRecord(typeAccountWitnessHash,
			&w.AccountWitnessHash),
		tlv.MakePrimitiveRecord(typeSignature, &w.Signature),
		tlv.MakePrimitiveRecord(typeSignerPubKey, &w.SignerPubKey),
		tlv.MakePrimitiveRecord(typeWitnessOwnerPubKey,
			&w.WitnessOwnerPubKey),
		tlv.MakePrimitiveRecord(typeDate, &date),
		tlv.MakePrimitiveRecord(typeTradeAmount, &amount),
	}
}

// Serialize returns the tlv encoding of the witness.
//
// This satisfies p2p.StoragePayload.
func (w *SignedWitness) Serialize() ([]byte, error) {
	stream, err := tlv.NewStream(w.records()...)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseSignedWitness decodes a tlv encoded witness record and recomputes its
// dedup hash.
func ParseSignedWitness(b []byte) (*SignedWitness, error) {
	var (
		w      SignedWitness
		method uint8
		date   uint64
		amount uint64
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeMethod, &method),
		tlv.MakePrimitiveRecord(typeAccountWitnessHash,
			&w.AccountWitnessHash),
		tlv.MakePrimitiveRecord(typeSignature, &w.Signature),
		tlv.MakePrimitiveRecord(typeSignerPubKey, &w.SignerPubKey),
		tlv.MakePrimitiveRecord(typeWitnessOwnerPubKey,
			&w.WitnessOwnerPubKey),
		tlv.MakePrimitiveRecord(typeDate, &date),
		tlv.MakePrimitiveRecord(typeTradeAmount, &amount),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(b)); err != nil {
		return nil, storeError(ErrMalformedWitness,
			"unable to decode signed witness record", err)
	}

	if len(w.AccountWitnessHash) != AccountHashLen {
		return nil, storeError(ErrMalformedWitness,
			fmt.Sprintf("account witness hash has length %d, "+
				"want %d", len(w.AccountWitnessHash),
				AccountHashLen), nil)
	}

	w.Method = Method(method)
	w.Date = int64(date)
	w.TradeAmount = int64(amount)
	w.deriveHash()
	return &w, nil
}

// String returns a compact description used in log messages.
func (w *SignedWitness) String() string {
	return fmt.Sprintf("SignedWitness(method=%v, account=%x, signer=%s, "+
		"owner=%s, date=%v, amount=%d)", w.Method,
		w.AccountWitnessHash, shortKey(w.SignerPubKey),
		shortKey(w.WitnessOwnerPubKey), w.DateTime(), w.TradeAmount)
}

// shortKey renders an abbreviated hex form of a public key for logging.
func shortKey(pubKey []byte) string {
	h := hex.EncodeToString(pubKey)
	if len(h) > 12 {
		h = h[:12]
	}
	return h
}

// A compile time check to ensure SignedWitness is a broadcastable storage
// payload.
var _ p2p.StoragePayload = (*SignedWitness)(nil)

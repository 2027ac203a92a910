// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package escrow

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

// escrowOutputIndex is the deposit transaction output holding the escrowed
// funds. The trade protocol always places the multisig output first.
const escrowOutputIndex = 0

// absurdFeeFactor flags payout fees that exceed this multiple of the
// estimated relay fee for the transaction size.
const absurdFeeFactor = 1000

// PayoutParams are the inputs needed to finalize a disputed payout
// transaction: the escrow deposit, the arbitrator's ruling signature and
// amounts, and the local party's multisig key.
type PayoutParams struct {
	// DepositTxSerialized is the raw escrow deposit transaction.
	DepositTxSerialized []byte

	// ArbitratorSignature is the arbitrator's input signature (DER plus
	// sighash type byte) over the agreed payout transaction.
	ArbitratorSignature []byte

	// BuyerPayoutAmount and SellerPayoutAmount are the ruled amounts.
	// A zero amount produces no output for that party.
	BuyerPayoutAmount  btcutil.Amount
	SellerPayoutAmount btcutil.Amount

	// BuyerPayoutAddress and SellerPayoutAddress receive the amounts.
	BuyerPayoutAddress  string
	SellerPayoutAddress string

	// MultiSigKey is the local party's escrow key.
	MultiSigKey *btcec.PrivateKey

	// ArbitratorPubKey, BuyerPubKey and SellerPubKey are the three
	// escrow public keys, in redeem script order.
	ArbitratorPubKey []byte
	BuyerPubKey      []byte
	SellerPubKey     []byte
}

// Finalizer builds and signs disputed payout transactions against 2-of-3
// escrow deposits.
type Finalizer struct {
	// ChainParams selects the address encoding of the payout outputs.
	ChainParams *chaincfg.Params

	// RelayFeePerKb is used for the dust and absurd-fee checks. Zero
	// selects the default relay fee.
	RelayFeePerKb btcutil.Amount
}

// FinalizePayout reconstructs the escrow redeem script, attaches the
// arbitrator's signature together with a fresh local signature, and returns
// the fully valid payout transaction. All failure modes return a
// TxVerificationError; the transaction is script-verified before it is
// handed back.
func (f *Finalizer) FinalizePayout(p PayoutParams) (*wire.MsgTx, error) {
	deposit := wire.NewMsgTx(wire.TxVersion)
	err := deposit.Deserialize(bytes.NewReader(p.DepositTxSerialized))
	if err != nil {
		return nil, txVerificationError(
			"unable to deserialize deposit tx", err,
		)
	}
	if len(deposit.TxOut) <= escrowOutputIndex {
		return nil, txVerificationError(fmt.Sprintf(
			"deposit tx has %d outputs, escrow output missing",
			len(deposit.TxOut)), nil)
	}
	escrowOut := deposit.TxOut[escrowOutputIndex]

	redeemScript, err := f.redeemScript(
		p.ArbitratorPubKey, p.BuyerPubKey, p.SellerPubKey,
	)
	if err != nil {
		return nil, err
	}

	// The deposit output must actually be the P2SH of our redeem script,
	// otherwise a random transaction was substituted for the deposit.
	scriptAddr, err := btcutil.NewAddressScriptHash(
		redeemScript, f.ChainParams,
	)
	if err != nil {
		return nil, txVerificationError(
			"unable to hash redeem script", err,
		)
	}
	expectedPkScript, err := txscript.PayToAddrScript(scriptAddr)
	if err != nil {
		return nil, txVerificationError(
			"unable to build escrow pkScript", err,
		)
	}
	if !bytes.Equal(expectedPkScript, escrowOut.PkScript) {
		return nil, txVerificationError(
			"deposit output is not the expected escrow script",
			nil,
		)
	}

	payout, err := f.unsignedPayout(deposit, p)
	if err != nil {
		return nil, err
	}

	traderSig, err := txscript.RawTxInSignature(
		payout, 0, redeemScript, txscript.SigHashAll, p.MultiSigKey,
	)
	if err != nil {
		return nil, txVerificationError(
			"unable to sign payout tx", err,
		)
	}

	// Signature order must match key order in the redeem script: the
	// arbitrator key comes first, the trader (buyer or seller) after.
	scriptSig, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(p.ArbitratorSignature).
		AddData(traderSig).
		AddData(redeemScript).
		Script()
	if err != nil {
		return nil, txVerificationError(
			"unable to build input script", err,
		)
	}
	payout.TxIn[0].SignatureScript = scriptSig

	vm, err := txscript.NewEngine(
		escrowOut.PkScript, payout, 0, txscript.StandardVerifyFlags,
		nil, nil, escrowOut.Value, txscript.NewCannedPrevOutputFetcher(
			escrowOut.PkScript, escrowOut.Value,
		),
	)
	if err != nil {
		return nil, txVerificationError(
			"unable to create script engine", err,
		)
	}
	if err := vm.Execute(); err != nil {
		return nil, txVerificationError(
			"payout tx failed script verification", err,
		)
	}

	return payout, nil
}

// unsignedPayout assembles the unsigned payout transaction spending the
// escrow output to the ruled amounts.
func (f *Finalizer) unsignedPayout(deposit *wire.MsgTx,
	p PayoutParams) (*wire.MsgTx, error) {

	relayFee := f.RelayFeePerKb
	if relayFee == 0 {
		relayFee = txrules.DefaultRelayFeePerKb
	}

	payout := wire.NewMsgTx(wire.TxVersion)
	depositHash := deposit.TxHash()
	payout.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&depositHash, escrowOutputIndex), nil, nil,
	))

	addOutput := func(addrStr string, amount btcutil.Amount) error {
		if amount == 0 {
			return nil
		}
		addr, err := btcutil.DecodeAddress(addrStr, f.ChainParams)
		if err != nil {
			return txVerificationError(fmt.Sprintf(
				"unable to decode payout address %q",
				addrStr), err)
		}
		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return txVerificationError(
				"unable to build payout script", err,
			)
		}
		txOut := wire.NewTxOut(int64(amount), pkScript)
		if txrules.IsDustOutput(txOut, relayFee) {
			return txVerificationError(fmt.Sprintf(
				"payout of %v to %s is dust", amount,
				addrStr), nil)
		}
		payout.AddTxOut(txOut)
		return nil
	}
	if err := addOutput(p.BuyerPayoutAddress, p.BuyerPayoutAmount); err != nil {
		return nil, err
	}
	if err := addOutput(p.SellerPayoutAddress, p.SellerPayoutAmount); err != nil {
		return nil, err
	}
	if len(payout.TxOut) == 0 {
		return nil, txVerificationError(
			"ruling pays out to neither party", nil,
		)
	}

	escrowValue := deposit.TxOut[escrowOutputIndex].Value
	fee := escrowValue -
		int64(p.BuyerPayoutAmount) - int64(p.SellerPayoutAmount)
	if fee < 0 {
		return nil, txVerificationError(fmt.Sprintf(
			"ruled amounts exceed escrow value %d by %d",
			escrowValue, -fee), nil)
	}

	// The estimate treats the escrow input as P2PKH so it undershoots a
	// little, which only makes the absurd-fee check more permissive.
	size := txsizes.EstimateSerializeSize(1, payout.TxOut, false)
	expected := txrules.FeeForSerializeSize(relayFee, size)
	if fee > int64(expected)*absurdFeeFactor {
		log.Warnf("Payout fee %d greatly exceeds the expected fee "+
			"%v for %d bytes", fee, expected, size)
	}

	return payout, nil
}

// redeemScript rebuilds the 2-of-3 escrow redeem script over the arbitrator
// and trader keys, in that fixed order.
func (f *Finalizer) redeemScript(arbitratorPubKey, buyerPubKey,
	sellerPubKey []byte) ([]byte, error) {

	keys := make([]*btcutil.AddressPubKey, 0, 3)
	for _, raw := range [][]byte{
		arbitratorPubKey, buyerPubKey, sellerPubKey,
	} {
		addr, err := btcutil.NewAddressPubKey(raw, f.ChainParams)
		if err != nil {
			return nil, txVerificationError(
				"invalid escrow public key", err,
			)
		}
		keys = append(keys, addr)
	}

	script, err := txscript.MultiSigScript(keys, 2)
	if err != nil {
		return nil, txVerificationError(
			"unable to build redeem script", err,
		)
	}
	return script, nil
}

// SignPayoutInput produces an input signature (DER plus sighash type) for
// the payout transaction. The arbitrator uses it at ruling time; the party
// finalizing later calls FinalizePayout which signs internally.
func SignPayoutInput(payout *wire.MsgTx, redeemScript []byte,
	key *btcec.PrivateKey) ([]byte, error) {

	return txscript.RawTxInSignature(
		payout, 0, redeemScript, txscript.SigHashAll, key,
	)
}

// RedeemScript exposes the escrow redeem script construction for callers
// that prepare rulings or deposits.
func (f *Finalizer) RedeemScript(arbitratorPubKey, buyerPubKey,
	sellerPubKey []byte) ([]byte, error) {

	return f.redeemScript(arbitratorPubKey, buyerPubKey, sellerPubKey)
}

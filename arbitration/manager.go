// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package arbitration

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/tradenet/tradenetd/escrow"
	"github.com/tradenet/tradenetd/p2p"
)

const (
	// defaultResultRetryDelay is how long a dispute result message for a
	// still unknown trade is parked before its single replay.
	defaultResultRetryDelay = 2 * time.Second

	// defaultPayoutTxRetryDelay is the replay delay for a peer payout
	// message that raced ahead of the dispute itself.
	defaultPayoutTxRetryDelay = 3 * time.Second
)

// PayoutFinalizer builds the fully signed payout transaction from the
// escrow deposit and the arbitrator's ruling signature.
type PayoutFinalizer interface {
	FinalizePayout(p escrow.PayoutParams) (*wire.MsgTx, error)
}

// ManagerConfig bundles the collaborators of the settlement engine.
type ManagerConfig struct {
	// Store is the durable dispute repository. The manager assumes
	// exclusive ownership.
	Store *DisputeStore

	// Transport delivers support messages to single peers.
	Transport p2p.MailboxSender

	// Wallet is the slice of the wallet needed for settlement.
	Wallet escrow.WalletBridge

	// Finalizer signs disputed payout transactions.
	Finalizer PayoutFinalizer

	// Broadcaster publishes payout transactions to the Bitcoin network.
	Broadcaster escrow.TxBroadcaster

	// OwnPubKey is the local party's identity key, matched against the
	// contract to derive the buyer/seller role.
	OwnPubKey []byte

	// OwnAddress is the local node's overlay address, stamped on all
	// outgoing messages.
	OwnAddress p2p.NodeAddress

	// OnDisputeClosed, if set, is invoked from the dispatch context
	// whenever a dispute reaches a settled outcome, so trade and offer
	// bookkeeping can be reconciled.
	OnDisputeClosed func(tradeID string)

	// ResultRetryDelay overrides the dispute result replay delay. Useful
	// in tests; zero selects the default.
	ResultRetryDelay time.Duration

	// PayoutTxRetryDelay overrides the peer payout replay delay. Zero
	// selects the default.
	PayoutTxRetryDelay time.Duration
}

// broadcastOutcome re-enters the dispatch context with the result of an
// asynchronous payout broadcast.
type broadcastOutcome struct {
	tradeID string
	tx      *wire.MsgTx
	result  fn.Result[chainhash.Hash]
}

// Manager is the dispute settlement engine. All dispute mutation happens on
// its single dispatch goroutine: transport deliveries, broadcast results and
// external commands are funneled through channels, and the delayed replays
// re-enter the same queue. No lock guards the dispute records.
type Manager struct {
	started sync.Once
	stopped sync.Once

	cfg ManagerConfig

	msgQueue         chan SupportMessage
	broadcastResults chan *broadcastOutcome
	commands         chan func()

	// retried tracks message uids that already consumed their single
	// replay, so a second miss is dropped instead of rescheduled.
	retried map[string]bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates the settlement engine. Start must be called before any
// message is processed.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.ResultRetryDelay == 0 {
		cfg.ResultRetryDelay = defaultResultRetryDelay
	}
	if cfg.PayoutTxRetryDelay == 0 {
		cfg.PayoutTxRetryDelay = defaultPayoutTxRetryDelay
	}
	return &Manager{
		cfg:              cfg,
		msgQueue:         make(chan SupportMessage, 50),
		broadcastResults: make(chan *broadcastOutcome),
		commands:         make(chan func()),
		retried:          make(map[string]bool),
		quit:             make(chan struct{}),
	}
}

// Start launches the dispatch goroutine.
func (m *Manager) Start() {
	m.started.Do(func() {
		log.Infof("Dispute settlement engine starting, %d disputes "+
			"on record", m.cfg.Store.Count())

		m.wg.Add(1)
		go m.dispatcher()
	})
}

// Stop shuts down the dispatch goroutine and waits for the in-flight
// helpers to drain.
func (m *Manager) Stop() {
	m.stopped.Do(func() {
		close(m.quit)
		m.wg.Wait()
	})
}

// ProcessMessage hands a received support message to the dispatch context.
// It is the transport's delivery callback and is safe for concurrent use.
func (m *Manager) ProcessMessage(msg SupportMessage) {
	select {
	case m.msgQueue <- msg:
	case <-m.quit:
	}
}

// dispatcher is the single goroutine that owns all dispute state.
func (m *Manager) dispatcher() {
	defer m.wg.Done()

	for {
		select {
		case msg := <-m.msgQueue:
			m.handleMessage(msg)

		case outcome := <-m.broadcastResults:
			m.handleBroadcastOutcome(outcome)

		case cmd := <-m.commands:
			cmd()

		case <-m.quit:
			return
		}
	}
}

// handleMessage routes one support message. Runs on the dispatch goroutine.
func (m *Manager) handleMessage(msg SupportMessage) {
	log.Debugf("Processing %v, tradeID=%v, uid=%v", msg.Type(),
		msg.TradeID(), msg.UID())

	switch msg := msg.(type) {
	case *OpenNewDisputeMessage:
		m.onOpenNewDispute(msg)

	case *PeerOpenedDisputeMessage:
		m.onPeerOpenedDispute(msg)

	case *DisputeResultMessage:
		m.onDisputeResult(msg)

	case *PeerPublishedDisputePayoutTxMessage:
		m.onPeerPublishedPayoutTx(msg)

	case *AckMessage:
		m.onAck(msg)

	default:
		log.Warnf("Ignoring support message of unknown type %T", msg)
	}
}

// DisputeByTradeID returns the dispute for the given trade id, or nil. The
// lookup runs on the dispatch context.
func (m *Manager) DisputeByTradeID(tradeID string) *Dispute {
	resp := make(chan *Dispute, 1)
	select {
	case m.commands <- func() { resp <- m.cfg.Store.Get(tradeID) }:
	case <-m.quit:
		return nil
	}
	select {
	case d := <-resp:
		return d
	case <-m.quit:
		return nil
	}
}

// Disputes returns a snapshot of all known disputes.
func (m *Manager) Disputes() []*Dispute {
	resp := make(chan []*Dispute, 1)
	select {
	case m.commands <- func() { resp <- m.cfg.Store.All() }:
	case <-m.quit:
		return nil
	}
	select {
	case ds := <-resp:
		return ds
	case <-m.quit:
		return nil
	}
}

// OpenDispute records a locally opened dispute and sends the opening
// message to the arbitrator.
func (m *Manager) OpenDispute(contract *Contract, depositTx []byte,
	arbitrator p2p.NodeAddress, arbitratorPubKey []byte) error {

	errChan := make(chan error, 1)
	cmd := func() {
		errChan <- m.openDispute(contract, depositTx, arbitrator,
			arbitratorPubKey)
	}
	select {
	case m.commands <- cmd:
	case <-m.quit:
		return fmt.Errorf("settlement engine shutting down")
	}
	select {
	case err := <-errChan:
		return err
	case <-m.quit:
		return fmt.Errorf("settlement engine shutting down")
	}
}

// openDispute runs on the dispatch goroutine.
func (m *Manager) openDispute(contract *Contract, depositTx []byte,
	arbitrator p2p.NodeAddress, arbitratorPubKey []byte) error {

	if d := m.cfg.Store.Get(contract.TradeID); d != nil {
		return fmt.Errorf("dispute for trade %v already open, "+
			"state=%v", contract.TradeID, d.State)
	}

	d := &Dispute{
		TradeID:             contract.TradeID,
		OpenerIsBuyer:       contract.IsBuyer(m.cfg.OwnPubKey),
		Opened:              time.Now().UnixMilli(),
		Contract:            contract,
		State:               StateStartedLocally,
		DepositTxSerialized: depositTx,
	}
	if err := m.cfg.Store.Put(d); err != nil {
		return err
	}

	log.Infof("Opened dispute for trade %v, openerIsBuyer=%v",
		d.TradeID, d.OpenerIsBuyer)

	m.sendMessage(arbitrator, arbitratorPubKey,
		NewOpenNewDisputeMessage(d, m.cfg.OwnAddress))
	return nil
}

// CloseDisputeAsArbitrator records the ruling on the arbitrator's own copy
// of the dispute and delivers it to both traders. The traders' settlement
// paths take over from there.
func (m *Manager) CloseDisputeAsArbitrator(result *DisputeResult) error {
	errChan := make(chan error, 1)
	cmd := func() {
		errChan <- m.closeDisputeAsArbitrator(result)
	}
	select {
	case m.commands <- cmd:
	case <-m.quit:
		return fmt.Errorf("settlement engine shutting down")
	}
	select {
	case err := <-errChan:
		return err
	case <-m.quit:
		return fmt.Errorf("settlement engine shutting down")
	}
}

// closeDisputeAsArbitrator runs on the dispatch goroutine.
func (m *Manager) closeDisputeAsArbitrator(result *DisputeResult) error {
	if m.cfg.Wallet.ArbitratorAddressPubKey() == nil {
		return fmt.Errorf("local peer is not an arbitrator")
	}
	if result.ChatMessage == nil {
		return fmt.Errorf("ruling for trade %v has no closing chat "+
			"message", result.TradeID)
	}

	d := m.cfg.Store.Get(result.TradeID)
	if d == nil {
		return fmt.Errorf("no dispute on record for trade %v",
			result.TradeID)
	}

	d.AddChatMessage(result.ChatMessage)
	d.Result = result
	d.State = StateClosed
	d.IsClosed = true
	if err := m.cfg.Store.Put(d); err != nil {
		return err
	}

	log.Infof("Closing dispute for trade %v: winner=%v, "+
		"loserPublisher=%v", result.TradeID, result.Winner,
		result.LoserPublisher)

	c := d.Contract
	m.sendMessage(c.BuyerNodeAddress, c.BuyerPubKey,
		NewDisputeResultMessage(result, m.cfg.OwnAddress,
			m.cfg.OwnPubKey))
	m.sendMessage(c.SellerNodeAddress, c.SellerPubKey,
		NewDisputeResultMessage(result, m.cfg.OwnAddress,
			m.cfg.OwnPubKey))
	return nil
}

// onOpenNewDispute is the arbitrator side intake of a trader's dispute
// opening. The snapshot is stored and the opener's counterparty is informed
// so both sides track the dispute.
func (m *Manager) onOpenNewDispute(msg *OpenNewDisputeMessage) {
	d := msg.Dispute

	if existing := m.cfg.Store.Get(d.TradeID); existing != nil {
		log.Warnf("We already have a dispute for trade %v, uid=%v",
			d.TradeID, msg.Uid)
		m.sendAck(msg, msg.SenderAddress, m.openerPubKey(d), true, "")
		return
	}

	d.State = StateStartedByPeer
	if err := m.cfg.Store.Put(d); err != nil {
		log.Errorf("Unable to store dispute for trade %v: %v",
			d.TradeID, err)
		m.sendAck(msg, msg.SenderAddress, m.openerPubKey(d), false,
			err.Error())
		return
	}

	log.Infof("Dispute opened by peer %v for trade %v",
		msg.SenderAddress, d.TradeID)
	m.sendAck(msg, msg.SenderAddress, m.openerPubKey(d), true, "")

	// The arbitrator relays the dispute to the opener's counterparty.
	if m.cfg.Wallet.ArbitratorAddressPubKey() == nil {
		return
	}
	peerKey, peerAddr := m.counterpartyOfOpener(d)
	m.sendMessage(peerAddr, peerKey,
		NewPeerOpenedDisputeMessage(d, m.cfg.OwnAddress))
}

// onPeerOpenedDispute is the trader side intake of the arbitrator's relay
// of the counterparty's dispute opening.
func (m *Manager) onPeerOpenedDispute(msg *PeerOpenedDisputeMessage) {
	d := msg.Dispute

	if existing := m.cfg.Store.Get(d.TradeID); existing != nil {
		log.Warnf("We already have a dispute for trade %v, uid=%v",
			d.TradeID, msg.Uid)
		m.sendAck(msg, msg.SenderAddress, nil, true, "")
		return
	}

	d.State = StateStartedByPeer
	if err := m.cfg.Store.Put(d); err != nil {
		log.Errorf("Unable to store dispute for trade %v: %v",
			d.TradeID, err)
		m.sendAck(msg, msg.SenderAddress, nil, false, err.Error())
		return
	}

	log.Infof("Peer opened dispute for trade %v", d.TradeID)
	m.sendAck(msg, msg.SenderAddress, nil, true, "")
}

// onDisputeResult applies the arbitrator's ruling: record the closing chat
// message, decide the publisher, and either finalize and broadcast the
// payout or just close the local record.
func (m *Manager) onDisputeResult(msg *DisputeResultMessage) {
	result := msg.Result
	tradeID := result.TradeID

	// An arbitrator must never receive its own ruling back.
	if arbKey := m.cfg.Wallet.ArbitratorAddressPubKey(); arbKey != nil &&
		bytes.Equal(arbKey, result.ArbitratorPubKey) {

		log.Errorf("Arbitrator received dispute result signed with "+
			"its own key, tradeID=%v, uid=%v", tradeID, msg.Uid)
		return
	}

	if result.ChatMessage == nil {
		log.Errorf("Dispute result without chat message, tradeID=%v",
			tradeID)
		return
	}

	d := m.cfg.Store.Get(tradeID)
	if d == nil {
		// The result raced ahead of the dispute opening. Park the
		// message once and replay it.
		m.scheduleRetry(msg, msg.Uid, m.cfg.ResultRetryDelay)
		return
	}
	delete(m.retried, msg.Uid)

	d.AddChatMessage(result.ChatMessage)

	if d.Result != nil {
		log.Warnf("We already got a dispute result, closing trade %v "+
			"again", tradeID)
	}
	d.Result = result
	d.State = StateResultReceived
	d.IsClosed = true

	contract := d.Contract
	localIsBuyer := contract.IsBuyer(m.cfg.OwnPubKey)
	publisherIsBuyer := result.Publisher() == WinnerBuyer
	localIsPublisher := localIsBuyer == publisherIsBuyer

	log.Infof("Dispute result for trade %v: winner=%v, "+
		"loserPublisher=%v, localIsPublisher=%v", tradeID,
		result.Winner, result.LoserPublisher, localIsPublisher)

	success := true
	var errorMessage string

	switch {
	case !localIsPublisher:
		// Nothing to broadcast on this side; the record is closed and
		// stale trade bookkeeping is reconciled through the close
		// hook.
		m.closeDispute(d)

	case m.existingPayoutTx(d) != nil:
		// The payout was already published, either by us in a
		// previous successful close or observed from the network.
		// Reuse it and still notify the peer.
		tx := m.existingPayoutTx(d)
		txHash := tx.TxHash()
		d.PayoutTxID = txHash.String()
		d.State = StatePayoutPublished
		log.Infof("Payout tx %v for trade %v already exists, "+
			"resending peer notification", d.PayoutTxID, tradeID)
		m.sendPeerPublishedPayoutTxMessage(d, tx)
		m.closeDispute(d)

	case len(d.DepositTxSerialized) == 0:
		success = false
		errorMessage = fmt.Sprintf("no deposit tx on record for "+
			"trade %v", tradeID)
		log.Errorf("Unable to settle dispute: %v", errorMessage)
		d.State = StateClosed
		m.closeDispute(d)

	default:
		tx, err := m.finalizePayout(d, result, localIsBuyer)
		if err != nil {
			success = false
			errorMessage = err.Error()
			log.Errorf("Unable to finalize payout for trade %v: "+
				"%v", tradeID, err)

			if escrow.IsTxVerificationError(err) {
				d.State = StateClosed
				m.closeDispute(d)
			}
			break
		}

		// The broadcast outcome re-enters the dispatch context; until
		// it does, the dispute stays in the result-received state. A
		// failed broadcast leaves it there with no automatic retry.
		m.broadcastPayout(d.TradeID, tx)
	}

	// The ack goes back to the arbitrator's transport identity, not to
	// the escrow key inside the ruling.
	m.sendAck(msg, msg.SenderAddress, msg.SenderPubKey, success,
		errorMessage)

	if err := m.cfg.Store.Put(d); err != nil {
		log.Errorf("Unable to persist dispute %v: %v", tradeID, err)
	}
}

// finalizePayout assembles the escrow finalizer inputs from the contract
// and the ruling and returns the signed payout transaction.
func (m *Manager) finalizePayout(d *Dispute, result *DisputeResult,
	localIsBuyer bool) (*wire.MsgTx, error) {

	contract := d.Contract

	multiSigPubKey := contract.SellerMultiSigPubKey
	if localIsBuyer {
		multiSigPubKey = contract.BuyerMultiSigPubKey
	}
	multiSigKey, err := m.cfg.Wallet.MultiSigKey(d.TradeID, multiSigPubKey)
	if err != nil {
		return nil, fmt.Errorf("unable to derive multisig key: %w",
			err)
	}

	return m.cfg.Finalizer.FinalizePayout(escrow.PayoutParams{
		DepositTxSerialized: d.DepositTxSerialized,
		ArbitratorSignature: result.ArbitratorSignature,
		BuyerPayoutAmount:   result.BuyerPayoutAmount,
		SellerPayoutAmount:  result.SellerPayoutAmount,
		BuyerPayoutAddress:  contract.BuyerPayoutAddress,
		SellerPayoutAddress: contract.SellerPayoutAddress,
		MultiSigKey:         multiSigKey,
		ArbitratorPubKey:    result.ArbitratorPubKey,
		BuyerPubKey:         contract.BuyerMultiSigPubKey,
		SellerPubKey:        contract.SellerMultiSigPubKey,
	})
}

// broadcastPayout hands the payout transaction to the Bitcoin broadcaster
// and forwards the asynchronous outcome into the dispatch queue.
func (m *Manager) broadcastPayout(tradeID string, tx *wire.MsgTx) {
	resultChan := m.cfg.Broadcaster.Broadcast(tx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		select {
		case result := <-resultChan:
			outcome := &broadcastOutcome{
				tradeID: tradeID,
				tx:      tx,
				result:  result,
			}
			select {
			case m.broadcastResults <- outcome:
			case <-m.quit:
			}
		case <-m.quit:
		}
	}()
}

// handleBroadcastOutcome finishes the publisher path once the Bitcoin
// network answered. Runs on the dispatch goroutine.
func (m *Manager) handleBroadcastOutcome(outcome *broadcastOutcome) {
	d := m.cfg.Store.Get(outcome.tradeID)
	if d == nil {
		log.Errorf("Broadcast outcome for unknown trade %v",
			outcome.tradeID)
		return
	}

	txHash, err := outcome.result.Unpack()
	if err != nil {
		// The dispute stays in the result-received state; the next
		// received result message re-triggers resolution.
		log.Errorf("Payout broadcast for trade %v failed: %v",
			outcome.tradeID, err)
		return
	}

	log.Infof("Payout tx %v for trade %v broadcast", txHash,
		outcome.tradeID)

	m.cfg.Wallet.CommitTx(outcome.tx)
	d.PayoutTxID = txHash.String()
	d.State = StatePayoutPublished

	m.sendPeerPublishedPayoutTxMessage(d, outcome.tx)
	m.closeDispute(d)

	if err := m.cfg.Store.Put(d); err != nil {
		log.Errorf("Unable to persist dispute %v: %v",
			outcome.tradeID, err)
	}
}

// onPeerPublishedPayoutTx reconciles the counterparty's broadcast: the raw
// transaction is committed into the local wallet view and the dispute is
// closed.
func (m *Manager) onPeerPublishedPayoutTx(
	msg *PeerPublishedDisputePayoutTxMessage) {

	d := m.cfg.Store.Get(msg.Trade)
	if d == nil {
		m.scheduleRetry(msg, msg.Uid, m.cfg.PayoutTxRetryDelay)
		return
	}
	delete(m.retried, msg.Uid)

	tx := wire.NewMsgTx(wire.TxVersion)
	err := tx.Deserialize(bytes.NewReader(msg.PayoutTx))
	if err != nil {
		log.Errorf("Peer sent undecodable payout tx for trade %v: %v",
			msg.Trade, err)
		m.sendAck(msg, msg.SenderAddress, m.peerPubKey(d), false,
			err.Error())
		return
	}

	m.cfg.Wallet.CommitTx(tx)
	txHash := tx.TxHash()
	d.PayoutTxID = txHash.String()
	d.State = StatePayoutReceivedFromPeer
	d.IsClosed = true

	log.Infof("Peer published payout tx %v for trade %v", d.PayoutTxID,
		msg.Trade)

	m.sendAck(msg, msg.SenderAddress, m.peerPubKey(d), true, "")
	m.closeDispute(d)

	if err := m.cfg.Store.Put(d); err != nil {
		log.Errorf("Unable to persist dispute %v: %v", msg.Trade, err)
	}
}

// onAck records the outcome the peer reported for one of our messages.
func (m *Manager) onAck(msg *AckMessage) {
	if !msg.Success {
		log.Warnf("Peer %v failed to process %v (uid=%v) for trade "+
			"%v: %v", msg.SenderAddress, msg.SourceType,
			msg.AckedUID, msg.Trade, msg.ErrorMessage)
		return
	}
	log.Debugf("Peer %v processed %v (uid=%v) for trade %v",
		msg.SenderAddress, msg.SourceType, msg.AckedUID, msg.Trade)
}

// scheduleRetry parks a message whose dispute has not arrived yet and
// replays it once after the given delay. A message that misses again after
// its replay is dropped.
func (m *Manager) scheduleRetry(msg SupportMessage, uid string,
	delay time.Duration) {

	if m.retried[uid] {
		log.Warnf("No dispute for trade %v after replay of %v "+
			"(uid=%v), dropping", msg.TradeID(), msg.Type(), uid)
		delete(m.retried, uid)
		return
	}
	m.retried[uid] = true

	log.Infof("No dispute for trade %v yet, replaying %v (uid=%v) in %v",
		msg.TradeID(), msg.Type(), uid, delay)

	time.AfterFunc(delay, func() {
		m.ProcessMessage(msg)
	})
}

// closeDispute flags the dispute closed and fires the reconciliation hook.
func (m *Manager) closeDispute(d *Dispute) {
	d.IsClosed = true
	if m.cfg.OnDisputeClosed != nil {
		m.cfg.OnDisputeClosed(d.TradeID)
	}
}

// existingPayoutTx returns the payout transaction the wallet already knows
// for the trade, or nil.
func (m *Manager) existingPayoutTx(d *Dispute) *wire.MsgTx {
	return m.cfg.Wallet.PayoutTx(d.TradeID)
}

// sendPeerPublishedPayoutTxMessage sends the raw payout transaction to the
// counterparty of the dispute opener.
func (m *Manager) sendPeerPublishedPayoutTxMessage(d *Dispute,
	tx *wire.MsgTx) {

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		log.Errorf("Unable to serialize payout tx for trade %v: %v",
			d.TradeID, err)
		return
	}

	peerKey, peerAddr := m.counterpartyOfOpener(d)
	m.sendMessage(peerAddr, peerKey, NewPeerPublishedDisputePayoutTxMessage(
		d.TradeID, buf.Bytes(), m.cfg.OwnAddress,
	))
}

// counterpartyOfOpener returns the identity key and address of the side
// that did not open the dispute.
func (m *Manager) counterpartyOfOpener(d *Dispute) ([]byte, p2p.NodeAddress) {
	c := d.Contract
	if d.OpenerIsBuyer {
		return c.SellerPubKey, c.SellerNodeAddress
	}
	return c.BuyerPubKey, c.BuyerNodeAddress
}

// openerPubKey returns the identity key of the side that opened the
// dispute.
func (m *Manager) openerPubKey(d *Dispute) []byte {
	if d.OpenerIsBuyer {
		return d.Contract.BuyerPubKey
	}
	return d.Contract.SellerPubKey
}

// peerPubKey returns the counterparty's identity key relative to the local
// party.
func (m *Manager) peerPubKey(d *Dispute) []byte {
	key, _ := d.Contract.PeerOf(m.cfg.OwnPubKey)
	return key
}

// sendAck acknowledges a processed message back to its originator.
func (m *Manager) sendAck(src SupportMessage, peer p2p.NodeAddress,
	peerPubKey []byte, success bool, errorMessage string) {

	m.sendMessage(peer, peerPubKey,
		NewAckMessage(src, m.cfg.OwnAddress, success, errorMessage))
}

// sendMessage delivers a support message asynchronously and logs the
// delivery outcome without blocking the dispatch context.
func (m *Manager) sendMessage(peer p2p.NodeAddress, peerPubKey []byte,
	msg SupportMessage) {

	resultChan := m.cfg.Transport.SendEncrypted(peer, peerPubKey, msg)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		select {
		case result := <-resultChan:
			status, err := result.Unpack()
			if err != nil {
				log.Errorf("Unable to deliver %v (uid=%v) to "+
					"%v: %v", msg.Type(), msg.UID(), peer,
					err)
				return
			}
			log.Debugf("%v (uid=%v) delivered to %v: %v",
				msg.Type(), msg.UID(), peer, status)

		case <-m.quit:
		}
	}()
}

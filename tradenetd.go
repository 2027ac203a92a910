// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"

	"github.com/tradenet/tradenetd/arbitration"
	"github.com/tradenet/tradenetd/escrow"
	"github.com/tradenet/tradenetd/p2p"
	"github.com/tradenet/tradenetd/witness"
)

var cfg *config

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Work around defer not working after os.Exit.
	if err := tradenetdMain(); err != nil {
		os.Exit(1)
	}
}

// tradenetdMain is the real main function for tradenetd. It is necessary to
// work around the fact that deferred functions do not run when os.Exit() is
// called.
func tradenetdMain() error {
	// Load configuration and parse command line. This also initializes
	// logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Show version at startup.
	log.Infof("Version %s", version())

	// Open the dispute and witness database.
	db, err := openDB(cfg.AppDataDir)
	if err != nil {
		log.Errorf("%v", err)
		return err
	}
	defer db.Close()

	// The overlay transport and the wallet backend are attached
	// externally; a node running without them still serves the local
	// witness and dispute query surface.
	transport := p2p.NewNullTransport()
	wallet := newLocalWallet(cfg.arbitratorKey)

	witnessService, err := buildWitnessService(db, transport)
	if err != nil {
		log.Errorf("%v", err)
		return err
	}

	settlementEngine, err := buildSettlementEngine(db, transport, wallet)
	if err != nil {
		log.Errorf("%v", err)
		return err
	}

	witnessService.Start()
	settlementEngine.Start()

	addInterruptHandler(func() {
		settlementEngine.Stop()
		witnessService.Stop()
	})

	<-interruptHandlersDone
	log.Info("Shutdown complete")
	return nil
}

// openDB opens the node database, creating it on first run.
func openDB(dataDir string) (walletdb.DB, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("unable to create data directory: %w",
			err)
	}

	dbPath := filepath.Join(dataDir, "tradenet.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		db, err := walletdb.Create(
			"bdb", dbPath, true, 60*time.Second, false,
		)
		if err != nil {
			return nil, fmt.Errorf("unable to create database: %w",
				err)
		}
		return db, nil
	}

	db, err := walletdb.Open("bdb", dbPath, true, 60*time.Second, false)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	return db, nil
}

// buildWitnessService assembles the witness store, verifiers and service.
func buildWitnessService(db walletdb.DB,
	transport *p2p.NullTransport) (*witness.Service, error) {

	store, err := witness.OpenStore(db)
	if err != nil {
		return nil, err
	}

	verifier := witness.NewVerifier(witness.VerifierConfig{
		IsTrustedArbitrator: witness.StaticArbitratorRegistry(
			cfg.TrustedArbitrators,
		),
	})
	chainVerifier := witness.NewChainVerifier(store, verifier)

	// Without a transport backend there is no bootstrap to wait for; the
	// republisher may start its delay immediately.
	bootstrapped := make(chan struct{})
	close(bootstrapped)

	return witness.NewService(witness.ServiceConfig{
		Store:         store,
		Verifier:      verifier,
		ChainVerifier: chainVerifier,
		Broadcaster:   transport,
		SignerKey:     cfg.arbitratorKey,
		IsArbitrator:  cfg.arbitratorKey != nil,
		Bootstrapped:  bootstrapped,
	}), nil
}

// buildSettlementEngine assembles the dispute store and settlement engine.
func buildSettlementEngine(db walletdb.DB, transport *p2p.NullTransport,
	wallet *localWallet) (*arbitration.Manager, error) {

	store, err := arbitration.OpenDisputeStore(db)
	if err != nil {
		return nil, err
	}

	broadcaster, err := buildTxBroadcaster()
	if err != nil {
		return nil, err
	}

	var ownPubKey []byte
	if cfg.arbitratorKey != nil {
		ownPubKey = cfg.arbitratorKey.PubKey().SerializeCompressed()
	}

	return arbitration.NewManager(arbitration.ManagerConfig{
		Store:     store,
		Transport: transport,
		Wallet:    wallet,
		Finalizer: &escrow.Finalizer{
			ChainParams: activeNet.Params,
		},
		Broadcaster: broadcaster,
		OwnPubKey:   ownPubKey,
		OwnAddress:  p2p.NodeAddress(cfg.NodeAddress),
		OnDisputeClosed: func(tradeID string) {
			log.Infof("Dispute for trade %v settled", tradeID)
		},
	}), nil
}

// buildTxBroadcaster connects the configured btcd RPC backend, or falls
// back to a broadcaster that rejects everything when none is configured.
func buildTxBroadcaster() (escrow.TxBroadcaster, error) {
	if cfg.RPCConnect == "" {
		log.Warnf("No chain backend configured, payout transactions " +
			"can not be broadcast")
		return escrow.NullBroadcaster{}, nil
	}

	var certs []byte
	if !cfg.NoClientTLS && cfg.CAFile != "" {
		var err error
		certs, err = os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read CA file: %w",
				err)
		}
	}

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.RPCConnect,
		Endpoint:     "ws",
		User:         cfg.RPCUser,
		Pass:         cfg.RPCPass,
		Certificates: certs,
		DisableTLS:   cfg.NoClientTLS,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %v: %w",
			cfg.RPCConnect, err)
	}

	log.Infof("Broadcasting payout transactions through %v",
		cfg.RPCConnect)
	return &escrow.RPCBroadcaster{Client: client}, nil
}

// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"github.com/btcsuite/btcd/chaincfg"
)

// netParams groups the chain parameters of a network with the default port
// of its btcd RPC interface.
type netParams struct {
	*chaincfg.Params
	rpcPort string
}

// mainNetParams are the parameters for running against a mainnet btcd node.
var mainNetParams = netParams{
	Params:  &chaincfg.MainNetParams,
	rpcPort: "8334",
}

// testNet3Params are the parameters for running against a testnet3 btcd
// node.
var testNet3Params = netParams{
	Params:  &chaincfg.TestNet3Params,
	rpcPort: "18334",
}

// simNetParams are the parameters for running against a simnet btcd node.
var simNetParams = netParams{
	Params:  &chaincfg.SimNetParams,
	rpcPort: "18556",
}

// activeNet is assigned during config parsing and defaults to mainnet.
var activeNet = &mainNetParams

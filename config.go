// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "tradenetd.conf"
	defaultLogFilename    = "tradenetd.log"
	defaultLogLevel       = "info"
)

var (
	defaultAppDataDir = btcutil.AppDataDir("tradenetd", false)
	defaultConfigFile = filepath.Join(defaultAppDataDir,
		defaultConfigFilename)
	defaultLogDir = filepath.Join(defaultAppDataDir, "logs")
)

// config defines the configuration options for tradenetd.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	AppDataDir  string `short:"A" long:"appdata" description:"Application data directory for trade data, disputes and witnesses"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`

	TestNet3 bool `long:"testnet" description:"Use the test Bitcoin network (version 3)"`
	SimNet   bool `long:"simnet" description:"Use the simulation test network"`

	NodeAddress string `long:"nodeaddress" description:"Overlay address announced to trading peers"`

	TrustedArbitrators []string `long:"trustedarbitrator" description:"Hex-encoded public key of an arbitrator trusted as a witness chain root (may be specified multiple times)"`
	ArbitratorKey      string   `long:"arbitratorkey" description:"Hex-encoded private key enabling arbitrator mode for the local node"`

	RPCConnect  string `short:"c" long:"rpcconnect" description:"Hostname/IP and port of btcd RPC server to broadcast payout transactions through (default localhost:8334, mainnet: 8334, testnet: 18334, simnet: 18556)"`
	RPCUser     string `short:"u" long:"rpcuser" description:"Username for btcd RPC connection"`
	RPCPass     string `short:"P" long:"rpcpass" default-mask:"-" description:"Password for btcd RPC connection"`
	CAFile      string `long:"cafile" description:"File containing root certificates to authenticate a TLS connection with btcd"`
	NoClientTLS bool   `long:"noclienttls" description:"Disable TLS for the btcd RPC connection"`

	// arbitratorKey is the parsed ArbitratorKey option.
	arbitratorKey *btcec.PrivateKey
}

// normalizeAddress returns addr with the passed default port appended if
// there is not already a port specified.
func normalizeAddress(addr, defaultPort string) string {
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Nothing to do when the path is empty.
	if path == "" {
		return path
	}

	// Expand initial ~ to the current user's home directory, or ~otheruser
	// to otheruser's home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		if i := strings.IndexAny(path, "/\\"); i == 1 || i == -1 {
			u, err := user.Current()
			if err == nil {
				homeDir = u.HomeDir
			}
		} else {
			username := path[1:]
			if i != -1 {
				username = path[1:i]
			}
			u, err := user.Lookup(username)
			if err == nil {
				homeDir = u.HomeDir
			}
		}
		// Fallback to CWD if user lookup failed.
		if homeDir == "" {
			homeDir = "."
		}
		path = homeDir + path[1:]
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// parseAndSetDebugLevels attempts to parse the specified debug level and
// set the levels accordingly. An appropriate error is returned if anything
// is invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") &&
		!strings.Contains(debugLevel, "=") {

		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while
	// detecting issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "the specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "the specified subsystem [%v] is invalid -- " +
				"supported subsystems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// supportedSubsystems returns a sorted slice of the supported subsystems
// for logging purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	return subsystems
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified
//     options
//  4. Parse CLI options and overwrite/add any specified options
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		ConfigFile: defaultConfigFile,
		AppDataDir: defaultAppDataDir,
		LogDir:     defaultLogDir,
		DebugLevel: defaultLogLevel,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok &&
			e.Type == flags.ErrHelp {

			os.Exit(0)
		}
		preParser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	funcName := "loadConfig"
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, version())
		os.Exit(0)
	}

	// Load additional config from file.
	configFilePath := cleanAndExpandPath(preCfg.ConfigFile)
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(configFilePath)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
		// Missing config file is fine; all options may come from the
		// command line.
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok ||
			e.Type != flags.ErrHelp {

			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Multiple networks can't be selected simultaneously.
	numNets := 0
	if cfg.TestNet3 {
		activeNet = &testNet3Params
		numNets++
	}
	if cfg.SimNet {
		activeNet = &simNetParams
		numNets++
	}
	if numNets > 1 {
		str := "%s: the testnet and simnet params can't be used " +
			"together -- choose one"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	// Append the network type to the app data and log directories so
	// they are "namespaced" per network.
	cfg.AppDataDir = cleanAndExpandPath(cfg.AppDataDir)
	cfg.AppDataDir = filepath.Join(cfg.AppDataDir, activeNet.Name)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, activeNet.Name)

	// Initialize log rotation. After log rotation has been initialized,
	// the logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	err = parseAndSetDebugLevels(cfg.DebugLevel)
	if err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Validate the trusted arbitrator keys.
	for _, keyHex := range cfg.TrustedArbitrators {
		keyBytes, err := hex.DecodeString(keyHex)
		if err != nil {
			err := fmt.Errorf("%s: invalid trusted arbitrator "+
				"key %v: %v", funcName, keyHex, err)
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
		if _, err := btcec.ParsePubKey(keyBytes); err != nil {
			err := fmt.Errorf("%s: invalid trusted arbitrator "+
				"key %v: %v", funcName, keyHex, err)
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	// Parse the arbitrator mode key.
	if cfg.ArbitratorKey != "" {
		keyBytes, err := hex.DecodeString(cfg.ArbitratorKey)
		if err != nil || len(keyBytes) != 32 {
			err := fmt.Errorf("%s: arbitratorkey must be a hex "+
				"encoded 32 byte private key", funcName)
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
		cfg.arbitratorKey, _ = btcec.PrivKeyFromBytes(keyBytes)
	}

	// Add the default btcd RPC port of the active network when the
	// connect address omits one.
	if cfg.RPCConnect != "" {
		cfg.RPCConnect = normalizeAddress(cfg.RPCConnect,
			activeNet.rpcPort)
	}

	// An RPC username and password are required when a chain backend is
	// configured.
	if cfg.RPCConnect != "" && (cfg.RPCUser == "" || cfg.RPCPass == "") {
		err := fmt.Errorf("%s: rpcuser and rpcpass are required when "+
			"rpcconnect is set", funcName)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	if cfg.CAFile != "" {
		cfg.CAFile = cleanAndExpandPath(cfg.CAFile)
	}

	return &cfg, remainingArgs, nil
}

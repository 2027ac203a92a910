// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package witness

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
)

// messageSignatureHeader is the magic prefix of the signed message digest
// used for arbitrator attestations. It matches the scheme used for signing
// arbitrary messages with Bitcoin keys, so arbitrator registration keys can
// double as witness signing keys.
const messageSignatureHeader = "Bitcoin Signed Message:\n"

// defaultVerifyCacheSize is the number of witness verification verdicts kept
// in memory. The chain walk re-verifies the same records constantly, and a
// verdict never changes for a given dedup hash.
const defaultVerifyCacheSize = 5000

// verdict is a cached verification outcome.
type verdict bool

// Size returns the cache weight of a verdict.
func (v verdict) Size() (uint64, error) {
	return 1, nil
}

// VerifierConfig houses the external dependencies of a Verifier.
type VerifierConfig struct {
	// IsTrustedArbitrator reports whether the hex encoding of a signer
	// public key belongs to a registered arbitrator. Arbitrator
	// attestations from keys outside this registry are rejected before
	// any cryptographic check.
	IsTrustedArbitrator func(pubKeyHex string) bool
}

// StaticArbitratorRegistry returns a registry lookup over a fixed list of
// hex encoded arbitrator public keys.
func StaticArbitratorRegistry(pubKeysHex []string) func(string) bool {
	keys := make(map[string]struct{}, len(pubKeysHex))
	for _, k := range pubKeysHex {
		keys[k] = struct{}{}
	}
	return func(pubKeyHex string) bool {
		_, ok := keys[pubKeyHex]
		return ok
	}
}

// Verifier checks witness signatures. Failures are reported as false, never
// as errors: a witness that does not verify is simply not trusted.
type Verifier struct {
	cfg      VerifierConfig
	verdicts *lru.Cache[[HashLen]byte, verdict]
}

// NewVerifier constructs a Verifier with a bounded verdict cache.
func NewVerifier(cfg VerifierConfig) *Verifier {
	return &Verifier{
		cfg:      cfg,
		verdicts: lru.NewCache[[HashLen]byte, verdict](defaultVerifyCacheSize),
	}
}

// Verify reports whether the witness signature is valid under the selected
// method. Malformed keys or signatures yield false and a log entry with the
// witness context, never a fault.
func (v *Verifier) Verify(w *SignedWitness) bool {
	hash := w.Hash()
	if cached, err := v.verdicts.Get(hash); err == nil {
		return bool(cached)
	} else if err != cache.ErrElementNotFound {
		log.Debugf("Verdict cache lookup failed: %v", err)
	}

	var valid bool
	switch w.Method {
	case MethodArbitrator:
		valid = v.verifyArbitrator(w)
	case MethodTrade:
		valid = v.verifyTrader(w)
	default:
		log.Warnf("Unknown verification method in %v", w)
	}

	if _, err := v.verdicts.Put(hash, verdict(valid)); err != nil {
		log.Debugf("Verdict cache insert failed: %v", err)
	}
	return valid
}

// verifyArbitrator checks an arbitrator attestation: the signature bytes
// are base64 text of a compact recoverable signature over the signed-message
// digest of the hex encoded account witness hash.
func (v *Verifier) verifyArbitrator(w *SignedWitness) bool {
	keyHex := hex.EncodeToString(w.SignerPubKey)
	if !v.cfg.IsTrustedArbitrator(keyHex) {
		log.Warnf("Signer key %s is not a registered arbitrator, "+
			"rejecting %v", shortKey(w.SignerPubKey), w)
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(string(w.Signature))
	if err != nil {
		log.Warnf("Signature is not valid base64 (%v) in %v", err, w)
		return false
	}

	digest := signedMessageDigest(hex.EncodeToString(w.AccountWitnessHash))
	recovered, _, err := ecdsa.RecoverCompact(sig, digest)
	if err != nil {
		log.Warnf("Unable to recover signer key (%v) from %v", err, w)
		return false
	}

	if !bytes.Equal(recovered.SerializeCompressed(), w.SignerPubKey) &&
		!bytes.Equal(recovered.SerializeUncompressed(), w.SignerPubKey) {

		log.Warnf("Recovered key %s does not match signer key in %v",
			shortKey(recovered.SerializeCompressed()), w)
		return false
	}
	return true
}

// verifyTrader checks a trade attestation: a raw DER signature by the peer's
// identity key over the raw account witness hash bytes. Any peer may sign,
// so there is no registry check.
func (v *Verifier) verifyTrader(w *SignedWitness) bool {
	pubKey, err := btcec.ParsePubKey(w.SignerPubKey)
	if err != nil {
		log.Warnf("Unable to parse signer key (%v) in %v", err, w)
		return false
	}

	sig, err := ecdsa.ParseDERSignature(w.Signature)
	if err != nil {
		log.Warnf("Unable to parse signature (%v) in %v", err, w)
		return false
	}

	return sig.Verify(w.AccountWitnessHash, pubKey)
}

// SignWitnessHashAsArbitrator produces arbitrator attestation signature
// bytes: a base64 encoded compact signature over the signed-message digest
// of the hex encoded account witness hash.
func SignWitnessHashAsArbitrator(key *btcec.PrivateKey,
	accountWitnessHash []byte) []byte {

	digest := signedMessageDigest(hex.EncodeToString(accountWitnessHash))
	sig := ecdsa.SignCompact(key, digest, true)
	return []byte(base64.StdEncoding.EncodeToString(sig))
}

// SignWitnessHashAsTrader produces trade attestation signature bytes: a DER
// signature over the raw account witness hash.
func SignWitnessHashAsTrader(key *btcec.PrivateKey,
	accountWitnessHash []byte) []byte {

	return ecdsa.Sign(key, accountWitnessHash).Serialize()
}

// signedMessageDigest computes the double SHA-256 digest of msg framed with
// the signed message magic.
func signedMessageDigest(msg string) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, messageSignatureHeader)
	_ = wire.WriteVarString(&buf, 0, msg)
	return chainhash.DoubleHashB(buf.Bytes())
}

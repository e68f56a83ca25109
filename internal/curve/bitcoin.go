package curve

import (
	"encoding/hex"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// WIFAndAddress encodes a recovered discrete-log scalar as a mainnet
// Bitcoin WIF private key plus the compressed-pubkey P2PKH address it
// controls — the two artifacts an operator needs to actually spend from
// or verify a solved target (spec §6 result output).
func WIFAndAddress(key *big.Int) (wif string, address string, err error) {
	var privBytes [32]byte
	key.FillBytes(privBytes[:])
	priv, pub := btcec.PrivKeyFromBytes(privBytes[:])

	w, err := btcutil.NewWIF(priv, &chaincfg.MainNetParams, true)
	if err != nil {
		return "", "", err
	}

	hash160 := btcutil.Hash160(pub.SerializeCompressed())
	addr, err := btcutil.NewAddressPubKeyHash(hash160, &chaincfg.MainNetParams)
	if err != nil {
		return "", "", err
	}
	return w.String(), addr.EncodeAddress(), nil
}

// Fingerprint returns a short, stable hex identifier for a target point,
// the same double-SHA256-and-truncate idiom the teacher used for txid and
// block-hash identifiers (chainhash.Hash), applied here to a public key
// instead of a transaction. It lets an operator tell two concurrently
// running servers' targets apart in logs without printing the full key.
func Fingerprint(p Point) string {
	h := chainhash.HashH(p.CompressedBytes())
	return hex.EncodeToString(h[:8])
}

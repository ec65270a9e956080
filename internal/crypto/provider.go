// Package crypto implements the Identity & Crypto Provider component:
// producing keypairs and signing/verifying byte strings under a named
// curve, and deriving an agent-address from a public key. It generalizes
// the teacher's wallet/utils.go (secp256k1 signing, FetchAI/cosmos bech32
// and ethereum address derivation) behind a single Provider interface keyed
// by ledger id, exactly as the teacher's addressFromPublicKeyTable /
// verifyLedgerSignatureTable dispatch maps do.
package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck
	"golang.org/x/crypto/sha3"
)

// Provider is the crypto provider capability: produce keypairs, sign and
// verify byte strings, and derive an agent-address from a public key.
type Provider interface {
	// LedgerID names the ledger this provider implements (e.g. "fetchai").
	LedgerID() string
	// AddressFromPublicKey derives the agent-address for a hex-encoded
	// public key.
	AddressFromPublicKey(publicKeyHex string) (string, error)
	// Sign produces a signature of message under privateKeyHex: base64 of
	// the RFC6979 R||S bytes (non-DER) for the secp256k1 ledgers, 0x-hex of
	// the 65-byte R||S||V signature for ethereum.
	Sign(message []byte, privateKeyHex string) (string, error)
	// Verify checks a signature, in the encoding Sign uses for the same
	// ledger, of message against a hex-encoded public key.
	Verify(message []byte, signature string, publicKeyHex string) (bool, error)
	// PublicKeyFromPrivateKey derives the hex-encoded public key for a
	// hex-encoded private key.
	PublicKeyFromPrivateKey(privateKeyHex string) (string, error)
}

// Registry dispatches to the Provider registered for a ledger id, mirroring
// the teacher's addressFromPublicKeyTable / verifyLedgerSignatureTable.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry returns a Registry pre-populated with the fetchai, cosmos and
// ethereum providers, matching the teacher's supportedLedgers list.
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	r.Register(NewSecp256k1Provider("fetchai", "fetch"))
	r.Register(NewSecp256k1Provider("cosmos", "cosmos"))
	r.Register(NewEthereumProvider())
	return r
}

// Register adds or replaces the provider for its own LedgerID().
func (r *Registry) Register(p Provider) {
	r.providers[p.LedgerID()] = p
}

// Get returns the provider registered for ledgerID.
func (r *Registry) Get(ledgerID string) (Provider, error) {
	p, ok := r.providers[ledgerID]
	if !ok {
		return nil, errors.Errorf("crypto: unsupported ledger %q", ledgerID)
	}
	return p, nil
}

// secp256k1Provider implements Provider for secp256k1-based ledgers that use
// a cosmos-style bech32 address (FetchAI, Cosmos).
type secp256k1Provider struct {
	ledgerID string
	prefix   string
}

// NewSecp256k1Provider returns a Provider for a cosmos-sdk-style ledger
// identified by ledgerID, whose addresses are bech32-encoded with prefix.
func NewSecp256k1Provider(ledgerID, prefix string) Provider {
	return &secp256k1Provider{ledgerID: ledgerID, prefix: prefix}
}

func (p *secp256k1Provider) LedgerID() string { return p.ledgerID }

func (p *secp256k1Provider) AddressFromPublicKey(publicKeyHex string) (string, error) {
	hexBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return "", errors.Wrap(err, "while decoding public key")
	}
	sha := sha256.Sum256(hexBytes)
	r := ripemd160.New()
	if _, err := r.Write(sha[:]); err != nil {
		return "", errors.Wrap(err, "while hashing public key")
	}
	ripemdHash := r.Sum(nil)
	fiveBits, err := bech32.ConvertBits(ripemdHash, 8, 5, true)
	if err != nil {
		return "", errors.Wrap(err, "while converting to bech32 bit groups")
	}
	return bech32.Encode(p.prefix, fiveBits)
}

func (p *secp256k1Provider) PublicKeyFromPrivateKey(privateKeyHex string) (string, error) {
	pkBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return "", errors.Wrap(err, "while decoding private key")
	}
	_, pub := btcec.PrivKeyFromBytes(btcec.S256(), pkBytes)
	return hex.EncodeToString(pub.SerializeCompressed()), nil
}

func (p *secp256k1Provider) Sign(message []byte, privateKeyHex string) (string, error) {
	pkBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return "", errors.Wrap(err, "while decoding private key")
	}
	priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), pkBytes)
	digest := sha256.Sum256(message)
	sig, err := priv.Sign(digest[:])
	if err != nil {
		return "", errors.Wrap(err, "while signing message")
	}
	der := sig.Serialize()
	rs, err := convertDERToStrEncoded(der)
	if err != nil {
		return "", errors.Wrap(err, "while re-encoding signature")
	}
	return base64.StdEncoding.EncodeToString(rs), nil
}

func (p *secp256k1Provider) Verify(message []byte, signature string, publicKeyHex string) (bool, error) {
	pubBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return false, errors.Wrap(err, "while decoding public key")
	}
	pub, err := btcec.ParsePubKey(pubBytes, btcec.S256())
	if err != nil {
		return false, errors.Wrap(err, "while parsing public key")
	}
	sigBytes, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false, errors.Wrap(err, "while decoding signature")
	}
	der := convertStrEncodedToDER(sigBytes)
	sig, err := btcec.ParseDERSignature(der, btcec.S256())
	if err != nil {
		return false, errors.Wrap(err, "while parsing signature")
	}
	digest := sha256.Sum256(message)
	return sig.Verify(digest[:], pub), nil
}

// convertStrEncodedToDER converts a raw (R||S) signature to DER, matching
// the teacher's utils.ConvertStrEncodedSignatureToDER.
func convertStrEncodedToDER(signature []byte) []byte {
	rb := signature[:len(signature)/2]
	sb := signature[len(signature)/2:]
	length := 6 + len(rb) + len(sb)
	der := make([]byte, length)
	der[0] = 0x30
	der[1] = byte(length - 2)
	der[2] = 0x02
	der[3] = byte(len(rb))
	offset := copy(der[4:], rb) + 4
	der[offset] = 0x02
	der[offset+1] = byte(len(sb))
	copy(der[offset+2:], sb)
	return der
}

// convertDERToStrEncoded is the inverse of convertStrEncodedToDER, matching
// the teacher's utils.ConvertDEREncodedSignatureToStr.
func convertDERToStrEncoded(der []byte) ([]byte, error) {
	sig, err := btcec.ParseDERSignature(der, btcec.S256())
	if err != nil {
		return nil, err
	}
	return append(sig.R.Bytes(), sig.S.Bytes()...), nil
}

// ethereumProvider implements Provider for the ethereum ledger.
type ethereumProvider struct{}

// NewEthereumProvider returns the ethereum ledger's Provider.
func NewEthereumProvider() Provider { return &ethereumProvider{} }

func (p *ethereumProvider) LedgerID() string { return "ethereum" }

func (p *ethereumProvider) AddressFromPublicKey(publicKeyHex string) (string, error) {
	hexBytes, err := hex.DecodeString(publicKeyHex[2:])
	if err != nil {
		return "", errors.Wrap(err, "while decoding public key")
	}
	if len(hexBytes) == 65 && hexBytes[0] == 0x04 {
		hexBytes = hexBytes[1:] // drop the uncompressed-point prefix
	}
	hash := sha3.NewLegacyKeccak256()
	if _, err := hash.Write(hexBytes); err != nil {
		return "", err
	}
	return eip55Checksum(hash.Sum(nil)[12:]), nil
}

func (p *ethereumProvider) PublicKeyFromPrivateKey(privateKeyHex string) (string, error) {
	priv, err := ethcrypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return "", errors.Wrap(err, "while parsing private key")
	}
	return hexutil.Encode(ethcrypto.FromECDSAPub(&priv.PublicKey)), nil
}

func (p *ethereumProvider) Sign(message []byte, privateKeyHex string) (string, error) {
	priv, err := ethcrypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return "", errors.Wrap(err, "while parsing private key")
	}
	sig, err := ethcrypto.Sign(signHashEthereum(message), priv)
	if err != nil {
		return "", errors.Wrap(err, "while signing message")
	}
	sig[64] += 27 // Verify takes V as 27 or 28
	return hexutil.Encode(sig), nil
}

func (p *ethereumProvider) Verify(message []byte, signature string, publicKeyHex string) (bool, error) {
	expected, err := p.AddressFromPublicKey(publicKeyHex)
	if err != nil {
		return false, err
	}
	sigBytes, err := hexutil.Decode(signature)
	if err != nil {
		return false, errors.Wrap(err, "while decoding signature")
	}
	if sigBytes[64] != 27 && sigBytes[64] != 28 {
		return false, errors.New("invalid ethereum signature: V is not 27 or 28")
	}
	sigBytes[64] -= 27
	recovered, err := ethcrypto.SigToPub(signHashEthereum(message), sigBytes)
	if err != nil {
		return false, errors.Wrap(err, "while recovering public key")
	}
	return ethcrypto.PubkeyToAddress(*recovered).Hex() == expected, nil
}

func signHashEthereum(data []byte) []byte {
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(data), data)
	return ethcrypto.Keccak256([]byte(msg))
}

// eip55Checksum formats an address per EIP-55, matching the teacher's
// utils.encodeChecksumEIP55.
func eip55Checksum(address []byte) string {
	unchecksummed := hex.EncodeToString(address)
	sha := sha3.NewLegacyKeccak256()
	_, _ = sha.Write([]byte(unchecksummed))
	hash := sha.Sum(nil)

	result := []byte(unchecksummed)
	for i := range result {
		hashByte := hash[i/2]
		if i%2 == 0 {
			hashByte >>= 4
		} else {
			hashByte &= 0xf
		}
		if result[i] > '9' && hashByte > 7 {
			result[i] -= 32
		}
	}
	return "0x" + string(result)
}

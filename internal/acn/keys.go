package acn

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"io"

	"github.com/btcsuite/btcd/btcec"
	libp2pcrypto "github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/multiformats/go-multihash"
	"github.com/pkg/errors"

	"github.com/ipfs/go-cid"
)

// MaxStreamMessageSize bounds a single framed libp2p-stream message, mirroring
// the teacher's maxMessageSizeDelegateConnection cap on both the delegate
// socket and the peer-to-peer streams.
const MaxStreamMessageSize = 3 * 1024 * 1024

// libp2pKeyPairFromHex converts a hex-encoded secp256k1 private key (the
// same key material used for an agent's ledger identity) into the libp2p
// key pair a DHT peer's host identity is built from, grounded on the
// teacher's utils.KeyPairFromFetchAIKey.
func libp2pKeyPairFromHex(privateKeyHex string) (libp2pcrypto.PrivKey, libp2pcrypto.PubKey, error) {
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, nil, errors.Wrap(err, "acn: malformed private key hex")
	}
	btcKey, _ := btcec.PrivKeyFromBytes(btcec.S256(), raw)
	priv, pub, err := libp2pcrypto.KeyPairFromStdKey(btcKey)
	if err != nil {
		return nil, nil, errors.Wrap(err, "acn: while deriving libp2p key pair")
	}
	return priv, pub, nil
}

// PeerIdentityPublicKey derives the hex-encoded public key that
// IdentityFromPrivateKey(privateKeyHex) would install as a Peer's host
// identity, without constructing the Peer itself. Callers use it to build
// the AgentRecord passed to RegisterAgentAddress before New is called,
// since the record must name the peer's own key as its
// representative_public_key.
func PeerIdentityPublicKey(privateKeyHex string) (string, error) {
	_, pub, err := libp2pKeyPairFromHex(privateKeyHex)
	if err != nil {
		return "", err
	}
	return hexPublicKeyFromLibp2pPubKey(pub)
}

// peerIDFromHexPublicKey derives a libp2p peer.ID from a hex-encoded
// secp256k1 public key, grounded on the teacher's utils.IDFromFetchAIPublicKey.
func peerIDFromHexPublicKey(publicKeyHex string) (peer.ID, error) {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return "", errors.Wrap(err, "acn: malformed public key hex")
	}
	pub, err := btcec.ParsePubKey(raw, btcec.S256())
	if err != nil {
		return "", errors.Wrap(err, "acn: malformed secp256k1 public key")
	}
	return peer.IDFromPublicKey((*libp2pcrypto.Secp256k1PublicKey)(pub))
}

// computeCID derives the content ID a DHT peer provides/looks-up for an
// agent address, grounded on the teacher's utils.ComputeCID: a raw-codec
// SHA2-256 multihash over the address bytes, so two peers that both know
// the address arrive at the same key without coordinating out of band.
func computeCID(address string) (cid.Cid, error) {
	prefix := cid.Prefix{
		Version:  0,
		Codec:    cid.Raw,
		MhType:   multihash.SHA2_256,
		MhLength: -1,
	}
	return prefix.Sum([]byte(address))
}

// hexPublicKeyFromLibp2pPubKey renders a libp2p public key back to the hex
// encoding used throughout AgentRecord fields, grounded on the teacher's
// utils.FetchAIPublicKeyFromPubKey.
func hexPublicKeyFromLibp2pPubKey(pub libp2pcrypto.PubKey) (string, error) {
	raw, err := pub.Raw()
	if err != nil {
		return "", errors.Wrap(err, "acn: while extracting raw public key bytes")
	}
	return hex.EncodeToString(raw), nil
}

// readFramedStream reads one uint32_be-length-prefixed message from a
// libp2p stream, grounded on the teacher's utils.ReadBytes.
func readFramedStream(s network.Stream) ([]byte, error) {
	r := bufio.NewReader(s)
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, errors.Wrap(err, "acn: while reading stream frame length")
	}
	size := binary.BigEndian.Uint32(prefix)
	if size > MaxStreamMessageSize {
		return nil, errors.New("acn: stream frame exceeds maximum message size")
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errors.Wrap(err, "acn: while reading stream frame body")
	}
	return body, nil
}

// writeFramedStream writes data to a libp2p stream prefixed with its
// uint32_be length, grounded on the teacher's utils.WriteBytes.
func writeFramedStream(s network.Stream, data []byte) error {
	w := bufio.NewWriter(s)
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(data)))
	if _, err := w.Write(prefix); err != nil {
		return errors.Wrap(err, "acn: while writing stream frame length")
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "acn: while writing stream frame body")
	}
	return w.Flush()
}

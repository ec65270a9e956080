package crypto

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Identity holds one agent's ledger id, address and keypair, generalizing
// the teacher's wallet.Wallet / identity.AgentIdentity types (which load the
// same four fields from an env file) behind an explicit constructor instead
// of os.Args/env-file-at-package-import-time globals.
type Identity struct {
	LedgerID   string
	Address    string
	PublicKey  string
	PrivateKey string
}

// NewIdentity derives and cross-checks public key and address from the
// private key, exactly as wallet.Wallet.InitFromEnv does: if publicKey or
// address are also supplied, they must match what's derived or
// construction fails (a ConfigError surfaced to the caller).
func NewIdentity(registry *Registry, ledgerID, privateKey, publicKey, address string, logger zerolog.Logger) (*Identity, error) {
	if privateKey == "" {
		return nil, errors.New("crypto: no private key provided")
	}
	provider, err := registry.Get(ledgerID)
	if err != nil {
		return nil, err
	}
	derivedPub, err := provider.PublicKeyFromPrivateKey(privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "could not derive public key")
	}
	if publicKey != "" && publicKey != derivedPub {
		return nil, errors.New("derived and provided public key don't match")
	}
	derivedAddr, err := provider.AddressFromPublicKey(derivedPub)
	if err != nil {
		return nil, errors.Wrap(err, "could not derive address")
	}
	if address != "" && address != derivedAddr {
		return nil, errors.New("derived and provided address don't match")
	}
	logger.Debug().Str("address", derivedAddr).Str("ledger_id", ledgerID).Msg("identity initialised")
	return &Identity{
		LedgerID:   ledgerID,
		Address:    derivedAddr,
		PublicKey:  derivedPub,
		PrivateKey: privateKey,
	}, nil
}

// Package config implements the Configuration component: aggregating
// env-sourced fields into one value that cmd/aea passes down to
// constructors, generalizing the teacher's os.Getenv-at-package-scope
// pattern (aealite/wallet/wallet.go, libp2p_node/aea/api.go's Init) behind
// a single godotenv.Overload + explicit struct.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// PoRConfig carries the Proof-of-Representation fields the teacher reads as
// AEA_P2P_POR_* (libp2p_node/aea/api.go's Init).
type PoRConfig struct {
	Address                 string
	PublicKey               string
	RepresentativePublicKey string
	Signature               string
	LedgerID                string
}

// Config is the aggregate of every env-sourced field an AEA process needs,
// generalizing the teacher's scattered os.Getenv calls (wallet.Wallet,
// AeaApi.Init, p2pclient.go) into one value built by Load.
type Config struct {
	AgentName       string
	LedgerID        string
	Address         string
	PublicKey       string
	PrivateKey      string
	PrivateKeyPaths map[string]string

	LogLevel string

	// ACN peer fields, named after the teacher's AEA_P2P_* env vars.
	MsgInPath          string
	MsgOutPath         string
	P2PIdentityKey     string
	EntryURIs          []string
	URI                string
	URIPublic          string
	DelegateURI        string
	URIMonitoring      string
	RegistrationDelay  time.Duration
	RecordsStoragePath string
	PoR                PoRConfig
}

// Error is returned by Load for any malformed or missing required field; the
// caller (cmd/aea) treats it as fatal and exits with the configuration-error
// code.
type Error struct {
	cause error
}

func (e *Error) Error() string { return "config: " + e.cause.Error() }
func (e *Error) Unwrap() error { return e.cause }

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	return &Error{cause: err}
}

// Load overlays envFile onto the process environment (matching the
// teacher's godotenv.Overload(os.Args[1]) call) and builds a Config from it.
// envFile may be empty, in which case only the ambient environment is read.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Overload(envFile); err != nil {
			return nil, wrapErr(errors.Wrapf(err, "loading env file %q", envFile))
		}
	}

	cfg := &Config{
		AgentName:          os.Getenv("AEA_AGENT_NAME"),
		LedgerID:           os.Getenv("AEA_LEDGER_ID"),
		Address:            os.Getenv("AEA_ADDRESS"),
		PublicKey:          os.Getenv("AEA_PUBLIC_KEY"),
		PrivateKey:         os.Getenv("AEA_PRIVATE_KEY"),
		PrivateKeyPaths:    privateKeyPathsFromEnv(),
		LogLevel:           envOrDefault("AEA_LOG_LEVEL", "info"),
		MsgInPath:          os.Getenv("AEA_TO_NODE"),
		MsgOutPath:         os.Getenv("NODE_TO_AEA"),
		P2PIdentityKey:     os.Getenv("AEA_P2P_ID"),
		URI:                os.Getenv("AEA_P2P_URI"),
		URIPublic:          os.Getenv("AEA_P2P_URI_PUBLIC"),
		DelegateURI:        os.Getenv("AEA_P2P_DELEGATE_URI"),
		URIMonitoring:      os.Getenv("AEA_P2P_URI_MONITORING"),
		RecordsStoragePath: os.Getenv("AEA_P2P_CFG_STORAGE_PATH"),
		PoR: PoRConfig{
			Address:                 os.Getenv("AEA_P2P_POR_ADDRESS"),
			PublicKey:               os.Getenv("AEA_P2P_POR_PUBKEY"),
			RepresentativePublicKey: os.Getenv("AEA_P2P_POR_PEER_PUBKEY"),
			Signature:               os.Getenv("AEA_P2P_POR_SIGNATURE"),
			LedgerID:                os.Getenv("AEA_P2P_POR_LEDGER_ID"),
		},
	}

	if entries := os.Getenv("AEA_P2P_ENTRY_URIS"); entries != "" {
		for _, u := range strings.Split(entries, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.EntryURIs = append(cfg.EntryURIs, u)
			}
		}
	}

	if delay := os.Getenv("AEA_P2P_CFG_REGISTRATION_DELAY"); delay != "" {
		seconds, err := strconv.ParseFloat(delay, 64)
		if err != nil {
			return nil, wrapErr(errors.Wrapf(err, "parsing AEA_P2P_CFG_REGISTRATION_DELAY %q", delay))
		}
		cfg.RegistrationDelay = time.Duration(seconds * float64(time.Second))
	}

	if err := cfg.validate(); err != nil {
		return nil, wrapErr(err)
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// privateKeyPathsFromEnv collects AEA_PRIVATE_KEY_PATH_<ledger_id> entries,
// matching spec.md §6's multi-ledger key loading convention.
func privateKeyPathsFromEnv() map[string]string {
	const prefix = "AEA_PRIVATE_KEY_PATH_"
	paths := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, found := strings.Cut(kv, "=")
		if !found || !strings.HasPrefix(k, prefix) {
			continue
		}
		ledgerID := strings.ToLower(strings.TrimPrefix(k, prefix))
		paths[ledgerID] = v
	}
	return paths
}

// validate enforces the minimal set of fields every AEA process needs
// regardless of which connections it wires up: a name and a usable
// identity. ACN-specific fields are validated by the acn package when a
// DHT peer is actually constructed, since a pure in-process agent never
// needs them.
func (c *Config) validate() error {
	if c.AgentName == "" {
		return errors.New("AEA_AGENT_NAME is required")
	}
	if c.PrivateKey == "" && len(c.PrivateKeyPaths) == 0 {
		return errors.New("no private key provided (AEA_PRIVATE_KEY or AEA_PRIVATE_KEY_PATH_<ledger_id>)")
	}
	if c.PrivateKey != "" && c.LedgerID == "" {
		return errors.New("AEA_LEDGER_ID is required when AEA_PRIVATE_KEY is set")
	}
	return nil
}

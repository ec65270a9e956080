// Command aea is the minimal process entrypoint wiring every component
// together into a runnable Agent Runtime, generalizing the teacher's
// cmd/libp2p_node.go / aealite/run.go launcher pattern (env-file argument,
// zerolog console writer, signal-driven shutdown) behind two subcommands:
// "run" starts a single agent project, "launch" starts several concurrently.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/aea-network/aea/internal/acn"
	"github.com/aea-network/aea/internal/config"
	"github.com/aea-network/aea/internal/connection"
	aeacrypto "github.com/aea-network/aea/internal/crypto"
	"github.com/aea-network/aea/internal/protocol"
	"github.com/aea-network/aea/internal/queue"
	"github.com/aea-network/aea/internal/runtime"
	"github.com/aea-network/aea/internal/scheduler"
	"github.com/aea-network/aea/internal/skill"
)

// Exit codes, per the CLI surface's external interface.
const (
	exitClean       = 0
	exitConfigError = 1
	exitRuntimeErr  = 2
	exitSignal      = 130
)

// porValidity is how long a self-signed AgentRecord remains valid. The
// wider CLI (key rotation, externally pre-signed records with their own
// validity window) is out of scope; this is the one default the `run`/
// `launch` entrypoint needs to pick for itself.
const porValidity = 365 * 24 * time.Hour

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: aea run <project-env-file> | aea launch <project-env-file>...")
		return exitConfigError
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "run":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: aea run <project-env-file>")
			return exitConfigError
		}
		return exitCodeFor(ctx, runProject(ctx, args[1], logger))
	case "launch":
		return launch(ctx, args[1:], logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
		return exitConfigError
	}
}

// launch runs every project concurrently and waits for all of them to exit,
// folding their outcomes into a single process exit code: configuration
// errors take priority over runtime errors, which take priority over a
// clean or signal-driven exit.
func launch(ctx context.Context, projects []string, logger zerolog.Logger) int {
	if len(projects) == 0 {
		fmt.Fprintln(os.Stderr, "usage: aea launch <project-env-file>...")
		return exitConfigError
	}

	var wg sync.WaitGroup
	codes := make([]int, len(projects))
	for i, p := range projects {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			codes[i] = exitCodeFor(ctx, runProject(ctx, p, logger.With().Str("project", p).Logger()))
		}(i, p)
	}
	wg.Wait()

	rank := map[int]int{exitClean: 0, exitSignal: 1, exitRuntimeErr: 2, exitConfigError: 3}
	worst := exitClean
	for _, c := range codes {
		if rank[c] > rank[worst] {
			worst = c
		}
	}
	return worst
}

func exitCodeFor(ctx context.Context, err error) int {
	if err == nil {
		if ctx.Err() != nil {
			return exitSignal
		}
		return exitClean
	}
	var cfgErr *config.Error
	var cliErr *configError
	if errors.As(err, &cfgErr) || errors.As(err, &cliErr) {
		return exitConfigError
	}
	return exitRuntimeErr
}

// configError tags an error raised while wiring a project's runtime (an
// unsatisfiable combination of env vars) as a configuration error, the same
// exit-code class config.Load itself uses for a malformed .env file.
type configError struct{ cause error }

func (e *configError) Error() string { return e.cause.Error() }
func (e *configError) Unwrap() error { return e.cause }

// runProject loads one agent project's configuration, wires every component
// together and blocks until ctx is cancelled (by a signal) or the runtime
// fails irrecoverably.
func runProject(ctx context.Context, envFile string, logger zerolog.Logger) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		logger.Error().Err(err).Msg("configuration error")
		return err
	}
	logger = logger.With().Str("agent", cfg.AgentName).Logger()

	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("while wiring agent runtime")
		return err
	}

	// Start's ctx is retained for the runtime's entire lifetime (it is the
	// same ctx the main loop selects on to notice shutdown), so it must be
	// the long-lived signal-cancelable context, not a startup-scoped one.
	if err := rt.Start(ctx); err != nil {
		return errors.Wrap(err, "while starting runtime")
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown requested")

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStop()
	if err := rt.Stop(stopCtx); err != nil {
		return errors.Wrap(err, "while stopping runtime")
	}
	return nil
}

// buildRuntime assembles a Runtime from cfg: the crypto registry and
// identity, an ACN peer (when this process hosts one) or a delegate client
// connection to a remote one, the multiplexer they attach to, and a
// dispatcher with no skills of its own beyond an error handler that replies
// to the sender on the default protocol -- concrete skills are an application concern the minimal
// CLI surface does not prescribe.
func buildRuntime(cfg *config.Config, logger zerolog.Logger) (*runtime.Runtime, error) {
	registry := aeacrypto.NewRegistry()
	identity, err := aeacrypto.NewIdentity(registry, cfg.LedgerID, cfg.PrivateKey, cfg.PublicKey, cfg.Address, logger)
	if err != nil {
		return nil, &configError{cause: errors.Wrap(err, "while deriving identity")}
	}

	conn, err := buildConnection(cfg, registry, identity, logger)
	if err != nil {
		return nil, err
	}

	inbox := queue.New(1000)
	outbox := queue.NewOutbox(1000, func() protocol.Address { return identity.Address })
	mux := connection.NewMultiplexer(inbox, outbox, logger)
	mux.AddConnection(conn, connection.PolicyJustLog)

	protocols := protocol.NewRegistry()
	protocols.Register(skill.DefaultProtocolID, rawPassthroughCodec())
	dispatcher := skill.NewDispatcher(protocols, skill.ReplyErrorHandler(outbox, logger), logger)

	sched := scheduler.New(time.Now, logger)
	rt := runtime.New(sched, dispatcher, mux, inbox, logger)
	return rt, nil
}

// buildConnection picks the one transport this process drives: an ACN peer
// (a full libp2p DHT node, when AEA_P2P_ID names this process's own host
// identity) or a delegate client dialing one (when only AEA_P2P_DELEGATE_URI
// is set).
func buildConnection(cfg *config.Config, registry *aeacrypto.Registry, identity *aeacrypto.Identity, logger zerolog.Logger) (connection.Connection, error) {
	switch {
	case cfg.P2PIdentityKey != "":
		return buildPeer(cfg, registry, identity, logger)
	case cfg.DelegateURI != "":
		return buildDelegateConnection(cfg, identity)
	default:
		return nil, &configError{cause: errors.New("neither AEA_P2P_ID nor AEA_P2P_DELEGATE_URI is set; no transport to wire")}
	}
}

func buildPeer(cfg *config.Config, registry *aeacrypto.Registry, identity *aeacrypto.Identity, logger zerolog.Logger) (connection.Connection, error) {
	localHost, localPort, err := splitHostPort(cfg.URI)
	if err != nil {
		return nil, errors.Wrap(err, "AEA_P2P_URI")
	}
	publicHost, publicPort, err := splitHostPort(cfg.URIPublic)
	if err != nil {
		return nil, errors.Wrap(err, "AEA_P2P_URI_PUBLIC")
	}

	representativeKey, err := acn.PeerIdentityPublicKey(cfg.P2PIdentityKey)
	if err != nil {
		return nil, errors.Wrap(err, "while deriving p2p identity public key")
	}
	notBefore := time.Now()
	record, err := acn.CreateAgentRecord(registry, identity, representativeKey, notBefore, notBefore.Add(porValidity))
	if err != nil {
		return nil, errors.Wrap(err, "while self-signing agent record")
	}

	opts := []acn.Option{
		acn.IdentityFromPrivateKey(cfg.P2PIdentityKey),
		acn.LocalURI(localHost, localPort),
		acn.PublicURI(publicHost, publicPort),
		acn.BootstrapFrom(cfg.EntryURIs),
		acn.RegisterAgentAddress(record, func() bool { return true }),
		acn.EnableRelayService(),
		acn.WithCryptoRegistry(registry),
		acn.WithLogger(logger),
	}
	if cfg.RecordsStoragePath != "" {
		opts = append(opts, acn.StoreRecordsTo(cfg.RecordsStoragePath))
	}
	if cfg.RegistrationDelay > 0 {
		opts = append(opts, acn.WithRegistrationDelay(cfg.RegistrationDelay))
	}
	if cfg.DelegateURI != "" {
		_, delegatePort, err := splitHostPort(cfg.DelegateURI)
		if err != nil {
			return nil, errors.Wrap(err, "AEA_P2P_DELEGATE_URI")
		}
		opts = append(opts, acn.EnableDelegateService(delegatePort))
	}
	if cfg.URIMonitoring != "" {
		_, monitoringPort, err := splitHostPort(cfg.URIMonitoring)
		if err != nil {
			return nil, errors.Wrap(err, "AEA_P2P_URI_MONITORING")
		}
		opts = append(opts, acn.WithMonitoring(monitoringPort))
	}

	return acn.New(opts...)
}

// buildDelegateConnection wires a delegate-client connection to a remote
// ACN peer, using the out-of-band pre-signed Proof-of-Representation the
// deployment environment supplies via AEA_P2P_POR_*: this process holds no
// p2p host identity of its own to self-sign with, exactly as the teacher's
// p2pclient.go reads PeerPublicKey/Signature straight from the environment
// instead of deriving them.
func buildDelegateConnection(cfg *config.Config, identity *aeacrypto.Identity) (connection.Connection, error) {
	if cfg.PoR.Signature == "" {
		return nil, &configError{cause: errors.New("AEA_P2P_POR_SIGNATURE is required for a delegate-client connection")}
	}
	notBefore := time.Now()
	record := &acn.AgentRecord{
		Address:                 identity.Address,
		PublicKey:               identity.PublicKey,
		RepresentativePublicKey: cfg.PoR.RepresentativePublicKey,
		MessageFormat:           acn.DefaultMessageFormat,
		Signature:               cfg.PoR.Signature,
		LedgerID:                cfg.PoR.LedgerID,
		NotBefore:               notBefore,
		NotAfter:                notBefore.Add(porValidity),
	}

	host, port, err := splitHostPort(cfg.DelegateURI)
	if err != nil {
		return nil, errors.Wrap(err, "AEA_P2P_DELEGATE_URI")
	}
	socket := connection.NewTCPSocket(host, port)
	return connection.NewDelegateConnection("delegate:"+cfg.DelegateURI, socket, record), nil
}

func splitHostPort(uri string) (string, uint16, error) {
	host, portStr, found := strings.Cut(uri, ":")
	if !found {
		return "", 0, errors.Errorf("malformed uri %q, expected host:port", uri)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, errors.Wrapf(err, "malformed port in uri %q", uri)
	}
	return host, uint16(port), nil
}

// rawPassthroughCodec is the identity codec for the default protocol: the
// error handler's replies and any other default-protocol traffic carry
// opaque bytes with no structure of their own to decode.
func rawPassthroughCodec() *protocol.Codec {
	return &protocol.Codec{
		Decode: func(data []byte) (protocol.Message, error) { return rawMessage(data), nil },
		Encode: func(msg protocol.Message) ([]byte, error) { return []byte(msg.(rawMessage)), nil },
	}
}

type rawMessage []byte

func (rawMessage) Performative() string { return "raw" }

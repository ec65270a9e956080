// Package acn implements the ACN Peer: a libp2p host participating in a
// Kademlia DHT overlay for address resolution, a relay service for
// NAT-bound dhtclient peers, a framed TCP delegate service for non-libp2p
// clients, and the persistent record store backing all three, grounded on
// the teacher's libp2p_node package (dht/dhtpeer/dhtpeer.go,
// dht/dhtpeer/options.go, acn/utils.go, dht/dhtnode/utils.go, utils/utils.go).
package acn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/peerstore"
	circuit "github.com/libp2p/go-libp2p-circuit"
	kaddht "github.com/libp2p/go-libp2p-kad-dht"
	routedhost "github.com/libp2p/go-libp2p/p2p/host/routed"
	"github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	aeacrypto "github.com/aea-network/aea/internal/crypto"
	"github.com/aea-network/aea/internal/helpers"
	"github.com/aea-network/aea/internal/monitoring"
	"github.com/aea-network/aea/internal/protocol"
)

// monitoringNamespace prefixes every metric name this peer registers.
const monitoringNamespace = "acn"

// Protocol IDs for the four libp2p streams a DHT peer exposes, matching the
// names the teacher's dhtnode package assigns them (AeaRegisterRelayStream,
// AeaAddressStream, AeaEnvelopeStream, AeaNotifStream).
const (
	streamRegisterRelay = "/aea-register/0.1.0"
	streamAddress       = "/aea-address/0.1.0"
	streamEnvelope      = "/aea/0.1.0"
	streamNotif         = "/aea-notif/0.1.0"
)

const (
	addressLookupTimeout         = 20 * time.Second
	newStreamTimeout             = 10 * time.Second
	defaultPersistentStore       = "./agent_records_store"
	lookupRetryDelay             = 200 * time.Millisecond
	defaultAgentReadinessTimeout = 5 * time.Second
	agentReadinessPollInterval   = 100 * time.Millisecond
)

// Option configures a Peer at construction time, mirroring the teacher's
// dhtpeer.Option functional-options pattern (options.go) so the constructor
// can be composed a field at a time instead of threading a giant config
// struct through New.
type Option func(*Peer) error

// IdentityFromPrivateKey derives the peer's libp2p host identity from the
// hex-encoded secp256k1 private key backing its ledger identity, per the
// teacher's IdentityFromFetchAIKey option.
func IdentityFromPrivateKey(privateKeyHex string) Option {
	return func(p *Peer) error {
		priv, pub, err := libp2pKeyPairFromHex(privateKeyHex)
		if err != nil {
			return err
		}
		p.key, p.publicKey = priv, pub
		return nil
	}
}

// LocalURI sets the multiaddress this peer listens on.
func LocalURI(host string, port uint16) Option {
	return func(p *Peer) error {
		addr, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", host, port))
		if err != nil {
			return errors.Wrap(err, "acn: invalid local uri")
		}
		p.localMultiaddr = addr
		return nil
	}
}

// PublicURI sets the multiaddress this peer advertises to the rest of the
// network, which may differ from LocalURI behind NAT.
func PublicURI(host string, port uint16) Option {
	return func(p *Peer) error {
		addr, err := multiaddr.NewMultiaddr(fmt.Sprintf("/dns4/%s/tcp/%d", host, port))
		if err != nil {
			return errors.Wrap(err, "acn: invalid public uri")
		}
		p.publicMultiaddr = addr
		return nil
	}
}

// BootstrapFrom sets the multiaddresses of peers to join the DHT through.
// An empty list means this peer is the bootstrap/entry peer itself.
func BootstrapFrom(entryPeers []string) Option {
	return func(p *Peer) error {
		infos := make([]peer.AddrInfo, 0, len(entryPeers))
		for _, addr := range entryPeers {
			maddr, err := multiaddr.NewMultiaddr(addr)
			if err != nil {
				return errors.Wrapf(err, "acn: invalid bootstrap peer address %q", addr)
			}
			info, err := peer.AddrInfoFromP2pAddr(maddr)
			if err != nil {
				return errors.Wrapf(err, "acn: invalid bootstrap peer address %q", addr)
			}
			infos = append(infos, *info)
		}
		p.bootstrapPeers = infos
		return nil
	}
}

// RegisterAgentAddress attaches the agent record this peer represents (its
// own Proof-of-Representation, if it is fronting a single local agent) plus
// a readiness predicate consulted before envelopes addressed to that agent
// are delivered locally.
func RegisterAgentAddress(record *AgentRecord, isReady func() bool) Option {
	return func(p *Peer) error {
		p.myAgentAddress = record.Address
		p.myAgentRecord = record
		p.myAgentReady = isReady
		return nil
	}
}

// EnableRelayService turns on the register-relay stream handler, allowing
// NAT-bound dhtclient peers to register their address through this peer.
func EnableRelayService() Option {
	return func(p *Peer) error { p.enableRelay = true; return nil }
}

// EnableDelegateService starts a framed TCP listener on port for
// non-libp2p-aware clients (the ACN delegate transport).
func EnableDelegateService(port uint16) Option {
	return func(p *Peer) error { p.delegatePort = port; return nil }
}

// StoreRecordsTo overrides the default persistent record store path.
func StoreRecordsTo(path string) Option {
	return func(p *Peer) error { p.persistentStoragePath = path; return nil }
}

// WithRegistrationDelay adds a fixed delay before this peer announces its
// own agent address on the DHT after joining, giving the host time to
// accumulate routing-table peers first.
func WithRegistrationDelay(delay time.Duration) Option {
	return func(p *Peer) error { p.registrationDelay = delay; return nil }
}

// WithCryptoRegistry supplies the multi-ledger signature registry used to
// validate incoming Proof-of-Representation records.
func WithCryptoRegistry(registry *aeacrypto.Registry) Option {
	return func(p *Peer) error { p.crypto = registry; return nil }
}

// WithLogger overrides the zerolog logger the peer logs through.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Peer) error { p.logger = logger.With().Str("package", "ACNPeer").Logger(); return nil }
}

// WithMonitoring turns on metrics collection. A zero port serves metrics
// through the dependency-free FileService (a periodic stats dump); a
// non-zero port instead starts a PrometheusService exposing "/metrics" on
// that port, per the teacher's setupMonitoring.
func WithMonitoring(port uint16) Option {
	return func(p *Peer) error { p.monitoringEnabled, p.monitoringPort = true, port; return nil }
}

// WithAgentReadinessTimeout caps how long routeEnvelope waits for the
// locally-fronted agent to become ready before giving up, per spec.md
// §4.7 case 1's "short backoff ... up to a configurable cap". Defaults to
// defaultAgentReadinessTimeout when unset or zero.
func WithAgentReadinessTimeout(timeout time.Duration) Option {
	return func(p *Peer) error { p.agentReadinessTimeout = timeout; return nil }
}

// Peer is a full libp2p node for the Agent Communication Network: it holds
// a position in the Kademlia DHT, answers address lookups for itself and
// any agent it relays or delegates for, and forwards envelopes toward their
// destination. It implements connection.Connection so an Agent Runtime can
// drive it through the Multiplexer exactly like any other connection.
type Peer struct {
	key             libp2pcrypto.PrivKey
	publicKey       libp2pcrypto.PubKey
	localMultiaddr  multiaddr.Multiaddr
	publicMultiaddr multiaddr.Multiaddr
	bootstrapPeers  []peer.AddrInfo

	enableRelay           bool
	delegatePort          uint16
	persistentStoragePath string
	registrationDelay     time.Duration
	agentReadinessTimeout time.Duration

	myAgentAddress string
	myAgentRecord  *AgentRecord
	myAgentReady   func() bool

	crypto *aeacrypto.Registry
	logger zerolog.Logger

	monitoringEnabled bool
	monitoringPort    uint16
	monitor           monitoring.Service

	host       *routedhost.RoutedHost
	dht        *kaddht.IpfsDHT
	store      *RecordStore
	delegate   *delegateServer
	inbox      chan *protocol.Envelope
	connected  bool

	relayTableMu sync.RWMutex
	relayTable   map[string]peer.ID // agent address -> relaying peer.ID, for dhtclient registrants

	delegateTableMu sync.RWMutex
	delegateTable   map[string]*delegateClientConn // agent address -> connected delegate client

	recordsMu sync.RWMutex
	records   map[string]*AgentRecord // every agent record this peer has seen, keyed by address

	closing chan struct{}
	wg      sync.WaitGroup
}

// New builds a Peer from opts but does not yet join the network; call
// Connect to do that, matching the Connection lifecycle the Multiplexer
// drives every transport through.
func New(opts ...Option) (*Peer, error) {
	p := &Peer{
		persistentStoragePath: defaultPersistentStore,
		relayTable:            map[string]peer.ID{},
		delegateTable:         map[string]*delegateClientConn{},
		records:               map[string]*AgentRecord{},
		inbox:                 make(chan *protocol.Envelope, 1000),
		logger:                zerolog.Nop(),
		agentReadinessTimeout: defaultAgentReadinessTimeout,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.agentReadinessTimeout <= 0 {
		p.agentReadinessTimeout = defaultAgentReadinessTimeout
	}
	if p.key == nil {
		return nil, errors.New("acn: private key must be provided")
	}
	if p.localMultiaddr == nil {
		return nil, errors.New("acn: local host and port must be set")
	}
	if p.publicMultiaddr == nil {
		return nil, errors.New("acn: public host and port must be set")
	}
	if p.crypto == nil {
		return nil, errors.New("acn: crypto registry must be provided")
	}
	return p, nil
}

// ID satisfies connection.Connection; an ACN peer is identified by its
// persistent storage path, which is unique per deployment.
func (p *Peer) ID() string { return "acn:" + p.persistentStoragePath }

// Connect joins the DHT: it brings up the libp2p host, bootstraps into the
// overlay, registers its stream handlers, replays its persistent record
// store and, if it represents a local agent, announces that agent's
// address, per the teacher's dhtpeer.New.
func (p *Peer) Connect(ctx context.Context) error {
	p.closing = make(chan struct{})

	addressFactory := func(addrs []multiaddr.Multiaddr) []multiaddr.Multiaddr {
		return []multiaddr.Multiaddr{p.publicMultiaddr}
	}
	basicHost, err := libp2p.New(ctx,
		libp2p.ListenAddrs(p.localMultiaddr),
		libp2p.AddrsFactory(addressFactory),
		libp2p.Identity(p.key),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
		libp2p.NATPortMap(),
		libp2p.EnableNATService(),
		libp2p.EnableRelay(circuit.OptHop),
	)
	if err != nil {
		return errors.Wrap(err, "acn: while creating libp2p host")
	}

	dht, err := kaddht.New(ctx, basicHost, kaddht.Mode(kaddht.ModeServer))
	if err != nil {
		return errors.Wrap(err, "acn: while creating kademlia dht")
	}
	p.dht = dht
	p.host = routedhost.Wrap(basicHost, dht)

	if len(p.bootstrapPeers) > 0 {
		if err := p.bootstrapConnect(ctx); err != nil {
			return errors.Wrap(err, "acn: while bootstrapping")
		}
	}
	if err := p.dht.Bootstrap(ctx); err != nil {
		return errors.Wrap(err, "acn: while bootstrapping dht routing table")
	}

	if p.enableRelay {
		p.host.SetStreamHandler(streamRegisterRelay, p.handleRegisterStream)
	}
	p.host.SetStreamHandler(streamNotif, p.handleNotifStream)
	p.host.SetStreamHandler(streamAddress, p.handleAddressStream)
	p.host.SetStreamHandler(streamEnvelope, p.handleEnvelopeStream)

	for _, bootstrapPeer := range p.bootstrapPeers {
		if err := p.notifyPeer(ctx, bootstrapPeer.ID); err != nil {
			return errors.Wrapf(err, "acn: while notifying bootstrap peer %s", bootstrapPeer.ID)
		}
	}

	store, loaded, err := OpenRecordStore(p.persistentStoragePath)
	if err != nil {
		return errors.Wrap(err, "acn: while opening record store")
	}
	p.store = store
	p.recordsMu.Lock()
	for addr, rec := range loaded {
		p.records[addr] = rec
		if peerID, err := peerIDFromHexPublicKey(rec.RepresentativePublicKey); err == nil {
			p.relayTable[addr] = peerID
		}
	}
	p.recordsMu.Unlock()
	p.logger.Info().Int("count", len(loaded)).Msg("loaded agent records from persistent storage")

	if p.monitoringEnabled {
		if err := p.setupMonitoring(); err != nil {
			return errors.Wrap(err, "acn: while setting up monitoring")
		}
	}

	if p.registrationDelay > 0 {
		time.Sleep(p.registrationDelay)
	}
	if p.myAgentAddress != "" {
		if err := p.announceAddress(ctx, p.myAgentAddress, p.myAgentRecord); err != nil {
			return errors.Wrap(err, "acn: while announcing local agent address")
		}
	}

	if p.delegatePort != 0 {
		srv, err := newDelegateServer(p, p.delegatePort)
		if err != nil {
			return errors.Wrap(err, "acn: while starting delegate service")
		}
		p.delegate = srv
	}

	p.connected = true
	return nil
}

// Disconnect tears the peer down in reverse order of setup.
func (p *Peer) Disconnect(ctx context.Context) error {
	if !p.connected {
		return nil
	}
	close(p.closing)
	if p.delegate != nil {
		p.delegate.close()
	}
	if p.monitor != nil {
		p.monitor.Stop()
	}
	p.wg.Wait()
	var err error
	if p.dht != nil {
		if cerr := p.dht.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if p.host != nil {
		if cerr := p.host.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if p.store != nil {
		if cerr := p.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	p.connected = false
	return err
}

func (p *Peer) IsConnected() bool { return p.connected }

// Send routes an outbound envelope toward its destination: locally if it is
// addressed to the agent this peer fronts, to a connected delegate client
// if one is registered for the target, or over the DHT/relay overlay
// otherwise, per the teacher's RouteEnvelope.
func (p *Peer) Send(ctx context.Context, env *protocol.Envelope) error {
	return p.routeEnvelope(ctx, env)
}

// Receive blocks until an envelope destined for the locally-fronted agent
// arrives, mirroring the teacher's processEnvelope callback but exposed as
// a pull API so it composes with the Multiplexer's receive loop.
func (p *Peer) Receive(ctx context.Context) (*protocol.Envelope, error) {
	select {
	case env := <-p.inbox:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// bootstrapConnect dials every configured bootstrap peer once, deduping by
// peer.ID first: several configured multiaddrs can resolve to the same
// libp2p peer (e.g. one advertised over both IPv4 and IPv6), and dialing it
// twice concurrently wastes a connection attempt for no benefit. Grounded on
// the teacher's utils.Set, used the same way to track peers already
// visited during DHT bootstrap/dial fan-out.
func (p *Peer) bootstrapConnect(ctx context.Context) error {
	dialed := helpers.NewSet()
	var unique []peer.AddrInfo
	for _, info := range p.bootstrapPeers {
		if dialed.Contains(info.ID) {
			continue
		}
		dialed.Add(info.ID)
		unique = append(unique, info)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(unique))
	for _, info := range unique {
		wg.Add(1)
		go func(info peer.AddrInfo) {
			defer wg.Done()
			p.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
			if err := p.host.Connect(ctx, info); err != nil {
				errs <- errors.Wrapf(err, "failed to connect to bootstrap peer %s", info.ID)
			}
		}(info)
	}
	wg.Wait()
	close(errs)
	var failures int
	var last error
	for err := range errs {
		failures++
		last = err
	}
	if failures == len(unique) && failures > 0 {
		return last
	}
	return nil
}

// setupMonitoring picks a monitoring backend, registers every metric this
// peer reports, and starts the service's own background loop (a periodic
// file dump, or an HTTP listener), per the teacher's setupMonitoring.
func (p *Peer) setupMonitoring() error {
	if p.monitoringPort != 0 {
		p.monitor = monitoring.NewPrometheusService(monitoringNamespace, p.monitoringPort)
	} else {
		p.monitor = monitoring.NewFileService(monitoringNamespace, false)
	}
	p.logger.Info().Str("backend", p.monitor.Info()).Msg("starting monitoring service")
	go p.monitor.Start()

	buckets := monitoring.LatencyBucketsMicroseconds
	if _, err := p.monitor.NewHistogram(monitoring.MetricDHTOpLatencyStore, "latency of announcing an address on the dht, us", buckets); err != nil {
		return err
	}
	if _, err := p.monitor.NewHistogram(monitoring.MetricDHTOpLatencyLookup, "latency of looking an address up on the dht, us", buckets); err != nil {
		return err
	}
	if _, err := p.monitor.NewHistogram(monitoring.MetricOpLatencyRegister, "latency of registering a relay/delegate client, us", buckets); err != nil {
		return err
	}
	if _, err := p.monitor.NewHistogram(monitoring.MetricOpLatencyRoute, "latency of routing an envelope, us", buckets); err != nil {
		return err
	}
	if _, err := p.monitor.NewGauge(monitoring.MetricOpRouteCount, "envelopes currently being routed"); err != nil {
		return err
	}
	if _, err := p.monitor.NewCounter(monitoring.MetricOpRouteCountAll, "envelopes routed, total"); err != nil {
		return err
	}
	if _, err := p.monitor.NewCounter(monitoring.MetricOpRouteCountSuccess, "envelopes routed successfully, total"); err != nil {
		return err
	}
	if _, err := p.monitor.NewGauge(monitoring.MetricServiceDelegateClientsCount, "connected delegate clients"); err != nil {
		return err
	}
	if _, err := p.monitor.NewCounter(monitoring.MetricServiceDelegateClientsCountAll, "delegate clients registered, total"); err != nil {
		return err
	}
	if _, err := p.monitor.NewGauge(monitoring.MetricServiceRelayClientsCount, "registered relay clients"); err != nil {
		return err
	}
	if _, err := p.monitor.NewCounter(monitoring.MetricServiceRelayClientsCountAll, "relay clients registered, total"); err != nil {
		return err
	}
	return nil
}

func (p *Peer) notifyPeer(ctx context.Context, id peer.ID) error {
	streamCtx, cancel := context.WithTimeout(ctx, newStreamTimeout)
	defer cancel()
	s, err := p.host.NewStream(streamCtx, id, streamNotif)
	if err != nil {
		return err
	}
	defer s.Close()
	_, err = s.Write([]byte(streamNotif))
	return err
}

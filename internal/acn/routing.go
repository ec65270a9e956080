package acn

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/peerstore"
	"github.com/pkg/errors"

	"github.com/aea-network/aea/internal/aeaerr"
	"github.com/aea-network/aea/internal/monitoring"
	"github.com/aea-network/aea/internal/protocol"
)

// ownRepresentativeKey is the hex-encoded public key this peer presents as
// "representative_public_key" whenever it checks a Proof-of-Representation
// presented to it directly (relay registration, delegate registration):
// the record must authorize *this* peer, identified by its own key.
func (p *Peer) ownRepresentativeKey() (string, error) {
	return hexPublicKeyFromLibp2pPubKey(p.publicKey)
}

// routeEnvelope resolves env's destination through, in order: the locally
// fronted agent, a connected delegate client, a registered relay client, or
// the DHT overlay, per the teacher's DHTPeer.RouteEnvelope.
func (p *Peer) routeEnvelope(ctx context.Context, env *protocol.Envelope) (err error) {
	target := env.To

	if p.monitor != nil {
		if g, ok := p.monitor.GetGauge(monitoring.MetricOpRouteCount); ok {
			g.Inc()
			defer g.Dec()
		}
		if c, ok := p.monitor.GetCounter(monitoring.MetricOpRouteCountAll); ok {
			c.Inc()
		}
		start := p.monitor.Timer().NewTimer()
		defer func() {
			if h, ok := p.monitor.GetHistogram(monitoring.MetricOpLatencyRoute); ok {
				h.Observe(float64(p.monitor.Timer().GetTimer(start).Microseconds()))
			}
			if err == nil {
				if c, ok := p.monitor.GetCounter(monitoring.MetricOpRouteCountSuccess); ok {
					c.Inc()
				}
			}
		}()
	}

	if target == p.myAgentAddress {
		deadline := time.Now().Add(p.agentReadinessTimeout)
		for p.myAgentReady != nil && !p.myAgentReady() {
			if time.Now().After(deadline) {
				return aeaerr.New(aeaerr.KindAgentNotReady, "local agent did not become ready within the readiness cap")
			}
			p.logger.Warn().Str("addr", target).Msg("agent not ready yet, waiting")
			select {
			case <-time.After(agentReadinessPollInterval):
			case <-ctx.Done():
				return aeaerr.Wrap(aeaerr.KindAgentNotReady, ctx.Err(), "context cancelled while waiting for local agent readiness")
			}
		}
		select {
		case p.inbox <- env:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.delegateTableMu.RLock()
	delegateConn, hasDelegate := p.delegateTable[target]
	p.delegateTableMu.RUnlock()
	if hasDelegate {
		return delegateConn.send(env)
	}

	p.relayTableMu.RLock()
	relayPeerID, hasRelay := p.relayTable[target]
	p.relayTableMu.RUnlock()

	var destPeerID peer.ID
	var envelRecord *AgentRecord
	if hasRelay {
		destPeerID = relayPeerID
	} else {
		peerID, record, err := p.lookupAddressDHT(ctx, target)
		if err != nil {
			// lookupAddressDHT already tags lookup-exhausted failures with
			// aeaerr.KindAgentNotFound; propagate that kind unchanged
			// instead of masking it behind KindRouting.
			return err
		}
		destPeerID, envelRecord = peerID, record
	}

	streamCtx, cancel := context.WithTimeout(ctx, newStreamTimeout)
	defer cancel()
	stream, err := p.host.NewStream(streamCtx, destPeerID, streamEnvelope)
	if err != nil {
		return aeaerr.Wrap(aeaerr.KindRouting, err, "while opening envelope stream to destination peer")
	}
	defer stream.Close()

	envBytes, err := env.Marshal()
	if err != nil {
		return aeaerr.Wrap(aeaerr.KindRouting, err, "while marshaling envelope")
	}
	msg := NewEnvelopeMessage(envBytes, senderRecordFor(p, env, envelRecord))
	wire, err := MarshalControlMessage(msg)
	if err != nil {
		return aeaerr.Wrap(aeaerr.KindRouting, err, "while marshaling envelope control message")
	}
	if err := writeFramedStream(stream, wire); err != nil {
		return aeaerr.Wrap(aeaerr.KindRouting, err, "while sending envelope")
	}

	respBytes, err := readFramedStream(stream)
	if err != nil {
		return aeaerr.Wrap(aeaerr.KindRouting, err, "while awaiting delivery confirmation")
	}
	status, err := UnmarshalStatusMessage(respBytes)
	if err != nil {
		return aeaerr.Wrap(aeaerr.KindRouting, err, "while decoding delivery confirmation")
	}
	if !status.Success() {
		return aeaerr.New(aeaerr.KindRouting, "envelope delivery failed: "+status.String())
	}
	return nil
}

// statusCodeForRouteError maps a routeEnvelope failure to the wire ErrCode a
// stream handler should reply with, so a caller-visible Status distinguishes
// "no such agent" and "agent not ready yet" from a generic routing failure,
// per spec.md §6/§7.
func statusCodeForRouteError(err error) ErrCode {
	switch {
	case aeaerr.Is(err, aeaerr.KindAgentNotFound):
		return ErrAgentNotFound
	case aeaerr.Is(err, aeaerr.KindAgentNotReady):
		return ErrAgentNotReady
	default:
		return ErrGeneric
	}
}

// senderRecordFor resolves the AgentRecord proving env.Sender authorized
// this peer (or the discovered destination's relay) to carry the envelope
// on its behalf, so the receiving peer can validate it before forwarding.
func senderRecordFor(p *Peer, env *protocol.Envelope, fallback *AgentRecord) *AgentRecord {
	if env.Sender == p.myAgentAddress && p.myAgentRecord != nil {
		return p.myAgentRecord
	}
	p.recordsMu.RLock()
	if rec, ok := p.records[env.Sender]; ok {
		p.recordsMu.RUnlock()
		return rec
	}
	p.recordsMu.RUnlock()
	return fallback
}

// announceAddress registers address as this peer provides it on the DHT
// (so lookupAddressDHT by other peers resolves to this peer), persists the
// record and marks the address as locally known, per the teacher's
// DHTPeer.RegisterAgentAddress.
func (p *Peer) announceAddress(ctx context.Context, address string, record *AgentRecord) error {
	if p.monitor != nil {
		start := p.monitor.Timer().NewTimer()
		defer func() {
			if h, ok := p.monitor.GetHistogram(monitoring.MetricDHTOpLatencyStore); ok {
				h.Observe(float64(p.monitor.Timer().GetTimer(start).Microseconds()))
			}
		}()
	}

	addrCID, err := computeCID(address)
	if err != nil {
		return errors.Wrap(err, "acn: while computing address cid")
	}
	provideCtx, cancel := context.WithTimeout(ctx, addressLookupTimeout)
	defer cancel()
	if err := p.dht.Provide(provideCtx, addrCID, true); err != nil {
		return errors.Wrap(err, "acn: while providing address on the dht")
	}

	if record != nil {
		p.recordsMu.Lock()
		p.records[address] = record
		p.recordsMu.Unlock()
		if p.store != nil {
			if err := p.store.Save(record); err != nil {
				return errors.Wrap(err, "acn: while persisting agent record")
			}
		}
	}
	return nil
}

// lookupAddressDHT resolves address to a connected peer.ID by asking the
// DHT who provides it, opening the address stream on each candidate and
// validating its returned record's Proof-of-Representation, per the
// teacher's DHTPeer.lookupAddressDHT. It re-queries the DHT while no
// provider at all is found, until ctx or the lookup timeout expires; if
// providers are found but none returns a valid record, it fails with
// AgentNotFound without querying again.
func (p *Peer) lookupAddressDHT(ctx context.Context, address string) (peer.ID, *AgentRecord, error) {
	if p.monitor != nil {
		start := p.monitor.Timer().NewTimer()
		defer func() {
			if h, ok := p.monitor.GetHistogram(monitoring.MetricDHTOpLatencyLookup); ok {
				h.Observe(float64(p.monitor.Timer().GetTimer(start).Microseconds()))
			}
		}()
	}

	addrCID, err := computeCID(address)
	if err != nil {
		return "", nil, err
	}
	lookupCtx, cancel := context.WithTimeout(ctx, addressLookupTimeout)
	defer cancel()

	for {
		providers := p.dht.FindProvidersAsync(lookupCtx, addrCID, 0)
		found := false
		for provider := range providers {
			found = true
			p.host.Peerstore().AddAddrs(provider.ID, provider.Addrs, peerstore.PermanentAddrTTL)

			streamCtx, cancelStream := context.WithTimeout(lookupCtx, newStreamTimeout)
			stream, err := p.host.NewStream(streamCtx, provider.ID, streamAddress)
			cancelStream()
			if err != nil {
				p.host.Peerstore().ClearAddrs(provider.ID)
				continue
			}

			record, err := p.requestAddressRecord(stream, address)
			providerKey, keyErr := hexPublicKeyFromLibp2pPubKey(stream.Conn().RemotePublicKey())
			stream.Close()
			if err != nil || keyErr != nil {
				continue
			}

			peerID, err := peerIDFromHexPublicKey(record.RepresentativePublicKey)
			if err != nil {
				continue
			}
			if err := ValidatePoR(p.crypto, record, address, providerKey, time.Now()); err != nil {
				continue
			}
			return peerID, record, nil
		}

		if !found {
			select {
			case <-lookupCtx.Done():
				return "", nil, aeaerr.New(aeaerr.KindAgentNotFound, "didn't find any provider for address "+address+" within timeout")
			case <-time.After(lookupRetryDelay):
			}
			continue
		}
		return "", nil, aeaerr.New(aeaerr.KindAgentNotFound, "no provider for address "+address+" returned a valid record")
	}
}

// requestAddressRecord asks a provider peer for the AgentRecord behind
// address over an already-open address-lookup stream.
func (p *Peer) requestAddressRecord(stream network.Stream, address string) (*AgentRecord, error) {
	req := NewLookupRequestMessage(address)
	wire, err := MarshalControlMessage(req)
	if err != nil {
		return nil, err
	}
	if err := writeFramedStream(stream, wire); err != nil {
		return nil, err
	}
	respBytes, err := readFramedStream(stream)
	if err != nil {
		return nil, err
	}
	resp, err := UnmarshalControlMessage(respBytes)
	if err != nil {
		return nil, err
	}
	if resp.Status != nil {
		return nil, errors.New("acn: lookup failed: " + resp.Status.String())
	}
	if resp.LookupResponse == nil {
		return nil, errors.New("acn: lookup response carried neither a record nor a status")
	}
	return resp.LookupResponse, nil
}

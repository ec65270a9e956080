package acn

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p-core/network"

	"github.com/aea-network/aea/internal/monitoring"
	"github.com/aea-network/aea/internal/protocol"
)

// handleRegisterStream accepts a relay-registration request from a
// NAT-bound dhtclient peer: it validates the presented Proof-of-
// Representation, records the association between the agent address and
// the registering peer, persists the record, announces the address on the
// DHT on the client's behalf and replies with a Status, per the teacher's
// DHTPeer.handleAeaRegisterStream.
func (p *Peer) handleRegisterStream(stream network.Stream) {
	defer stream.Close()

	if p.monitor != nil {
		start := p.monitor.Timer().NewTimer()
		defer func() {
			if h, ok := p.monitor.GetHistogram(monitoring.MetricOpLatencyRegister); ok {
				h.Observe(float64(p.monitor.Timer().GetTimer(start).Microseconds()))
			}
		}()
	}

	data, err := readFramedStream(stream)
	if err != nil {
		p.logger.Error().Err(err).Msg("while reading relay registration request")
		return
	}
	msg, err := UnmarshalControlMessage(data)
	if err != nil || msg.Register == nil {
		p.logger.Error().Err(err).Msg("relay registration stream did not carry a Register performative")
		p.replyStatus(stream, NewStatusError(ErrDecode, "expected a register performative"))
		return
	}

	record := msg.Register
	representativeKey, err := p.ownRepresentativeKey()
	if err != nil {
		p.logger.Error().Err(err).Msg("while deriving own representative key")
		p.replyStatus(stream, NewStatusError(ErrGeneric, "internal error"))
		return
	}
	if err := ValidatePoR(p.crypto, record, record.Address, representativeKey, time.Now()); err != nil {
		p.logger.Warn().Err(err).Str("addr", record.Address).Msg("rejected relay registration: invalid proof of representation")
		p.replyStatus(stream, NewStatusError(ErrInvalidProof, err.Error()))
		return
	}

	remotePeerID := stream.Conn().RemotePeer()
	p.relayTableMu.Lock()
	p.relayTable[record.Address] = remotePeerID
	p.relayTableMu.Unlock()
	p.recordsMu.Lock()
	p.records[record.Address] = record
	p.recordsMu.Unlock()
	if p.store != nil {
		if err := p.store.Save(record); err != nil {
			p.logger.Error().Err(err).Str("addr", record.Address).Msg("while persisting relay client record")
		}
	}

	announceCtx, cancel := context.WithTimeout(context.Background(), addressLookupTimeout)
	defer cancel()
	if err := p.announceAddress(announceCtx, record.Address, record); err != nil {
		p.logger.Error().Err(err).Str("addr", record.Address).Msg("while announcing relay client address")
		p.replyStatus(stream, NewStatusError(ErrGeneric, err.Error()))
		return
	}

	if p.monitor != nil {
		if g, ok := p.monitor.GetGauge(monitoring.MetricServiceRelayClientsCount); ok {
			g.Inc()
		}
		if c, ok := p.monitor.GetCounter(monitoring.MetricServiceRelayClientsCountAll); ok {
			c.Inc()
		}
	}
	p.logger.Info().Str("addr", record.Address).Str("peer", remotePeerID.String()).Msg("registered relay client")
	p.replyStatus(stream, NewStatusSuccess())
}

// handleAddressStream answers a LookupRequest for an address this peer
// knows about (because it represents, relays or delegates for it),
// returning the agent's record so the requester can validate the PoR
// itself, per the teacher's DHTPeer.HandleAeaAddressRequest.
func (p *Peer) handleAddressStream(stream network.Stream) {
	defer stream.Close()

	data, err := readFramedStream(stream)
	if err != nil {
		p.logger.Error().Err(err).Msg("while reading address lookup request")
		return
	}
	msg, err := UnmarshalControlMessage(data)
	if err != nil || msg.LookupRequest == "" {
		p.replyLookup(stream, nil, NewStatusError(ErrDecode, "expected a lookup request"))
		return
	}

	p.recordsMu.RLock()
	record, found := p.records[msg.LookupRequest]
	p.recordsMu.RUnlock()
	if !found {
		p.replyLookup(stream, nil, NewStatusError(ErrAgentNotFound, "unknown address "+msg.LookupRequest))
		return
	}
	p.replyLookup(stream, record, nil)
}

// handleNotifStream is opened by a newly-connected peer to announce itself;
// this peer responds by re-announcing its own agent address (if any) so
// the network converges faster than waiting for the DHT's own refresh.
func (p *Peer) handleNotifStream(stream network.Stream) {
	defer stream.Close()
	if p.myAgentAddress == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), addressLookupTimeout)
	defer cancel()
	if err := p.announceAddress(ctx, p.myAgentAddress, p.myAgentRecord); err != nil {
		p.logger.Warn().Err(err).Msg("while re-announcing address after peer notification")
	}
}

// handleEnvelopeStream decodes an inbound envelope-performative from
// another peer, validates the carried sender record and routes the
// envelope as if it had originated locally, replying with delivery status.
func (p *Peer) handleEnvelopeStream(stream network.Stream) {
	defer stream.Close()

	data, err := readFramedStream(stream)
	if err != nil {
		p.logger.Error().Err(err).Msg("while reading envelope stream")
		return
	}
	msg, err := UnmarshalControlMessage(data)
	if err != nil || msg.Envelope == nil {
		p.replyStatus(stream, NewStatusError(ErrDecode, "expected an envelope performative"))
		return
	}

	env, err := protocol.Unmarshal(msg.Envelope.Envelope)
	if err != nil {
		p.replyStatus(stream, NewStatusError(ErrDecode, err.Error()))
		return
	}

	if msg.Envelope.Record != nil {
		representativeKey, err := hexPublicKeyFromLibp2pPubKey(stream.Conn().RemotePublicKey())
		if err == nil {
			if err := ValidatePoR(p.crypto, msg.Envelope.Record, env.Sender, representativeKey, time.Now()); err != nil {
				p.logger.Warn().Err(err).Str("sender", env.Sender).Msg("rejected envelope: invalid sender proof of representation")
				p.replyStatus(stream, NewStatusError(ErrInvalidProof, err.Error()))
				return
			}
		}
		p.recordsMu.Lock()
		p.records[env.Sender] = msg.Envelope.Record
		p.recordsMu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), newStreamTimeout)
	defer cancel()
	if err := p.routeEnvelope(ctx, env); err != nil {
		p.logger.Error().Err(err).Str("to", env.To).Msg("while routing inbound envelope")
		p.replyStatus(stream, NewStatusError(statusCodeForRouteError(err), err.Error()))
		return
	}
	p.replyStatus(stream, NewStatusSuccess())
}

func (p *Peer) replyStatus(stream network.Stream, status *StatusMessage) {
	wire, err := MarshalControlMessage(NewStatusMessage(status))
	if err != nil {
		p.logger.Error().Err(err).Msg("while marshaling status reply")
		return
	}
	if err := writeFramedStream(stream, wire); err != nil {
		p.logger.Error().Err(err).Msg("while writing status reply")
	}
}

func (p *Peer) replyLookup(stream network.Stream, record *AgentRecord, status *StatusMessage) {
	var msg *ControlMessage
	if status != nil {
		msg = NewStatusMessage(status)
	} else {
		msg = NewLookupResponseMessage(record)
	}
	wire, err := MarshalControlMessage(msg)
	if err != nil {
		p.logger.Error().Err(err).Msg("while marshaling lookup reply")
		return
	}
	if err := writeFramedStream(stream, wire); err != nil {
		p.logger.Error().Err(err).Msg("while writing lookup reply")
	}
}

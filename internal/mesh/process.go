package mesh

import (
	"log/slog"
	"time"
)

// Process consumes at most one received frame and returns. With no frame
// pending it runs the OTA idle branch and returns nil. The only error it
// returns to the caller is ErrPoolExhausted, which is fatal and means the
// host should stop calling Process.
func (n *Node) Process() error {
	if n.fatal != nil {
		return n.fatal
	}

	if n.discoveryRequested.CompareAndSwap(true, false) {
		n.FindParent()
	}

	_, ok := n.radio.Available()
	if !ok {
		n.otaIdleTick()
		return nil
	}

	buf := n.recvBuf[:]
	frameLen := n.radio.Receive(buf)
	wire := buf[:frameLen]

	var msg Message
	if err := Unmarshal(wire, &msg); err != nil {
		n.drop("malformed", err)
		return nil
	}

	if msg.Version != ProtocolVersion {
		n.drop("version-mismatch", ErrProtocolVersionMismatch)
		return nil
	}

	if n.signingAll && msg.Destination == n.ctx.NodeID && !msg.Ack && !requiresSigningExemption(&msg) {
		if !msg.Signed {
			n.drop("unsigned", ErrUnsignedButRequired)
			return nil
		}
		if !n.signer.Verify(wire) {
			n.drop("bad-signature", ErrSignatureVerifyFailed)
			return nil
		}
	}

	n.metrics.FramesProcessed()

	switch {
	case msg.Destination == n.ctx.NodeID:
		if err := n.processForSelf(&msg); err != nil {
			n.fatal = err
			return err
		}
	case msg.Destination == BroadcastAddr:
		n.processBroadcast(&msg)
	default:
		n.processForward(&msg)
	}
	return nil
}

func (n *Node) drop(reason string, err error) {
	n.metrics.FramesDropped(reason)
	n.logger.Warn("drop", slog.String("reason", reason), slog.Any("error", err))
}

// processForSelf implements step 5 of the processing loop: frames
// addressed to this node. It returns ErrPoolExhausted when an ID_RESPONSE
// reveals the gateway's id pool is exhausted; that is the one fatal
// condition Process ever surfaces to its caller.
func (n *Node) processForSelf(msg *Message) error {
	msg.Signed = false // verification already completed

	if msg.Last != n.ctx.ParentID && n.cfg.Capabilities.Repeater {
		if err := n.routes.Learn(msg.Sender, msg.Last); err != nil {
			n.logger.Error("learn route failed", slog.Any("error", err))
		} else {
			n.metrics.RouteLearned()
		}
	}

	if msg.AckRequested {
		n.replyAck(msg)
	}

	if msg.Command == CommandInternal {
		switch msg.Type {
		case TypeFindParentResponse:
			n.onFindParentResponse(msg.Sender, uint8(msg.AsInt()))
			return nil
		case TypeGetNonce:
			n.onGetNonce(msg.Sender)
			return nil
		case TypeGetNonceResponse:
			n.onGetNonceResponse(msg.PayloadBytes())
			return nil
		case TypeRequestSigning:
			n.onRequestSigning(msg)
			return nil
		case TypeIDResponse:
			if n.ctx.NodeID == AutoAddr {
				assigned := Address(msg.AsInt())
				return n.onIDResponse(assigned)
			}
			return nil
		}
		if msg.Sender == GatewayAddr {
			n.internal(msg)
			return nil
		}
	}

	if msg.Command == CommandStream {
		switch msg.Type {
		case TypeFirmwareConfigResponse:
			n.onFirmwareConfigResponse(msg.PayloadBytes())
			return nil
		case TypeFirmwareResponse:
			n.onFirmwareResponse(msg.PayloadBytes())
			return nil
		}
	}

	if n.cfg.Capabilities.Gateway {
		n.bridge.Forward(msg)
	}
	n.app(msg)
	return nil
}

func (n *Node) replyAck(msg *Message) {
	ack := NewMessage(n.ctx.NodeID, msg.Sender, msg.Sensor, msg.Command, msg.Type, false)
	ack.Ack = true
	n.transmit(n.nextHopFor(msg.Sender), ack)
}

func (n *Node) onRequestSigning(msg *Message) {
	required := msg.AsInt() != 0
	if err := n.signReq.Set(msg.Sender, required); err != nil {
		n.logger.Error("request signing: persist failed", slog.Any("error", err))
	}
	if n.cfg.Capabilities.Gateway {
		resp := NewMessage(n.ctx.NodeID, msg.Sender, 0, CommandInternal, TypeRequestSigning, false)
		ourPref := int16(0)
		if n.signReq.Get(msg.Sender) {
			ourPref = 1
		}
		if err := resp.SetInt(ourPref); err == nil {
			n.transmit(n.nextHopFor(msg.Sender), resp)
		}
	}
}

// processBroadcast implements step 6 and step 7's FIND_PARENT branch:
// frames addressed to BROADCAST, which on a single-hop radio link is how
// both the discover re-flood and the parent-discovery probe reach every
// neighbor directly.
func (n *Node) processBroadcast(msg *Message) {
	switch {
	case msg.Command == CommandInternal && msg.Type == TypeDiscover && msg.Last == n.ctx.ParentID:
		n.clock.Wait(jitter(n.nowMillis()))

		resp := NewMessage(n.ctx.NodeID, msg.Sender, 0, CommandInternal, TypeDiscoverResponse, false)
		if err := resp.SetByte(byte(n.ctx.ParentID)); err == nil {
			n.transmit(n.nextHopFor(msg.Sender), resp)
		}

		if n.cfg.Capabilities.Repeater {
			n.transmit(BroadcastAddr, msg)
		}

	case msg.Command == CommandInternal && msg.Type == TypeFindParent && msg.Sender != n.ctx.ParentID:
		if !n.cfg.Capabilities.Repeater || n.ctx.NodeID == AutoAddr {
			return
		}
		if n.ctx.Distance == DistanceUnknown {
			if n.cfg.Capabilities.AutoFindParent {
				n.FindParent()
			}
			return
		}
		n.clock.Wait(jitter(n.nowMillis()))
		resp := NewMessage(n.ctx.NodeID, msg.Sender, 0, CommandInternal, TypeFindParentResponse, false)
		if err := resp.SetInt(int16(n.ctx.Distance)); err == nil {
			n.transmit(n.nextHopFor(msg.Sender), resp)
		}
	}
}

// processForward implements the remainder of step 7: frames destined for
// some other node, where this node is on the path and must relay.
func (n *Node) processForward(msg *Message) {
	if msg.Last == n.ctx.NodeID {
		n.routeAndSend(msg) //nolint:errcheck // best-effort relay; failure is reflected in failedTransmissions
	}
}

// jitter derives a pseudorandom 0..1023ms delay from the low 10 bits of
// the millisecond clock, as the distilled protocol requires (no PRNG
// dependency needed -- the clock itself is the entropy source).
func jitter(nowMillis uint32) time.Duration {
	return time.Duration(nowMillis&0x3FF) * time.Millisecond
}

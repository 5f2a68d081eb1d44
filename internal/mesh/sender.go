package mesh

import "log/slog"

// transmit stamps the wire header and hands msg to the radio for next
// hop. It is the common tail of send_write: assembling the on-wire bytes
// and calling the driver. Returns the driver's success flag.
func (n *Node) transmit(nextHop Address, msg *Message) bool {
	msg.Version = ProtocolVersion
	msg.Last = n.ctx.NodeID

	var buf [MaxMessageLength]byte
	wn, err := Marshal(msg, buf[:])
	if err != nil {
		n.logger.Error("transmit: marshal failed", slog.Any("error", err))
		return false
	}
	return n.radio.Send(nextHop, buf[:wn])
}

// nextHopFor resolves the next hop for dest without the routing/failure
// bookkeeping SendRoute performs -- used by handshake replies (acks,
// nonce exchange) that must go out immediately regardless of routing
// state.
func (n *Node) nextHopFor(dest Address) Address {
	if dest == BroadcastAddr {
		return BroadcastAddr
	}
	if !n.cfg.Capabilities.Repeater {
		return n.ctx.ParentID
	}
	if dest == GatewayAddr {
		return n.ctx.ParentID
	}
	if hop := n.routes.GetNextHop(dest); hop != BroadcastAddr {
		return hop
	}
	return n.ctx.ParentID
}

// SendRoute is the outbound entry point: it resolves the next hop via the
// parent/route table, runs the signing coordinator when required, and
// hands off to transmit. On failure it increments the consecutive-failure
// counter and may trigger rediscovery; on success the counter resets.
func (n *Node) SendRoute(msg *Message) error {
	if n.ctx.ParentID == AutoAddr {
		n.FindParent()
		return ErrNoParent
	}
	if n.ctx.NodeID == AutoAddr {
		n.RequestNodeID()
		return ErrNoNodeID
	}

	msg.Version = ProtocolVersion

	if msg.Sender == n.ctx.NodeID && n.needsSigning(msg) {
		if !n.signSend(msg) {
			n.onSendFailure()
			return ErrNonceTimeout
		}
	}

	ok, err := n.routeAndSend(msg)
	if !ok {
		n.onSendFailure()
		if err == nil {
			err = ErrRadioSendFailed
		}
		return err
	}
	n.withSnapshotLock(func() { n.failedTransmissions = 0 })
	return nil
}

func (n *Node) routeAndSend(msg *Message) (bool, error) {
	if !n.cfg.Capabilities.Repeater {
		return n.transmit(n.ctx.ParentID, msg), nil
	}

	if msg.Destination == GatewayAddr {
		if err := n.routes.Learn(msg.Sender, msg.Last); err != nil {
			n.logger.Error("send_route: learn failed", slog.Any("error", err))
		}
		return n.transmit(n.ctx.ParentID, msg), nil
	}

	if hop := n.routes.GetNextHop(msg.Destination); hop != BroadcastAddr {
		return n.transmit(hop, msg), nil
	}

	if n.ctx.NodeID == GatewayAddr && msg.Destination == BroadcastAddr {
		return n.transmit(BroadcastAddr, msg), nil
	}

	if n.cfg.Capabilities.Gateway {
		n.logger.Warn("send_route: unknown destination at gateway", slog.Any("destination", msg.Destination))
		return false, ErrRouteUnknownAtGateway
	}

	if err := n.routes.Learn(msg.Sender, msg.Last); err != nil {
		n.logger.Error("send_route: opportunistic learn failed", slog.Any("error", err))
	}
	return n.transmit(n.ctx.ParentID, msg), nil
}

func (n *Node) onSendFailure() {
	n.withSnapshotLock(func() { n.failedTransmissions++ })
	n.maybeRediscover()
}

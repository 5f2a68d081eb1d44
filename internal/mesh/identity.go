package mesh

import "log/slog"

// RequestNodeID sends an ID_REQUEST toward the gateway. It does not wait
// for the response itself -- the response arrives on a later Process()
// call and is handled in the processing loop's INTERNAL/ID_RESPONSE
// branch.
func (n *Node) RequestNodeID() {
	if n.ctx.ParentID == AutoAddr {
		n.FindParent()
		return
	}
	req := NewMessage(AutoAddr, GatewayAddr, 0, CommandInternal, TypeIDRequest, false)
	n.transmit(n.ctx.ParentID, req)
}

// onIDResponse adopts an id assigned by the gateway. AutoAddr in the
// payload means the gateway's id pool is exhausted; this is fatal (not an
// infinite spin) and is surfaced to the caller of Process as
// ErrPoolExhausted.
func (n *Node) onIDResponse(assigned Address) error {
	if n.ctx.NodeID != AutoAddr {
		return nil
	}
	if assigned == AutoAddr {
		n.logger.Error("id response: gateway id pool exhausted")
		return ErrPoolExhausted
	}
	n.withSnapshotLock(func() { n.ctx.NodeID = assigned })
	if err := n.persistNodeID(); err != nil {
		n.logger.Error("id response: persist failed", slog.Any("error", err))
	}
	if err := n.radio.SetAddress(n.ctx.NodeID); err != nil {
		n.logger.Error("id response: radio set address failed", slog.Any("error", err))
	}
	n.PresentNode()
	return nil
}

// PresentNode announces this node's presentation to the gateway. The
// payload schema beyond the fixed header is host-defined; this engine
// sends an empty presentation as a protocol-layer placeholder.
func (n *Node) PresentNode() {
	msg := NewMessage(n.ctx.NodeID, GatewayAddr, 0, CommandPresentation, 0, false)
	n.SendRoute(msg) //nolint:errcheck // best-effort announcement, not retried
}

package mesh

import "log/slog"

// FindParent runs parent discovery: it broadcasts FIND_PARENT, then drains
// the processing loop for FindParentWait while responses accumulate,
// adopting whichever responder first offers a strictly better distance to
// the gateway. Reentrant calls while a discovery is already running are a
// no-op (I4).
func (n *Node) FindParent() {
	if n.discoveryRunning {
		return
	}
	n.discoveryRunning = true
	defer func() { n.discoveryRunning = false }()

	n.metrics.DiscoveryRun()
	n.ctx.Distance = DistanceUnknown
	n.discoveryBestParent = AutoAddr
	n.discoveryBestDist = DistanceUnknown

	n.broadcastFindParent()

	deadline := n.nowMillis() + uint32(FindParentWait.Milliseconds())
	n.discoveryDeadline = deadline
	n.drainUntil(deadline, nil)

	if n.discoveryBestParent == AutoAddr {
		n.logger.Warn("find parent: no responses received")
		return
	}

	var changed bool
	n.withSnapshotLock(func() {
		changed = n.ctx.ParentID != n.discoveryBestParent || n.ctx.Distance != n.discoveryBestDist
		n.ctx.ParentID = n.discoveryBestParent
		n.ctx.Distance = n.discoveryBestDist
	})
	if changed {
		if err := n.persistParent(); err != nil {
			n.logger.Error("find parent: persist failed", slog.Any("error", err))
		}
	}
}

func (n *Node) broadcastFindParent() {
	msg := NewMessage(n.ctx.NodeID, BroadcastAddr, 0, CommandInternal, TypeFindParent, false)
	n.transmit(BroadcastAddr, msg)
}

// onFindParentResponse handles a FIND_PARENT_RESPONSE received while
// discovery is in flight (or, per the distilled design, even when it is
// not -- a stray response is simply ignored because discoveryRunning is
// false and no better candidate is being tracked).
func (n *Node) onFindParentResponse(responder Address, responderDistance uint8) {
	if !n.cfg.Capabilities.AutoFindParent || !n.discoveryRunning {
		return
	}
	if responderDistance == DistanceUnknown {
		return
	}
	candidate := responderDistance + 1
	if candidate < n.ctx.Distance {
		n.ctx.Distance = candidate
		n.discoveryBestParent = responder
		n.discoveryBestDist = candidate
	}
}

// maybeRediscover triggers FindParent when failedTransmissions has
// exceeded SearchFailures and auto-find is enabled, per SendRoute's
// failure-escalation rule.
func (n *Node) maybeRediscover() {
	if n.cfg.Capabilities.AutoFindParent && n.failedTransmissions > SearchFailures {
		n.FindParent()
	}
}

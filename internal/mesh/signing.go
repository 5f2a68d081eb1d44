package mesh

import "log/slog"

// SigningState is the signing coordinator's state.
type SigningState uint8

const (
	SigningIdle SigningState = iota
	SigningWaitingForNonce
	SigningOK
)

func (s SigningState) String() string {
	switch s {
	case SigningIdle:
		return "Idle"
	case SigningWaitingForNonce:
		return "WaitingForNonce"
	case SigningOK:
		return "OK"
	default:
		return "Unknown"
	}
}

// signingSession holds the coordinator's state and the saved copy of the
// outbound message awaiting a signature. The saved copy is a distinct
// buffer from the shared receive buffer so a re-entrant Process() call
// during the bounded wait never aliases it (I5, I6).
type signingSession struct {
	state    SigningState
	saved    *Message
	deadline uint32
}

// handshakeExemptTypes are the INTERNAL subtypes that are never signed and
// never subject to verification, because they are themselves part of the
// signing or identity handshakes.
var handshakeExemptTypes = map[uint8]bool{
	TypeGetNonce:           true,
	TypeGetNonceResponse:   true,
	TypeRequestSigning:     true,
	TypeIDRequest:          true,
	TypeIDResponse:         true,
	TypeFindParent:         true,
	TypeFindParentResponse: true,
	TypeHeartbeat:          true,
	TypeHeartbeatResponse:  true,
}

// requiresSigningExemption reports whether msg is exempt from the signing
// handshake: an ack, or one of the handshake subtypes, always travels
// unsigned and unverified.
func requiresSigningExemption(msg *Message) bool {
	if msg.Ack {
		return true
	}
	if msg.Command != CommandInternal {
		return false
	}
	return handshakeExemptTypes[msg.Type]
}

// needsSigning reports whether an outbound message to msg.Destination
// must go through the signing coordinator before transmission.
func (n *Node) needsSigning(msg *Message) bool {
	if requiresSigningExemption(msg) {
		return false
	}
	return n.signReq.Get(msg.Destination)
}

// signSend saves msg, requests a nonce from its destination, and drains
// the processing loop until either the coordinator reaches SigningOK or
// the node's verification timeout (VerificationTimeout unless overridden
// by WithVerificationTimeout) elapses. On success msg is overwritten in place
// with the signed copy. Returns false on timeout or sign failure.
func (n *Node) signSend(msg *Message) bool {
	n.signing.state = SigningWaitingForNonce
	n.signing.saved = msg.Clone()
	n.signing.deadline = n.nowMillis() + uint32(n.verificationTimeout.Milliseconds())

	nonceReq := NewMessage(n.ctx.NodeID, msg.Destination, 0, CommandInternal, TypeGetNonce, false)
	n.transmit(n.nextHopFor(msg.Destination), nonceReq)

	deadline := n.signing.deadline
	n.drainUntil(deadline, func() bool { return n.signing.state != SigningWaitingForNonce })

	if n.signing.state != SigningOK {
		n.logger.Warn("signing: nonce timeout", slog.Any("destination", msg.Destination))
		n.signing.state = SigningIdle
		n.metrics.SigningFailed()
		return false
	}

	*msg = *n.signing.saved
	n.signing.state = SigningIdle
	n.metrics.SigningSucceeded()
	return true
}

// onGetNonce handles an inbound GET_NONCE request: generate a nonce and
// reply with GET_NONCE_RESPONSE. Never invokes the application callback.
func (n *Node) onGetNonce(from Address) {
	nonce, err := n.signer.GenerateNonce()
	if err != nil {
		n.logger.Error("signing: generate nonce failed", slog.Any("error", err))
		return
	}
	resp := NewMessage(n.ctx.NodeID, from, 0, CommandInternal, TypeGetNonceResponse, false)
	if err := resp.SetCustom(nonce); err != nil {
		n.logger.Error("signing: nonce payload too large", slog.Any("error", err))
		return
	}
	n.transmit(n.nextHopFor(from), resp)
}

// onGetNonceResponse feeds a received nonce into the signing coordinator.
// Never invokes the application callback.
func (n *Node) onGetNonceResponse(nonce []byte) {
	if n.signing.state != SigningWaitingForNonce {
		return
	}
	saved := n.signing.saved
	var plain [HeaderSize + MaxPayload]byte
	wn, err := Marshal(saved, plain[:])
	if err != nil {
		n.logger.Error("signing: marshal for signature failed", slog.Any("error", err))
		return
	}
	sig, err := n.signer.Sign(plain[:wn], nonce)
	if err != nil {
		n.logger.Warn("signing: sign failed", slog.Any("error", err))
		return
	}

	signed := saved.Clone()
	signed.Signed = true
	if err := signed.SetCustom(append(signed.PayloadBytes(), sig...)); err != nil {
		n.logger.Warn("signing: signed payload too large", slog.Any("error", err))
		return
	}
	n.signing.saved = signed
	n.signing.state = SigningOK
}

package mesh

import "time"

// Radio abstracts the byte-frame send/receive primitive keyed by a 1-byte
// address. The core never depends on a concrete transport; see
// internal/radio for the Loopback and Serial implementations.
type Radio interface {
	// SetAddress opens reception for the broadcast channel, a per-node
	// channel derived from addr, and a write channel.
	SetAddress(addr Address) error

	// Send transmits frame to the next hop addr. Returns false on failure.
	Send(to Address, frame []byte) bool

	// Available reports whether a frame is waiting and, if so, which
	// address it arrived from.
	Available() (from Address, ok bool)

	// Receive reads the pending frame into buf and returns its length.
	Receive(buf []byte) int
}

// NVStore abstracts nonvolatile storage as a flat, word-addressable byte
// array.
type NVStore interface {
	ReadAt(offset int, buf []byte) error
	WriteAt(offset int, data []byte) error
}

// Flash abstracts the block-erase/write primitive used to stage a
// firmware image.
type Flash interface {
	Init() error
	Erase(offset, size int) error
	WriteBlock(offset int, data []byte) error
	ReadRange(offset, size int) ([]byte, error)
}

// Signer abstracts nonce generation, message signing and signature
// verification. The core treats it as opaque: it neither knows nor cares
// where within a signed wire frame the signature lives, or what algorithm
// produced it.
type Signer interface {
	// GenerateNonce produces a fresh nonce for a GET_NONCE_RESPONSE.
	GenerateNonce() ([]byte, error)

	// Sign returns the signature to append to msg's payload, computed
	// over msg using nonce.
	Sign(msg []byte, nonce []byte) ([]byte, error)

	// Verify reports whether the full signed wire frame (header, payload
	// and trailing signature, exactly as received) is authentic.
	Verify(wire []byte) bool
}

// Clock abstracts the monotonic millisecond counter and blocking wait the
// processing loop uses for timeouts and jitter.
type Clock interface {
	NowMillis() uint32
	Wait(d time.Duration)
}

// GatewayBridge consumes fully-assembled messages destined for the
// controller. Only meaningful on a gateway node.
type GatewayBridge interface {
	Forward(msg *Message)
}

// Rebooter restarts the device after a successful firmware install.
type Rebooter interface {
	Reboot()
}

// ApplicationCallback is invoked for application-addressed messages, after
// signing verification and ack emission, with the message guaranteed
// stable for the duration of the call.
type ApplicationCallback func(msg *Message)

// InternalMessageHandler is the host-provided handler for INTERNAL
// messages from the gateway that the core does not itself interpret.
type InternalMessageHandler func(msg *Message)

package mesh

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Tunable constants, named the same as the transport layer they bound.
const (
	// FindParentWait is how long parent discovery accumulates
	// FIND_PARENT_RESPONSE packets before picking a winner.
	FindParentWait = 2000 * time.Millisecond

	// VerificationTimeout bounds the signing coordinator's wait for
	// GET_NONCE_RESPONSE.
	VerificationTimeout = 5000 * time.Millisecond

	// SearchFailures is the number of consecutive failed transmissions
	// that triggers automatic rediscovery.
	SearchFailures = 3

	// OTARetry is the number of retries per firmware block before the
	// session aborts (the session allows OTARetry+1 attempts).
	OTARetry = 5

	// OTARetryDelay is the minimum spacing between firmware block
	// requests.
	OTARetryDelay = 500 * time.Millisecond

	// FlashBlockSize is the size of one firmware block.
	FlashBlockSize = 16

	// FlashStartOffset is where the firmware image begins in the staging
	// region; [0, FlashStartOffset) is reserved for the bootloader
	// header.
	FlashStartOffset = 10

	// FlashStagingRegionSize is the size of the erasable staging region.
	FlashStagingRegionSize = 32 * 1024

	// pollInterval is how often a bounded wait re-polls Process while
	// draining inbound traffic.
	pollInterval = 10 * time.Millisecond
)

// Capabilities is the value-level configuration struct that replaces
// conditional compilation for the cross-cutting node roles: repeater,
// gateway and auto-find. Signing is configured separately (see
// WithSigningRequired and SignRequiredTable).
type Capabilities struct {
	Repeater       bool
	Gateway        bool
	AutoFindParent bool
}

// NodeContext is the small persisted identity of this node: its assigned
// id, its parent toward the gateway, and its hop count to the gateway.
type NodeContext struct {
	NodeID   Address
	ParentID Address
	Distance uint8
}

// Config bundles everything Node needs that isn't one of the external
// collaborator ports.
type Config struct {
	Capabilities Capabilities
	Logger       *slog.Logger
}

// Node is the single owned aggregate bundling every piece of mutable
// state the transport engine needs: node identity, routing and signing
// tables, the in-flight signing and firmware sessions, and the shared
// receive/scratch buffers. Node methods are not safe for concurrent use --
// by design, there is exactly one logical task.
type Node struct {
	cfg    Config
	logger *slog.Logger

	radio    Radio
	store    NVStore
	flash    Flash
	signer   Signer
	clock    Clock
	metrics  MetricsSink
	app      ApplicationCallback
	bridge   GatewayBridge
	internal InternalMessageHandler
	rebooter Rebooter

	ctx NodeContext

	routes              *RoutingTable
	signReq             *SignRequiredTable
	signingAll          bool // require signed verification on every inbound frame addressed to us
	verificationTimeout time.Duration

	signing  signingSession
	firmware firmwareSession
	fwConfig FirmwareConfig

	failedTransmissions int
	discoveryRunning    bool
	discoveryDeadline   uint32
	discoveryBestParent Address
	discoveryBestDist   uint8

	// discoveryRequested lets a goroutine other than the one driving
	// Process (the admin HTTP handlers) ask for a discovery run without
	// touching any of Node's unsynchronized state directly. Process picks
	// it up and calls FindParent itself, on the single owning goroutine.
	discoveryRequested atomic.Bool

	recvBuf [MaxMessageLength]byte

	fatal error

	// snapMu guards only the fields Snapshot reads. It exists so a second
	// goroutine (the admin HTTP handlers) can observe node state without
	// taking part in the single-task ownership of Node itself; the
	// processing loop takes it only around the handful of assignments
	// Snapshot cares about, never across a Process() call.
	snapMu sync.Mutex
}

// NodeSnapshot is a point-in-time, concurrency-safe copy of the fields an
// external observer (the admin HTTP surface) cares about.
type NodeSnapshot struct {
	Context             NodeContext
	FailedTransmissions int
	DiscoveryRunning    bool
	SigningState        SigningState
	FirmwareActive      bool
	FirmwareProgress    int
}

// Snapshot returns a copy of the node's externally-observable state. Safe
// to call from a goroutine other than the one driving Process.
func (n *Node) Snapshot() NodeSnapshot {
	n.snapMu.Lock()
	defer n.snapMu.Unlock()
	progress := 0
	if n.firmware.active {
		progress = int(n.fwConfig.Blocks) - int(n.firmware.nextBlock)
	}
	return NodeSnapshot{
		Context:             n.ctx,
		FailedTransmissions: n.failedTransmissions,
		DiscoveryRunning:    n.discoveryRunning,
		SigningState:        n.signing.state,
		FirmwareActive:      n.firmware.active,
		FirmwareProgress:    progress,
	}
}

// withSnapshotLock runs fn with snapMu held, for the processing loop to
// use around the small set of field writes Snapshot exposes.
func (n *Node) withSnapshotLock(fn func()) {
	n.snapMu.Lock()
	defer n.snapMu.Unlock()
	fn()
}

// MetricsSink receives counters from the engine. Implementations must be
// safe for the single caller goroutine; no concurrency guarantees beyond
// that are required.
type MetricsSink interface {
	FramesProcessed()
	FramesDropped(reason string)
	RouteLearned()
	SigningSucceeded()
	SigningFailed()
	OTABlockReceived()
	OTACompleted()
	OTAAborted()
	DiscoveryRun()
}

// NoopMetrics is a MetricsSink that discards every event.
type NoopMetrics struct{}

func (NoopMetrics) FramesProcessed()     {}
func (NoopMetrics) FramesDropped(string) {}
func (NoopMetrics) RouteLearned()        {}
func (NoopMetrics) SigningSucceeded()    {}
func (NoopMetrics) SigningFailed()       {}
func (NoopMetrics) OTABlockReceived()    {}
func (NoopMetrics) OTACompleted()        {}
func (NoopMetrics) OTAAborted()          {}
func (NoopMetrics) DiscoveryRun()        {}

// New constructs a Node. radio, store, clock, and signer must be non-nil;
// app, bridge, internal, rebooter and metrics are optional and are
// replaced with no-ops when not supplied. Without WithFlash the flash
// programmer stays nil and OTA is disabled.
func New(cfg Config, radio Radio, store NVStore, clock Clock, signer Signer, opts ...Option) (*Node, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "mesh.node"))

	routes, err := NewRoutingTable(store)
	if err != nil {
		return nil, err
	}
	signReq, err := NewSignRequiredTable(store)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:                 cfg,
		logger:              logger,
		radio:               radio,
		store:               store,
		clock:               clock,
		signer:              signer,
		metrics:             NoopMetrics{},
		routes:              routes,
		signReq:             signReq,
		verificationTimeout: VerificationTimeout,
		discoveryBestParent: AutoAddr,
		discoveryBestDist:   DistanceUnknown,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.app == nil {
		n.app = func(*Message) {}
	}
	if n.bridge == nil {
		n.bridge = noopBridge{}
	}
	if n.internal == nil {
		n.internal = func(*Message) {}
	}
	if n.rebooter == nil {
		n.rebooter = noopRebooter{}
	}

	if err := n.loadContext(); err != nil {
		return nil, err
	}
	if err := n.loadFirmwareConfig(); err != nil {
		return nil, err
	}
	if err := n.radio.SetAddress(n.ctx.NodeID); err != nil {
		return nil, err
	}
	return n, nil
}

type noopBridge struct{}

func (noopBridge) Forward(*Message) {}

type noopRebooter struct{}

func (noopRebooter) Reboot() {}

// Option configures optional Node dependencies, functional-options style.
type Option func(*Node)

// WithFlash attaches the firmware staging programmer, enabling OTA.
func WithFlash(f Flash) Option {
	return func(n *Node) { n.flash = f }
}

// WithApplicationCallback attaches the handler invoked for
// application-addressed messages.
func WithApplicationCallback(cb ApplicationCallback) Option {
	return func(n *Node) { n.app = cb }
}

// WithGatewayBridge attaches the consumer of controller-bound messages.
// Only meaningful when Capabilities.Gateway is true.
func WithGatewayBridge(b GatewayBridge) Option {
	return func(n *Node) { n.bridge = b }
}

// WithInternalMessageHandler attaches the host-provided handler for
// INTERNAL messages from the gateway the core does not itself interpret.
func WithInternalMessageHandler(h InternalMessageHandler) Option {
	return func(n *Node) { n.internal = h }
}

// WithRebooter attaches the device reboot primitive invoked after a
// successful OTA install.
func WithRebooter(r Rebooter) Option {
	return func(n *Node) { n.rebooter = r }
}

// WithMetrics attaches a MetricsSink. If m is nil the default no-op sink
// is kept.
func WithMetrics(m MetricsSink) Option {
	return func(n *Node) {
		if m != nil {
			n.metrics = m
		}
	}
}

// WithSigningRequired sets whether this node requires a valid signature
// on every inbound frame addressed to it (independent of the per-peer
// SignRequiredTable, which governs *outbound* signing).
func WithSigningRequired(required bool) Option {
	return func(n *Node) { n.signingAll = required }
}

// WithVerificationTimeout overrides how long the signing coordinator
// waits for GET_NONCE_RESPONSE before abandoning a signed send. Zero or
// negative durations are ignored and the VerificationTimeout default is
// kept.
func WithVerificationTimeout(d time.Duration) Option {
	return func(n *Node) {
		if d > 0 {
			n.verificationTimeout = d
		}
	}
}

func (n *Node) loadContext() error {
	var buf [3]byte
	if err := n.store.ReadAt(OffsetNodeID, buf[:1]); err != nil {
		return err
	}
	if err := n.store.ReadAt(OffsetParentID, buf[1:2]); err != nil {
		return err
	}
	if err := n.store.ReadAt(OffsetDistance, buf[2:3]); err != nil {
		return err
	}
	n.ctx = NodeContext{
		NodeID:   Address(buf[0]),
		ParentID: Address(buf[1]),
		Distance: buf[2],
	}
	if n.ctx.NodeID == GatewayAddr && n.cfg.Capabilities.Gateway {
		n.ctx.Distance = 0
	}
	return nil
}

func (n *Node) persistNodeID() error {
	return n.store.WriteAt(OffsetNodeID, []byte{byte(n.ctx.NodeID)})
}

func (n *Node) persistParent() error {
	if err := n.store.WriteAt(OffsetParentID, []byte{byte(n.ctx.ParentID)}); err != nil {
		return err
	}
	return n.store.WriteAt(OffsetDistance, []byte{n.ctx.Distance})
}

// Context returns a copy of the node's current identity.
func (n *Node) Context() NodeContext {
	return n.ctx
}

// FailedTransmissions returns the current consecutive-failure counter.
func (n *Node) FailedTransmissions() int {
	return n.failedTransmissions
}

// Routes returns every known child->next-hop mapping. Safe to call from
// any goroutine: RoutingTable's entries are only ever mutated by Learn,
// which the processing loop calls on its own goroutine, and Entries
// takes its own copy.
func (n *Node) Routes() map[Address]Address {
	return n.routes.Entries()
}

// RequestDiscovery asks the Process goroutine to run FindParent on its
// next call. Unlike FindParent, this is safe to call from any goroutine --
// it only sets a flag, never touches routing, signing or firmware state.
func (n *Node) RequestDiscovery() {
	n.discoveryRequested.Store(true)
}

// nowMillis is a small indirection so internal callers read the clock
// through one spot.
func (n *Node) nowMillis() uint32 {
	return n.clock.NowMillis()
}

// drainUntil repeatedly calls Process while polling the clock until
// deadlineMillis, implementing the "bounded loop calling process until a
// deadline" contract that stands in for wait(ms) in a cooperative
// runtime.
func (n *Node) drainUntil(deadlineMillis uint32, stop func() bool) {
	for n.nowMillis() < deadlineMillis {
		if stop != nil && stop() {
			return
		}
		if err := n.Process(); err != nil {
			return
		}
		n.clock.Wait(pollInterval)
	}
}

package mesh_test

import (
	"testing"

	"github.com/flximg/meshnode/internal/mesh"
	"github.com/flximg/meshnode/internal/nvram"
	"github.com/flximg/meshnode/internal/radio"
)

func TestSendRouteNonRepeaterAlwaysGoesToParent(t *testing.T) {
	t.Parallel()

	fabric := radio.NewFabric()
	r := radio.NewLoopback(fabric)
	parentRadio := radio.NewLoopback(fabric)
	if err := parentRadio.SetAddress(mesh.Address(1)); err != nil {
		t.Fatal(err)
	}

	store := nvram.NewMemStore(mesh.NVStoreSize)
	seedStore(store, mesh.Address(10), mesh.Address(1), 1)
	node, err := mesh.New(mesh.Config{}, r, store, &fakeClock{}, &fakeSigner{})
	if err != nil {
		t.Fatalf("mesh.New: %v", err)
	}

	msg := mesh.NewMessage(mesh.Address(10), mesh.Address(99), 0, mesh.CommandSet, 0, false)
	if err := node.SendRoute(msg); err != nil {
		t.Fatalf("SendRoute() error: %v", err)
	}

	buf := make([]byte, mesh.MaxMessageLength)
	if n := parentRadio.Receive(buf); n == 0 {
		t.Fatal("message was not sent to parent")
	}
}

func TestSendRouteFailureIncrementsCounterAndTriggersRediscovery(t *testing.T) {
	t.Parallel()

	fabric := radio.NewFabric()
	r := radio.NewLoopback(fabric)
	// No parent radio bound: every send to the parent fails at the radio
	// layer.
	store := nvram.NewMemStore(mesh.NVStoreSize)
	seedStore(store, mesh.Address(10), mesh.Address(1), 1)
	cfg := mesh.Config{Capabilities: mesh.Capabilities{AutoFindParent: true}}
	node, err := mesh.New(cfg, r, store, &fakeClock{}, &fakeSigner{})
	if err != nil {
		t.Fatalf("mesh.New: %v", err)
	}

	const attempts = mesh.SearchFailures + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		msg := mesh.NewMessage(mesh.Address(10), mesh.Address(99), 0, mesh.CommandSet, 0, false)
		lastErr = node.SendRoute(msg)
	}

	if lastErr != mesh.ErrRadioSendFailed {
		t.Fatalf("final SendRoute() error = %v, want ErrRadioSendFailed", lastErr)
	}
	// Past SearchFailures consecutive failures, maybeRediscover fires
	// FindParent on every subsequent failure; with no responder the
	// parent assignment is untouched and the counter keeps counting.
	if got := node.FailedTransmissions(); got != attempts {
		t.Errorf("FailedTransmissions() = %d, want %d", got, attempts)
	}
	// FindParent resets the distance before probing; with no responder it
	// stays unknown, which shows the rediscovery ran.
	if got := node.Context().Distance; got != mesh.DistanceUnknown {
		t.Errorf("Distance = %d, want DistanceUnknown after rediscovery", got)
	}
}

func TestSendRouteSuccessResetsFailureCounter(t *testing.T) {
	t.Parallel()

	fabric := radio.NewFabric()
	r := radio.NewLoopback(fabric)
	parentRadio := radio.NewLoopback(fabric)
	if err := parentRadio.SetAddress(mesh.Address(1)); err != nil {
		t.Fatal(err)
	}

	store := nvram.NewMemStore(mesh.NVStoreSize)
	seedStore(store, mesh.Address(10), mesh.Address(1), 1)
	node, err := mesh.New(mesh.Config{}, r, store, &fakeClock{}, &fakeSigner{})
	if err != nil {
		t.Fatalf("mesh.New: %v", err)
	}

	msg := mesh.NewMessage(mesh.Address(10), mesh.Address(99), 0, mesh.CommandSet, 0, false)
	if err := node.SendRoute(msg); err != nil {
		t.Fatalf("SendRoute() error: %v", err)
	}
	if got := node.FailedTransmissions(); got != 0 {
		t.Errorf("FailedTransmissions() = %d, want 0 after success", got)
	}
}

func TestSendRouteGatewayRepeaterUnknownDestinationFails(t *testing.T) {
	t.Parallel()

	fabric := radio.NewFabric()
	r := radio.NewLoopback(fabric)
	store := nvram.NewMemStore(mesh.NVStoreSize)
	seedStore(store, mesh.GatewayAddr, mesh.GatewayAddr, 0)
	cfg := mesh.Config{Capabilities: mesh.Capabilities{Gateway: true, Repeater: true}}
	node, err := mesh.New(cfg, r, store, &fakeClock{}, &fakeSigner{})
	if err != nil {
		t.Fatalf("mesh.New: %v", err)
	}

	msg := mesh.NewMessage(mesh.GatewayAddr, mesh.Address(77), 0, mesh.CommandSet, 0, false)
	err = node.SendRoute(msg)
	if err != mesh.ErrRouteUnknownAtGateway {
		t.Fatalf("SendRoute() error = %v, want ErrRouteUnknownAtGateway", err)
	}
}

func TestSendRouteRepeaterLearnsRouteToGateway(t *testing.T) {
	t.Parallel()

	fabric := radio.NewFabric()
	r := radio.NewLoopback(fabric)
	parentRadio := radio.NewLoopback(fabric)
	if err := parentRadio.SetAddress(mesh.Address(1)); err != nil {
		t.Fatal(err)
	}

	store := nvram.NewMemStore(mesh.NVStoreSize)
	seedStore(store, mesh.Address(10), mesh.Address(1), 1)
	cfg := mesh.Config{Capabilities: mesh.Capabilities{Repeater: true}}
	node, err := mesh.New(cfg, r, store, &fakeClock{}, &fakeSigner{})
	if err != nil {
		t.Fatalf("mesh.New: %v", err)
	}

	msg := mesh.NewMessage(mesh.Address(20), mesh.GatewayAddr, 0, mesh.CommandSet, 0, false)
	msg.Last = mesh.Address(15)
	if err := node.SendRoute(msg); err != nil {
		t.Fatalf("SendRoute() error: %v", err)
	}

	routes, err := mesh.NewRoutingTable(store)
	if err != nil {
		t.Fatal(err)
	}
	if hop := routes.GetNextHop(mesh.Address(20)); hop != mesh.Address(15) {
		t.Errorf("route for child 20 = %v, want next hop 15", hop)
	}
}

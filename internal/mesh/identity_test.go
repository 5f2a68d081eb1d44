package mesh_test

import (
	"testing"

	"github.com/flximg/meshnode/internal/mesh"
	"github.com/flximg/meshnode/internal/nvram"
	"github.com/flximg/meshnode/internal/radio"
)

func TestIDResponseAdoptsAssignedAddress(t *testing.T) {
	t.Parallel()

	fabric := radio.NewFabric()
	nodeRadio := radio.NewLoopback(fabric)
	gatewayRadio := radio.NewLoopback(fabric)
	if err := gatewayRadio.SetAddress(mesh.GatewayAddr); err != nil {
		t.Fatal(err)
	}

	store := nvram.NewMemStore(mesh.NVStoreSize)
	seedStore(store, mesh.AutoAddr, mesh.GatewayAddr, 1)

	clk := &fakeClock{}
	node, err := mesh.New(mesh.Config{}, nodeRadio, store, clk, &fakeSigner{})
	if err != nil {
		t.Fatalf("mesh.New: %v", err)
	}

	node.RequestNodeID()

	// Drain the ID_REQUEST the node sent toward its parent, then hand back
	// ID_RESPONSE(42) the way the gateway's host logic would.
	buf := make([]byte, mesh.MaxMessageLength)
	n := gatewayRadio.Receive(buf)
	var req mesh.Message
	if err := mesh.Unmarshal(buf[:n], &req); err != nil {
		t.Fatalf("unmarshal ID_REQUEST: %v", err)
	}
	if req.Command != mesh.CommandInternal || req.Type != mesh.TypeIDRequest {
		t.Fatalf("request = %+v, want INTERNAL/ID_REQUEST", req)
	}

	resp := mesh.NewMessage(mesh.GatewayAddr, mesh.AutoAddr, 0, mesh.CommandInternal, mesh.TypeIDResponse, false)
	resp.Last = mesh.GatewayAddr
	if err := resp.SetInt(42); err != nil {
		t.Fatal(err)
	}
	var wbuf [mesh.MaxMessageLength]byte
	wn, err := mesh.Marshal(resp, wbuf[:])
	if err != nil {
		t.Fatal(err)
	}
	gatewayRadio.Send(mesh.BroadcastAddr, wbuf[:wn])

	if err := node.Process(); err != nil {
		t.Fatalf("Process() returned error: %v", err)
	}

	got := node.Context()
	if got.NodeID != mesh.Address(42) {
		t.Errorf("NodeID = %v, want 42", got.NodeID)
	}

	var idBuf [1]byte
	if err := store.ReadAt(mesh.OffsetNodeID, idBuf[:]); err != nil {
		t.Fatal(err)
	}
	if idBuf[0] != 42 {
		t.Errorf("persisted node id = %d, want 42", idBuf[0])
	}
}

func TestIDResponsePoolExhaustedIsFatal(t *testing.T) {
	t.Parallel()

	fabric := radio.NewFabric()
	nodeRadio := radio.NewLoopback(fabric)

	store := nvram.NewMemStore(mesh.NVStoreSize)
	seedStore(store, mesh.AutoAddr, mesh.Address(1), 1)

	clk := &fakeClock{}
	node, err := mesh.New(mesh.Config{}, nodeRadio, store, clk, &fakeSigner{})
	if err != nil {
		t.Fatalf("mesh.New: %v", err)
	}

	resp := mesh.NewMessage(mesh.GatewayAddr, mesh.AutoAddr, 0, mesh.CommandInternal, mesh.TypeIDResponse, false)
	resp.Last = mesh.GatewayAddr
	if err := resp.SetInt(int16(mesh.AutoAddr)); err != nil {
		t.Fatal(err)
	}
	var wbuf [mesh.MaxMessageLength]byte
	wn, err := mesh.Marshal(resp, wbuf[:])
	if err != nil {
		t.Fatal(err)
	}
	// Broadcast from a throwaway radio: broadcast reaches every bound
	// member of the fabric, so the frame needs no unicast membership
	// lookup to reach the unassigned node.
	loopback := radio.NewLoopback(fabric)
	if err := loopback.SetAddress(mesh.GatewayAddr + 1); err != nil {
		t.Fatal(err)
	}
	loopback.Send(mesh.BroadcastAddr, wbuf[:wn])

	err = node.Process()
	if err != mesh.ErrPoolExhausted {
		t.Fatalf("Process() error = %v, want ErrPoolExhausted", err)
	}

	// Process is now permanently fatal.
	if err := node.Process(); err != mesh.ErrPoolExhausted {
		t.Errorf("second Process() error = %v, want ErrPoolExhausted (sticky)", err)
	}
}

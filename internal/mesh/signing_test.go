package mesh_test

import (
	"testing"

	"github.com/flximg/meshnode/internal/mesh"
	"github.com/flximg/meshnode/internal/nvram"
	"github.com/flximg/meshnode/internal/radio"
)

// answerGetNonce wires a bare peer radio to answer one GET_NONCE request
// with GET_NONCE_RESPONSE over the real codec; the signed send that
// follows is left queued on the peer radio for the test to inspect.
func answerGetNonce(t *testing.T, peer *radio.Loopback, peerAddr mesh.Address, signer mesh.Signer, nonce []byte) func() {
	t.Helper()
	repliedNonce := false
	return func() {
		if repliedNonce {
			return
		}
		_, ok := peer.Available()
		if !ok {
			return
		}
		buf := make([]byte, mesh.MaxMessageLength)
		n := peer.Receive(buf)
		var req mesh.Message
		if err := mesh.Unmarshal(buf[:n], &req); err != nil {
			t.Fatalf("peer unmarshal: %v", err)
		}
		if req.Command != mesh.CommandInternal || req.Type != mesh.TypeGetNonce {
			return
		}

		resp := mesh.NewMessage(peerAddr, req.Sender, 0, mesh.CommandInternal, mesh.TypeGetNonceResponse, false)
		resp.Last = peerAddr
		if err := resp.SetCustom(nonce); err != nil {
			t.Fatalf("resp.SetCustom: %v", err)
		}
		var wbuf [mesh.MaxMessageLength]byte
		wn, err := mesh.Marshal(resp, wbuf[:])
		if err != nil {
			t.Fatalf("marshal nonce response: %v", err)
		}
		peer.Send(req.Sender, wbuf[:wn])
		repliedNonce = true
	}
}

func TestSignSendSucceedsAndMessageIsSigned(t *testing.T) {
	t.Parallel()

	fabric := radio.NewFabric()
	nodeRadio := radio.NewLoopback(fabric)
	peerRadio := radio.NewLoopback(fabric)
	peerAddr := mesh.Address(9)
	if err := peerRadio.SetAddress(peerAddr); err != nil {
		t.Fatal(err)
	}

	store := nvram.NewMemStore(mesh.NVStoreSize)
	seedStore(store, mesh.Address(10), peerAddr, 1)
	// Mark peerAddr as requiring signed outbound traffic before the node
	// loads its SignRequiredTable, so needsSigning sees the bit.
	if err := store.WriteAt(mesh.OffsetSignRequiredBase+int(peerAddr/8), []byte{1 << (peerAddr % 8)}); err != nil {
		t.Fatal(err)
	}

	signer := &fakeSigner{nonce: []byte{1, 2, 3, 4}}
	clk := &fakeClock{}
	node, err := mesh.New(mesh.Config{}, nodeRadio, store, clk, signer)
	if err != nil {
		t.Fatalf("mesh.New: %v", err)
	}

	clk.onWait = answerGetNonce(t, peerRadio, peerAddr, signer, []byte{1, 2, 3, 4})

	msg := mesh.NewMessage(mesh.Address(10), peerAddr, 0, mesh.CommandSet, 0, false)
	if err := msg.SetByte(7); err != nil {
		t.Fatal(err)
	}

	if err := node.SendRoute(msg); err != nil {
		t.Fatalf("SendRoute() error: %v", err)
	}
	if !msg.Signed {
		t.Errorf("msg.Signed = false after SendRoute, want true")
	}

	buf := make([]byte, mesh.MaxMessageLength)
	n := peerRadio.Receive(buf)
	if n != mesh.MaxMessageLength {
		t.Fatalf("signed frame length = %d, want %d", n, mesh.MaxMessageLength)
	}
	var sent mesh.Message
	if err := mesh.Unmarshal(buf[:n], &sent); err != nil {
		t.Fatal(err)
	}
	if !sent.Signed {
		t.Errorf("transmitted frame Signed = false, want true")
	}
}

func TestSignSendTimesOutWithoutNonce(t *testing.T) {
	t.Parallel()

	fabric := radio.NewFabric()
	nodeRadio := radio.NewLoopback(fabric)
	peerAddr := mesh.Address(9)

	store := nvram.NewMemStore(mesh.NVStoreSize)
	seedStore(store, mesh.Address(10), peerAddr, 1)
	if err := store.WriteAt(mesh.OffsetSignRequiredBase+int(peerAddr/8), []byte{1 << (peerAddr % 8)}); err != nil {
		t.Fatal(err)
	}

	signer := &fakeSigner{}
	clk := &fakeClock{}
	node, err := mesh.New(mesh.Config{}, nodeRadio, store, clk, signer)
	if err != nil {
		t.Fatalf("mesh.New: %v", err)
	}

	msg := mesh.NewMessage(mesh.Address(10), peerAddr, 0, mesh.CommandSet, 0, false)
	if err := msg.SetByte(7); err != nil {
		t.Fatal(err)
	}

	err = node.SendRoute(msg)
	if err != mesh.ErrNonceTimeout {
		t.Fatalf("SendRoute() error = %v, want ErrNonceTimeout", err)
	}
}

func TestHandshakeExemptTypesNeverSigned(t *testing.T) {
	t.Parallel()

	fabric := radio.NewFabric()
	nodeRadio := radio.NewLoopback(fabric)
	peerRadio := radio.NewLoopback(fabric)
	peerAddr := mesh.Address(9)
	if err := peerRadio.SetAddress(peerAddr); err != nil {
		t.Fatal(err)
	}

	store := nvram.NewMemStore(mesh.NVStoreSize)
	seedStore(store, mesh.Address(10), peerAddr, 1)
	if err := store.WriteAt(mesh.OffsetSignRequiredBase+int(peerAddr/8), []byte{1 << (peerAddr % 8)}); err != nil {
		t.Fatal(err)
	}

	clk := &fakeClock{}
	node, err := mesh.New(mesh.Config{}, nodeRadio, store, clk, &fakeSigner{})
	if err != nil {
		t.Fatalf("mesh.New: %v", err)
	}

	// FIND_PARENT is handshake-exempt, so sending it to a peer that
	// requires signing must not block on the nonce handshake at all.
	msg := mesh.NewMessage(mesh.Address(10), peerAddr, 0, mesh.CommandInternal, mesh.TypeFindParent, false)
	if err := node.SendRoute(msg); err != nil {
		t.Fatalf("SendRoute() for exempt type returned error: %v", err)
	}
}

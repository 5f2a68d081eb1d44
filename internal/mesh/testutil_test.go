package mesh_test

import (
	"time"

	"github.com/flximg/meshnode/internal/mesh"
)

// fakeClock is a deterministic mesh.Clock for tests: NowMillis returns a
// manually-advanced virtual counter, and Wait advances it instead of
// sleeping, optionally running onWait so a test can simulate a peer
// responding between polling ticks of Node.Process.
type fakeClock struct {
	ms     uint32
	onWait func()
}

func (c *fakeClock) NowMillis() uint32 {
	return c.ms
}

func (c *fakeClock) Wait(d time.Duration) {
	c.ms += uint32(d.Milliseconds())
	if c.onWait != nil {
		c.onWait()
	}
}

// fakeSigner is a deterministic mesh.Signer: the "signature" is just the
// nonce reversed and appended, and Verify recomputes it over the frame's
// logical payload window to check for a match.
type fakeSigner struct {
	nonce []byte
}

func (s *fakeSigner) GenerateNonce() ([]byte, error) {
	if s.nonce != nil {
		return s.nonce, nil
	}
	return []byte{0xAA, 0xBB, 0xCC, 0xDD}, nil
}

func (s *fakeSigner) Sign(msg []byte, nonce []byte) ([]byte, error) {
	sig := make([]byte, len(nonce))
	for i, b := range nonce {
		sig[len(nonce)-1-i] = b
	}
	return sig, nil
}

func (s *fakeSigner) Verify(wire []byte) bool {
	var m mesh.Message
	if err := mesh.Unmarshal(wire, &m); err != nil {
		return false
	}
	nonce := s.nonce
	if nonce == nil {
		nonce = []byte{0xAA, 0xBB, 0xCC, 0xDD}
	}
	want := make([]byte, len(nonce))
	for i, b := range nonce {
		want[len(nonce)-1-i] = b
	}
	payload := m.PayloadBytes()
	if len(payload) < len(want) {
		return false
	}
	gotSig := payload[len(payload)-len(want):]
	for i := range want {
		if gotSig[i] != want[i] {
			return false
		}
	}
	return true
}

// seedStore writes the fixed-offset identity record directly into store,
// simulating a device that has already completed bootstrap.
func seedStore(store mesh.NVStore, nodeID, parentID mesh.Address, distance uint8) {
	_ = store.WriteAt(mesh.OffsetNodeID, []byte{byte(nodeID)})
	_ = store.WriteAt(mesh.OffsetParentID, []byte{byte(parentID)})
	_ = store.WriteAt(mesh.OffsetDistance, []byte{distance})
}

// fakeRebooter is a mesh.Rebooter that records whether Reboot was called,
// standing in for an actual device restart.
type fakeRebooter struct {
	rebooted bool
}

func (r *fakeRebooter) Reboot() {
	r.rebooted = true
}

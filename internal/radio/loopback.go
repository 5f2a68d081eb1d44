// Package radio provides concrete mesh.Radio implementations: an
// in-memory Loopback fabric for tests and simulation, and a UART-backed
// Serial driver for a physical radio module.
package radio

import (
	"sync"

	"github.com/flximg/meshnode/internal/mesh"
)

// frame is one queued delivery: the bytes plus the address they arrived
// from, matching the Radio.Available/Receive contract.
type frame struct {
	from mesh.Address
	data []byte
}

// Fabric is a shared in-memory broadcast medium. Every Loopback created
// with NewLoopback against the same Fabric can reach every other.
type Fabric struct {
	mu      sync.Mutex
	members map[mesh.Address]*Loopback // addressed members, for unicast delivery
	all     []*Loopback                // every bound member, for broadcast fanout

	// Real radio hardware listens on the shared broadcast channel
	// regardless of whether the node has an assigned mesh address yet;
	// all mirrors that so an AutoAddr node can still hear a
	// FIND_PARENT_RESPONSE broadcast back to it.
}

// NewFabric creates an empty in-memory radio medium.
func NewFabric() *Fabric {
	return &Fabric{members: make(map[mesh.Address]*Loopback)}
}

// Loopback is a mesh.Radio backed by a Fabric: Send delivers synchronously
// to every other member whose address matches the destination (or to all
// members on broadcast).
type Loopback struct {
	fabric *Fabric
	addr   mesh.Address
	bound  bool

	mu    sync.Mutex
	queue []frame
}

// NewLoopback creates a Loopback attached to fabric. The radio is usable
// once SetAddress is called (matching the real driver's "open reception
// channels" contract).
func NewLoopback(fabric *Fabric) *Loopback {
	return &Loopback{fabric: fabric}
}

// SetAddress implements mesh.Radio.
func (l *Loopback) SetAddress(addr mesh.Address) error {
	l.fabric.mu.Lock()
	defer l.fabric.mu.Unlock()

	if l.bound {
		delete(l.fabric.members, l.addr)
	} else {
		l.fabric.all = append(l.fabric.all, l)
	}
	l.addr = addr
	l.bound = true
	if addr != mesh.AutoAddr {
		l.fabric.members[addr] = l
	}
	return nil
}

// Send implements mesh.Radio. Broadcast fans out to every bound member
// except the sender, regardless of whether each has an assigned address;
// unicast delivers only to the matching addressed member.
func (l *Loopback) Send(to mesh.Address, data []byte) bool {
	cp := make([]byte, len(data))
	copy(cp, data)

	l.fabric.mu.Lock()
	defer l.fabric.mu.Unlock()

	if to == mesh.BroadcastAddr {
		for _, m := range l.fabric.all {
			if m == l {
				continue
			}
			m.deliver(l.addr, cp)
		}
		return true
	}

	m, ok := l.fabric.members[to]
	if !ok {
		return false
	}
	m.deliver(l.addr, cp)
	return true
}

func (l *Loopback) deliver(from mesh.Address, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = append(l.queue, frame{from: from, data: data})
}

// Available implements mesh.Radio.
func (l *Loopback) Available() (mesh.Address, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return 0, false
	}
	return l.queue[0].from, true
}

// Receive implements mesh.Radio.
func (l *Loopback) Receive(buf []byte) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return 0
	}
	f := l.queue[0]
	l.queue = l.queue[1:]
	n := copy(buf, f.data)
	return n
}

//go:build linux

package radio

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/flximg/meshnode/internal/mesh"
)

// baudRates maps a configured integer baud rate to the termios speed
// constant golang.org/x/sys/unix exposes for it.
var baudRates = map[int]uint32{
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

// Serial is a mesh.Radio backed by a UART-attached radio module. Frames
// are fixed at mesh.MaxMessageLength bytes on the wire, so framing needs
// no length prefix: Serial reads in MaxMessageLength chunks directly off
// the port.
//
// The underlying module is responsible for over-the-air addressing;
// Serial keeps no address of its own. Available reports who a buffered
// frame's Last hop claims to be from by peeking the frame's first header
// byte.
type Serial struct {
	file *os.File
	fd   int

	mu    sync.Mutex
	queue [][]byte
}

// OpenSerial opens device at the given baud rate and puts it into raw
// mode: no canonical line discipline, no echo, no signal characters, 8N1.
func OpenSerial(device string, baudRate int) (*Serial, error) {
	speed, ok := baudRates[baudRate]
	if !ok {
		return nil, fmt.Errorf("radio: unsupported baud rate %d", baudRate)
	}

	f, err := os.OpenFile(device, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("radio: open %s: %w", device, err)
	}

	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("radio: get termios on %s: %w", device, err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	t.Ispeed = speed
	t.Ospeed = speed

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		f.Close()
		return nil, fmt.Errorf("radio: set termios on %s: %w", device, err)
	}

	return &Serial{file: f, fd: fd}, nil
}

// Close releases the underlying file descriptor.
func (s *Serial) Close() error {
	return s.file.Close()
}

// SetAddress implements mesh.Radio. The UART driver carries no notion of
// a bound address of its own -- addressing lives entirely in the frame
// header -- so SetAddress is a no-op kept only to satisfy the interface.
func (s *Serial) SetAddress(addr mesh.Address) error {
	return nil
}

// Send implements mesh.Radio: it writes data to the port in full. The
// destination address is already encoded in the frame header by the
// caller; Send does not use to beyond that.
func (s *Serial) Send(to mesh.Address, data []byte) bool {
	_, err := s.file.Write(data)
	return err == nil
}

// pump reads exactly one fixed-size frame off the port and queues it.
// Blocking: intended to run on its own goroutine.
func (s *Serial) pump() {
	buf := make([]byte, mesh.MaxMessageLength)
	for {
		n, err := s.file.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		s.mu.Lock()
		s.queue = append(s.queue, frame)
		s.mu.Unlock()
	}
}

// StartReading launches the background read pump. Must be called once
// before Available/Receive will see any inbound traffic.
func (s *Serial) StartReading() {
	go s.pump()
}

// Available implements mesh.Radio. The reported address is the frame's
// Last-hop byte, decoded without disturbing the queued bytes.
func (s *Serial) Available() (mesh.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return 0, false
	}
	if len(s.queue[0]) == 0 {
		return 0, false
	}
	return mesh.Address(s.queue[0][0]), true
}

// Receive implements mesh.Radio.
func (s *Serial) Receive(buf []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return 0
	}
	f := s.queue[0]
	s.queue = s.queue[1:]
	return copy(buf, f)
}

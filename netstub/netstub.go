// Package netstub is a minimal loopback-only UDP-shaped socket table:
// bind reserves a port, sendto enqueues a datagram directly on the
// destination socket's receive queue, recvfrom dequeues one. It exists
// so the socket/bind/sendto/recvfrom/closesock syscalls have a real,
// if deliberately non-networked, collaborator to dispatch to — no IP,
// no wire format, no cross-host delivery.
package netstub

import (
	"sync"

	"spikeos/defs"
	"spikeos/fdops"
	"spikeos/limits"
)

type datagram struct {
	data []byte
	src  int
}

// Sock_t is one loopback socket's Fdops_i adapter. Read drains the
// next queued datagram discarding its source port, the same shape
// pipe.Reader_t gives a byte stream; Write fails since a bare write
// has no destination port (a real sendto is required).
type Sock_t struct {
	mu   sync.Mutex
	id   int
	port int
	rx   []datagram
}

var (
	mu      sync.Mutex
	sockets = map[int]*Sock_t{}
	byPort  = map[int]*Sock_t{}
	nextID  int
)

// Socket allocates a new, unbound socket. Returns -EMFILE if the
// system-wide socket limit is exhausted.
func Socket() (*Sock_t, defs.Err_t) {
	mu.Lock()
	defer mu.Unlock()
	if !limits.Syslimit.Sockets.Take() {
		return nil, -defs.EMFILE
	}
	nextID++
	s := &Sock_t{id: nextID}
	sockets[s.id] = s
	return s, 0
}

// Bind reserves port for s. Fails with -EADDRINUSE if another live
// socket already holds it.
func Bind(s *Sock_t, port int) defs.Err_t {
	mu.Lock()
	defer mu.Unlock()
	if _, taken := byPort[port]; taken {
		return -defs.EADDRINUSE
	}
	if s.port != 0 {
		delete(byPort, s.port)
	}
	s.port = port
	byPort[port] = s
	return 0
}

// Sendto enqueues data on the socket bound to destPort, tagged with
// s's own bound port (0 if unbound) as the datagram's source. Fails
// with -ECONNREFUSED if nothing is bound to destPort.
func Sendto(s *Sock_t, data []byte, destPort int) (int, defs.Err_t) {
	mu.Lock()
	dst, ok := byPort[destPort]
	mu.Unlock()
	if !ok {
		return 0, -defs.ECONNREFUSED
	}
	cp := append([]byte(nil), data...)
	dst.mu.Lock()
	dst.rx = append(dst.rx, datagram{data: cp, src: s.port})
	dst.mu.Unlock()
	return len(data), 0
}

// Recvfrom dequeues the oldest pending datagram into dst, reporting
// its sender's port. Returns (0, 0, 0) — not an error — if nothing is
// queued, matching a non-blocking datagram read.
func Recvfrom(s *Sock_t, dst fdops.Userio_i) (int, int, defs.Err_t) {
	s.mu.Lock()
	if len(s.rx) == 0 {
		s.mu.Unlock()
		return 0, 0, 0
	}
	dg := s.rx[0]
	s.rx = s.rx[1:]
	s.mu.Unlock()
	n, err := dst.Uiowrite(dg.data)
	return n, dg.src, err
}

// Close releases s: unbinds its port, forgets it, and gives back its
// slot in the system-wide socket limit.
func Close(s *Sock_t) defs.Err_t {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := sockets[s.id]; !ok {
		return -defs.EBADF
	}
	delete(sockets, s.id)
	if s.port != 0 {
		delete(byPort, s.port)
	}
	limits.Syslimit.Sockets.Give()
	return 0
}

func (s *Sock_t) Close() defs.Err_t { return Close(s) }

func (s *Sock_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	n, _, err := Recvfrom(s, dst)
	return n, err
}

func (s *Sock_t) Write(fdops.Userio_i) (int, defs.Err_t) { return 0, -defs.ENOTCONN }

func (s *Sock_t) Lseek(off, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }

func (s *Sock_t) Fstat(st fdops.StatAccessor) defs.Err_t {
	st.Wmode(0140000) // S_IFSOCK
	return 0
}

func (s *Sock_t) Truncate(newlen uint) defs.Err_t { return -defs.EINVAL }

func (s *Sock_t) Reopen() defs.Err_t { return 0 }

func (s *Sock_t) Pathi() fdops.Inoder { return nil }

func (s *Sock_t) Pollone(events fdops.Ready_t) (fdops.Ready_t, defs.Err_t) {
	s.mu.Lock()
	ready := len(s.rx) > 0
	s.mu.Unlock()
	if ready {
		return events & fdops.R_READ, 0
	}
	return 0, 0
}

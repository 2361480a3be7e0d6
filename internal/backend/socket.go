package backend

import (
	"net"
	"strings"

	"github.com/xdd-project/xdd/internal/interfaces"
)

// Socket is the "socket" target kind: a streaming endpoint addressed as
// "tcp://host:port" or "unix:///path/to/sock", read and written
// sequentially like a character device (offsets are advisory only).
type Socket struct {
	conn net.Conn
	size int64
}

// OpenSocket dials the endpoint encoded in path.
func OpenSocket(path string, opts Options) (*Socket, error) {
	network, addr, ok := strings.Cut(path, "://")
	if !ok {
		network, addr = "tcp", path
	}
	if network == "unix" {
		addr = strings.TrimPrefix(addr, "/")
		addr = "/" + addr
	}

	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	return &Socket{conn: conn, size: opts.Size}, nil
}

func (s *Socket) ReadAt(p []byte, off int64) (int, error) {
	return s.conn.Read(p)
}

func (s *Socket) WriteAt(p []byte, off int64) (int, error) {
	return s.conn.Write(p)
}

func (s *Socket) Noop(off int64, length int64) error { return nil }

// Size returns the configured nominal size; a socket target has no
// intrinsic length.
func (s *Socket) Size() int64 { return s.size }

func (s *Socket) Close() error { return s.conn.Close() }

// Flush is a no-op: TCP/unix stream sockets have no userspace buffer to
// flush beyond what Write already sent.
func (s *Socket) Flush() error { return nil }

var _ interfaces.Backend = (*Socket)(nil)

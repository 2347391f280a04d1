// Package nlsock implements the netlink transport: one AF_NETLINK/
// NETLINK_GENERIC datagram socket per client, request/response sequencing,
// and the query/execute request shapes every family client is built on.
package nlsock

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"

	"github.com/m-lab/gnl/genl"
	"github.com/m-lab/gnl/metrics"
)

// TransportError wraps a failure at the socket/syscall layer: a bad fd, a
// send/recv syscall error, a malformed frame, or an unexpected sequence
// number or port id in a reply. This is distinct from a kernel-reported
// command failure (KernelError) and from a schema mis-use (which panics
// instead of returning an error).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("nlsock: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// KernelError wraps a non-zero ErrorMsg.Errno returned for a request —
// error-taxonomy class 4: the kernel understood and rejected the request.
type KernelError struct {
	Op    string
	Errno int32
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("nlsock: %s: kernel returned errno %d (%v)", e.Op, -e.Errno, unix.Errno(-e.Errno))
}

// Socket is one bound generic-netlink datagram socket. A Socket serializes
// its own request/response traffic (concurrent callers queue behind a
// mutex) but otherwise has no internal state shared with any other Socket.
// The zero value is not useful; construct with Open.
type Socket struct {
	fd      int
	portID  uint32
	verbose bool

	mu  sync.Mutex
	seq uint32
}

// Option configures a Socket at Open time.
type Option func(*Socket)

// Verbose logs every outgoing request and incoming reply frame.
func Verbose() Option {
	return func(s *Socket) { s.verbose = true }
}

// Open resolves any not-yet-resolved family names registered with
// genl.DefaultRegistry (once per process, see bootstrap.go) and then opens
// a fresh netlink socket.
func Open(opts ...Option) (*Socket, error) {
	if err := bootstrap(); err != nil {
		return nil, err
	}
	s, err := newSocket()
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func newSocket() (*Socket, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_GENERIC)
	if err != nil {
		return nil, &TransportError{Op: "socket", Err: err}
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK}); err != nil {
		unix.Close(fd)
		return nil, &TransportError{Op: "bind", Err: err}
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, &TransportError{Op: "getsockname", Err: err}
	}
	nsa, ok := sa.(*unix.SockaddrNetlink)
	if !ok {
		unix.Close(fd)
		return nil, &TransportError{Op: "getsockname", Err: fmt.Errorf("unexpected sockaddr type %T", sa)}
	}
	return &Socket{fd: fd, portID: nsa.Pid}, nil
}

// Close releases the underlying socket fd.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}

// SetReadTimeout sets SO_RCVTIMEO on the underlying socket. A zero duration
// means no timeout (the default).
func (s *Socket) SetReadTimeout(d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return &TransportError{Op: "setsockopt(SO_RCVTIMEO)", Err: err}
	}
	return nil
}

func (s *Socket) rawSend(b []byte) error {
	return unix.Sendto(s.fd, b, 0, &unix.SockaddrNetlink{Family: unix.AF_NETLINK})
}

func (s *Socket) rawRecv() ([]byte, error) {
	buf := make([]byte, 16384)
	n, _, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (s *Socket) nextSeq() uint32 {
	s.seq++
	metrics.SequenceGauge.With(prometheus.Labels{"port": fmt.Sprintf("%d", s.portID)}).Set(float64(s.seq))
	return s.seq
}

// query sends m and accumulates every reply frame until a DoneMsg or a
// reply without the MULTI flag terminates the exchange. Any ErrorMsg with
// a non-zero errno ends the exchange immediately as a *KernelError — the
// kernel reporting ESRCH/ENOENT/etc for the request takes priority over
// whatever data frames, if any, came before it. A zero-errno ErrorMsg (a
// plain ack) is returned like any other reply; Execute is the helper that
// checks for that.
func (s *Socket) query(m *genl.Msg) ([]genl.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	familyName := m.Schema.Name()
	start := time.Now()
	defer func() {
		metrics.SyscallTimeHistogram.With(prometheus.Labels{"family": familyName}).Observe(time.Since(start).Seconds())
	}()

	if m.Flags()&genl.FlagRequest == 0 {
		m.SetFlags(m.Flags() | genl.FlagRequest)
	}
	seq := s.nextSeq()
	raw, err := genl.EncodeFrame(m, s.portID, seq)
	if err != nil {
		return nil, err
	}
	if s.verbose {
		log.Printf("nlsock: -> %s.%s seq=%d flags=%#x", familyName, m.CommandName(), seq, m.Flags())
	}
	if err := s.rawSend(raw); err != nil {
		metrics.ErrorCount.With(prometheus.Labels{"class": "transport"}).Inc()
		return nil, &TransportError{Op: "send", Err: err}
	}

	var replies []genl.Message
	for {
		data, err := s.rawRecv()
		if err != nil {
			metrics.ErrorCount.With(prometheus.Labels{"class": "transport"}).Inc()
			return nil, &TransportError{Op: "recv", Err: err}
		}
		for len(data) > 0 {
			length, _, flags, fseq, fport, perr := genl.PeekHeader(data)
			if perr != nil {
				metrics.ErrorCount.With(prometheus.Labels{"class": "transport"}).Inc()
				return nil, &TransportError{Op: "recv", Err: perr}
			}
			frame := data[:length]
			data = data[length:]
			if fseq != seq {
				metrics.ErrorCount.With(prometheus.Labels{"class": "transport"}).Inc()
				return nil, &TransportError{Op: "recv", Err: fmt.Errorf("unexpected sequence number %d, want %d", fseq, seq)}
			}
			if fport != s.portID {
				metrics.ErrorCount.With(prometheus.Labels{"class": "transport"}).Inc()
				return nil, &TransportError{Op: "recv", Err: fmt.Errorf("unexpected port id %d, want %d", fport, s.portID)}
			}
			msg, _, derr := genl.DecodeFrame(genl.DefaultRegistry, frame)
			if derr != nil {
				metrics.ErrorCount.With(prometheus.Labels{"class": "transport"}).Inc()
				return nil, &TransportError{Op: "recv", Err: derr}
			}
			if s.verbose {
				log.Printf("nlsock: <- %s seq=%d flags=%#x %T", familyName, fseq, flags, msg)
			}
			if em, ok := msg.(*genl.ErrorMsg); ok && em.Errno != 0 {
				metrics.ErrorCount.With(prometheus.Labels{"class": "kernel"}).Inc()
				return nil, &KernelError{Op: familyName + "." + m.CommandName(), Errno: em.Errno}
			}
			if _, ok := msg.(*genl.DoneMsg); ok {
				metrics.ReplyCountHistogram.With(prometheus.Labels{"family": familyName}).Observe(float64(len(replies)))
				return replies, nil
			}
			replies = append(replies, msg)
			if flags&genl.FlagMulti == 0 {
				metrics.ReplyCountHistogram.With(prometheus.Labels{"family": familyName}).Observe(float64(len(replies)))
				return replies, nil
			}
		}
	}
}

// Query sends m and returns every reply the kernel sends back, in order.
// Use it for GET/DUMP-style commands that can return zero, one, or many
// results.
func (s *Socket) Query(m *genl.Msg) ([]genl.Message, error) {
	return s.query(m)
}

// Execute sends m, requesting an explicit kernel ACK, and translates the
// result into a plain error: nil on success, *KernelError on a non-zero
// errno (converted by query itself), *TransportError if the reply didn't
// look like a single ack at all.
func (s *Socket) Execute(m *genl.Msg) error {
	m.SetFlags(m.Flags() | genl.FlagAckRequest)
	replies, err := s.query(m)
	if err != nil {
		return err
	}
	if len(replies) != 1 {
		return &TransportError{Op: "execute", Err: fmt.Errorf("expected exactly 1 ack reply, got %d", len(replies))}
	}
	if _, ok := replies[0].(*genl.ErrorMsg); !ok {
		return &TransportError{Op: "execute", Err: fmt.Errorf("expected an ErrorMsg ack, got %T", replies[0])}
	}
	return nil
}

package control

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/loykin/dinitgo/internal/graph"
	"github.com/loykin/dinitgo/internal/reactor"
)

// Server listens on a Unix-domain socket and speaks the control protocol
// against one reactor-owned graph.Set. Grounded on original_source's
// control.cc connection-handling loop (one goroutine per connection,
// reading one request at a time, replying synchronously) translated from
// libev callbacks to a blocking read loop per net.Conn.
type Server struct {
	ln  net.Listener
	rc  *reactor.Reactor
	log *slog.Logger

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// Listen removes any stale socket at path and starts listening.
func Listen(path string, rc *reactor.Reactor, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &Server{ln: ln, rc: rc, log: log, conns: make(map[*conn]struct{})}, nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		c := &conn{
			nc:      nc,
			w:       bufio.NewWriter(nc),
			rc:      s.rc,
			handles: newHandleTable(),
			log:     s.log,
		}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		go func() {
			c.run()
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) Close() error {
	return s.ln.Close()
}

// conn handles one client connection: request parsing, dispatch, and
// forwarding service events the client has subscribed to (by looking up a
// handle) back down the wire.
type conn struct {
	nc      net.Conn
	wmu     sync.Mutex
	w       *bufio.Writer
	rc      *reactor.Reactor
	handles *handleTable
	log     *slog.Logger
}

func (c *conn) run() {
	defer c.nc.Close()
	r := bufio.NewReader(c.nc)
	for {
		op, err := r.ReadByte()
		if err != nil {
			return
		}
		if !c.dispatch(op, r) {
			return
		}
	}
}

func (c *conn) dispatch(op byte, r *bufio.Reader) bool {
	switch op {
	case CPQueryVersion:
		return c.handleQueryVersion()
	case CPFindService, CPLoadService:
		return c.handleFindService(r)
	case CPStartService:
		return c.handleStartStop(r, true)
	case CPStopService:
		return c.handleStartStop(r, false)
	case CPWakeService:
		return c.handleStartStop(r, true)
	case CPReleaseService:
		return c.handleRelease(r)
	case CPUnpinService:
		return c.handleUnpin(r)
	case CPShutdown:
		return c.handleShutdown(r)
	default:
		c.writeReply(RPBadReq)
		return false
	}
}

func (c *conn) writeReply(b ...byte) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, _ = c.w.Write(b)
	_ = c.w.Flush()
}

func (c *conn) handleQueryVersion() bool {
	buf := make([]byte, 3)
	buf[0] = RPCPVersion
	binary.LittleEndian.PutUint16(buf[1:], ProtocolVersion)
	c.writeReply(buf...)
	return true
}

func readUint32(r *bufio.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (c *conn) handleFindService(r *bufio.Reader) bool {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return false
	}
	n := binary.LittleEndian.Uint16(lenBuf[:])
	name := make([]byte, n)
	if _, err := io.ReadFull(r, name); err != nil {
		return false
	}

	set := c.rc.Set()
	rec, ok := set.Find(string(name))
	if !ok {
		c.writeReply(RPNoService)
		return true
	}
	h := c.handles.acquire(rec)
	c.subscribe(h, rec)

	buf := make([]byte, 7)
	buf[0] = RPServiceRecord
	binary.LittleEndian.PutUint32(buf[1:5], h)
	buf[5] = stateByte(rec.Current)
	buf[6] = stateByte(rec.Target)
	c.writeReply(buf...)
	return true
}

func (c *conn) handleStartStop(r *bufio.Reader, start bool) bool {
	h, err := readUint32(r)
	if err != nil {
		return false
	}
	// Flags byte: StartFlagPin is honoured on start; stop flags are read and ignored.
	flags, err := r.ReadByte()
	if err != nil {
		return false
	}
	rec, ok := c.handles.lookup(h)
	if !ok {
		c.writeReply(RPNak)
		return true
	}

	var already bool
	c.rc.PostAndWait(func(s *graph.Set) {
		if start {
			already = rec.Current == graph.Started && rec.Target == graph.Started
			s.RequestStart(rec)
			if flags&StartFlagPin != 0 {
				rec.Pin = graph.PinStarted
			}
		} else {
			already = rec.Current == graph.Stopped && rec.Target == graph.Stopped
			s.RequestStop(rec, true)
		}
	})
	if already {
		c.writeReply(RPAlreadySS)
		return true
	}
	buf := make([]byte, 5)
	buf[0] = RPSSIssued
	binary.LittleEndian.PutUint32(buf[1:], h)
	c.writeReply(buf...)
	return true
}

func (c *conn) handleRelease(r *bufio.Reader) bool {
	h, err := readUint32(r)
	if err != nil {
		return false
	}
	rec, ok := c.handles.lookup(h)
	if !ok {
		c.writeReply(RPNak)
		return true
	}
	c.rc.PostAndWait(func(s *graph.Set) { s.RequestStop(rec, false) })
	c.writeReply(RPAck)
	return true
}

func (c *conn) handleUnpin(r *bufio.Reader) bool {
	h, err := readUint32(r)
	if err != nil {
		return false
	}
	rec, ok := c.handles.lookup(h)
	if !ok {
		c.writeReply(RPNak)
		return true
	}
	c.rc.Post(func(s *graph.Set) { rec.Pin = graph.PinNone })
	c.writeReply(RPAck)
	return true
}

func (c *conn) handleShutdown(r *bufio.Reader) bool {
	kindByte, err := r.ReadByte()
	if err != nil {
		return false
	}
	kind := graph.ShutdownKind(kindByte)
	c.rc.PostAndWait(func(s *graph.Set) { s.StopAll(kind) })
	c.writeReply(RPAck)
	return true
}

func stateByte(st graph.State) byte { return byte(st) }

// eventListener forwards one record's events to this connection as
// IP_SERVICEEVENT packets, as long as the client holds a handle for it.
type eventListener struct {
	c *conn
	h uint32
}

func (l *eventListener) OnEvent(ev graph.Event) {
	l.c.writeReply(IPServiceEvent,
		byte(l.h), byte(l.h>>8), byte(l.h>>16), byte(l.h>>24),
		byte(ev.Code))
}

func (c *conn) subscribe(h uint32, rec *graph.Record) {
	c.rc.Post(func(*graph.Set) { rec.AddListener(&eventListener{c: c, h: h}) })
}

// Package dinitclient is a client for internal/control's binary protocol,
// replacing pkg/client's HTTP+JSON shape now that mutation goes over a
// Unix-domain control socket instead of an HTTP API. The Config/Client
// split and the logger field are kept from pkg/client's own shape; only
// the wire format and transport changed.
package dinitclient

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/loykin/dinitgo/internal/control"
)

// Config holds client configuration.
type Config struct {
	SocketPath string
	Timeout    time.Duration
	Logger     *slog.Logger
}

func DefaultConfig() Config {
	return Config{SocketPath: "/run/dinitgo/control.sock", Timeout: 5 * time.Second}
}

// Client is a connection to one dinitgo control socket. Not safe for
// concurrent use by multiple goroutines issuing requests at once — like
// the wire protocol it speaks, one request is in flight at a time.
type Client struct {
	cfg  Config
	log  *slog.Logger
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{cfg: cfg, log: cfg.Logger}
}

func (c *Client) Connect() error {
	conn, err := net.DialTimeout("unix", c.cfg.SocketPath, c.cfg.Timeout)
	if err != nil {
		return fmt.Errorf("dinitclient: dial %s: %w", c.cfg.SocketPath, err)
	}
	c.conn = conn
	c.r = bufio.NewReader(conn)
	return nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) deadline() time.Time {
	if c.cfg.Timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.cfg.Timeout)
}

// QueryVersion returns the server's protocol version.
func (c *Client) QueryVersion() (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetDeadline(c.deadline())
	if _, err := c.conn.Write([]byte{control.CPQueryVersion}); err != nil {
		return 0, err
	}
	op, err := c.r.ReadByte()
	if err != nil {
		return 0, err
	}
	if op != control.RPCPVersion {
		return 0, fmt.Errorf("dinitclient: unexpected reply 0x%x to QueryVersion", op)
	}
	var buf [2]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

// ServiceHandle names a service on the server side of one connection.
type ServiceHandle uint32

// ServiceStatus is FindService's decoded reply.
type ServiceStatus struct {
	Handle  ServiceHandle
	Current byte
	Target  byte
}

// FindService asks the server to resolve name to a handle, loading it if
// necessary (CPLoadService and CPFindService share a reply shape here; the
// daemon has every service already loaded at startup, so the distinction
// is moot for this client).
func (c *Client) FindService(name string) (ServiceStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetDeadline(c.deadline())

	req := make([]byte, 1+2+len(name))
	req[0] = control.CPFindService
	binary.LittleEndian.PutUint16(req[1:3], uint16(len(name)))
	copy(req[3:], name)
	if _, err := c.conn.Write(req); err != nil {
		return ServiceStatus{}, err
	}

	op, err := c.r.ReadByte()
	if err != nil {
		return ServiceStatus{}, err
	}
	switch op {
	case control.RPNoService:
		return ServiceStatus{}, fmt.Errorf("dinitclient: no such service %q", name)
	case control.RPServiceRecord:
		var buf [6]byte
		if _, err := io.ReadFull(c.r, buf[:]); err != nil {
			return ServiceStatus{}, err
		}
		return ServiceStatus{
			Handle:  ServiceHandle(binary.LittleEndian.Uint32(buf[0:4])),
			Current: buf[4],
			Target:  buf[5],
		}, nil
	default:
		return ServiceStatus{}, fmt.Errorf("dinitclient: unexpected reply 0x%x to FindService", op)
	}
}

func (c *Client) startStop(op byte, h ServiceHandle, flags byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetDeadline(c.deadline())

	req := make([]byte, 6)
	req[0] = op
	binary.LittleEndian.PutUint32(req[1:5], uint32(h))
	req[5] = flags
	if _, err := c.conn.Write(req); err != nil {
		return err
	}

	reply, err := c.r.ReadByte()
	if err != nil {
		return err
	}
	switch reply {
	case control.RPSSIssued:
		var buf [4]byte
		_, err := io.ReadFull(c.r, buf[:])
		return err
	case control.RPAlreadySS:
		return nil
	case control.RPNak:
		return fmt.Errorf("dinitclient: server rejected request (unknown handle)")
	default:
		return fmt.Errorf("dinitclient: unexpected reply 0x%x", reply)
	}
}

func (c *Client) StartService(h ServiceHandle, pin bool) error {
	var flags byte
	if pin {
		flags |= control.StartFlagPin
	}
	return c.startStop(control.CPStartService, h, flags)
}

func (c *Client) StopService(h ServiceHandle, force bool) error {
	var flags byte
	if force {
		flags |= control.StopFlagForce
	}
	return c.startStop(control.CPStopService, h, flags)
}

func (c *Client) ReleaseService(h ServiceHandle) error {
	return c.ackRequest(control.CPReleaseService, h)
}

func (c *Client) UnpinService(h ServiceHandle) error {
	return c.ackRequest(control.CPUnpinService, h)
}

func (c *Client) ackRequest(op byte, h ServiceHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetDeadline(c.deadline())

	req := make([]byte, 5)
	req[0] = op
	binary.LittleEndian.PutUint32(req[1:], uint32(h))
	if _, err := c.conn.Write(req); err != nil {
		return err
	}
	reply, err := c.r.ReadByte()
	if err != nil {
		return err
	}
	if reply != control.RPAck {
		return fmt.Errorf("dinitclient: unexpected reply 0x%x", reply)
	}
	return nil
}

// Shutdown requests the machine-wide shutdown action kind (see
// graph.ShutdownKind's numeric values).
func (c *Client) Shutdown(kind byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetDeadline(c.deadline())
	if _, err := c.conn.Write([]byte{control.CPShutdown, kind}); err != nil {
		return err
	}
	reply, err := c.r.ReadByte()
	if err != nil {
		return err
	}
	if reply != control.RPAck {
		return fmt.Errorf("dinitclient: unexpected reply 0x%x to Shutdown", reply)
	}
	return nil
}

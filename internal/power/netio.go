package power

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/autopeer-io/boardfarm/internal/pkg/faults"
	"github.com/autopeer-io/boardfarm/pkg/log"
)

// DriverNetio230B speaks the KSHELL line protocol of the Koukaam Netio 230B.
const DriverNetio230B = "netio230b"

const netioDefaultPort = 23

func init() {
	Register(DriverNetio230B, newNetio)
}

func newNetio(cfg Config, logger log.Logger) (Outlet, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("netio230b: address is required")
	}
	if cfg.MaxRestarts < 1 {
		return nil, fmt.Errorf("netio230b: maxRestarts must be at least 1")
	}
	port := cfg.Port
	if port == 0 {
		port = netioDefaultPort
	}
	return &netioOutlet{
		addr:     net.JoinHostPort(cfg.Address, strconv.Itoa(port)),
		username: cfg.Username,
		password: cfg.Password,
		outlets:  cfg.Outlets,
		timeout:  cfg.DialTimeout,
		logger:   logger.WithName("netio"),
	}, nil
}

type netioOutlet struct {
	addr     string
	username string
	password string
	outlets  int
	timeout  time.Duration
	logger   log.Logger

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// portMask builds the "port list" argument: one character per outlet, 1 or
// 0 for the target port and u (unchanged) elsewhere.
func portMask(outlets, port int, on bool) string {
	var b strings.Builder
	for i := 1; i <= outlets; i++ {
		switch {
		case i != port:
			b.WriteByte('u')
		case on:
			b.WriteByte('1')
		default:
			b.WriteByte('0')
		}
	}
	return b.String()
}

func (n *netioOutlet) Set(ctx context.Context, port int, on bool) error {
	if port < 1 || port > n.outlets {
		return faults.Fatalf("netio230b %s: port %d does not exist", n.addr, port)
	}
	cmd := "port list " + portMask(n.outlets, port, on)

	n.mu.Lock()
	defer n.mu.Unlock()

	err := n.exec(ctx, cmd)
	if err != nil {
		// The strip drops idle sessions; try once more on a fresh connection.
		n.logger.Warn("Command failed, reconnecting", "cmd", cmd, "error", err)
		n.closeLocked()
		err = n.exec(ctx, cmd)
	}
	if err != nil {
		n.closeLocked()
		return faults.Fatalf("netio230b %s: %s: %w", n.addr, cmd, err)
	}
	n.logger.Debug("Port set", "port", port, "on", on)
	return nil
}

func (n *netioOutlet) exec(ctx context.Context, cmd string) error {
	if n.conn == nil {
		if err := n.connect(ctx); err != nil {
			return err
		}
	}
	if err := n.conn.SetDeadline(n.deadline(ctx)); err != nil {
		return err
	}
	if err := n.send(cmd); err != nil {
		return err
	}
	_, err := n.expect("250")
	return err
}

func (n *netioOutlet) connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: n.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", n.addr)
	if err != nil {
		return err
	}
	n.conn = conn
	n.r = bufio.NewReader(conn)

	if err := conn.SetDeadline(n.deadline(ctx)); err != nil {
		return err
	}
	if _, err := n.expect("100"); err != nil {
		return fmt.Errorf("greeting: %w", err)
	}
	if err := n.send(fmt.Sprintf("login %s %s", n.username, n.password)); err != nil {
		return err
	}
	if _, err := n.expect("250"); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	n.logger.Info("Connected", "addr", n.addr)
	return nil
}

func (n *netioOutlet) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(n.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		return dl
	}
	return d
}

func (n *netioOutlet) send(line string) error {
	_, err := n.conn.Write([]byte(line + "\n"))
	return err
}

// expect reads one reply line and checks its status code.
func (n *netioOutlet) expect(code string) (string, error) {
	line, err := n.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, code) {
		return line, fmt.Errorf("unexpected reply %q, want %s", line, code)
	}
	return line, nil
}

func (n *netioOutlet) closeLocked() {
	if n.conn == nil {
		return
	}
	_ = n.conn.Close()
	n.conn = nil
	n.r = nil
}

func (n *netioOutlet) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn != nil {
		_ = n.send("quit")
	}
	n.closeLocked()
	return nil
}

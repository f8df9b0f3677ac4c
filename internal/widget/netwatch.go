package widget

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/archiegate/guardian/internal/config"
	"github.com/archiegate/guardian/internal/model"
)

// connection is one established TCP connection as seen in /proc/net/tcp.
type connection struct {
	Local  string
	Remote string
}

// networkSniffer polls the kernel connection table and reports remote
// endpoints it has not seen before.
type networkSniffer struct {
	interval time.Duration
	snapshot func() ([]connection, error)

	mu     sync.Mutex
	events chan model.Event
	cancel context.CancelFunc
}

func newNetworkSniffer(cfg config.Widgets) (Widget, error) {
	interval := cfg.PollInterval.Std()
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &networkSniffer{
		interval: interval,
		snapshot: procNetSnapshot,
		events:   make(chan model.Event, 64),
	}, nil
}

func (w *networkSniffer) Name() string { return model.SourceNetworkSniffer }

func (w *networkSniffer) Events() <-chan model.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.events
}

// Start begins polling on a fresh event channel, so a stopped widget can be
// enabled again. The run goroutine owns and closes the channel it was given.
func (w *networkSniffer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	events := make(chan model.Event, 64)

	w.mu.Lock()
	w.cancel = cancel
	w.events = events
	w.mu.Unlock()

	go w.run(ctx, events)
	return nil
}

func (w *networkSniffer) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (w *networkSniffer) run(ctx context.Context, events chan<- model.Event) {
	defer close(events)

	seen := make(map[string]bool)
	if conns, err := w.snapshot(); err == nil {
		for _, c := range conns {
			seen[c.Remote] = true
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conns, err := w.snapshot()
			if err != nil {
				fmt.Fprintf(os.Stderr, "guardian: network_sniffer: %v\n", err)
				continue
			}
			for _, c := range conns {
				if seen[c.Remote] {
					continue
				}
				seen[c.Remote] = true
				ev := model.NewEvent(model.SourceNetworkSniffer, "outbound_connection", map[string]string{
					"remote_address": c.Remote,
					"local_address":  c.Local,
				})
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// procNetSnapshot reads established connections from /proc/net/tcp.
func procNetSnapshot() ([]connection, error) {
	f, err := os.Open("/proc/net/tcp")
	if err != nil {
		return nil, fmt.Errorf("read /proc/net/tcp: %w", err)
	}
	defer f.Close()
	return parseProcNetTCP(f)
}

// tcpEstablished is the st column value for an established connection.
const tcpEstablished = "01"

// parseProcNetTCP extracts established connections from the kernel's
// hex-encoded table format.
func parseProcNetTCP(r io.Reader) ([]connection, error) {
	var conns []connection
	scanner := bufio.NewScanner(r)
	scanner.Scan() // header

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[3] != tcpEstablished {
			continue
		}
		local, err := parseHexAddr(fields[1])
		if err != nil {
			continue
		}
		remote, err := parseHexAddr(fields[2])
		if err != nil {
			continue
		}
		conns = append(conns, connection{Local: local, Remote: remote})
	}
	return conns, scanner.Err()
}

// parseHexAddr decodes the kernel's "0100007F:0050" form: little-endian
// hex IPv4 followed by a big-endian hex port.
func parseHexAddr(s string) (string, error) {
	host, portHex, ok := strings.Cut(s, ":")
	if !ok {
		return "", fmt.Errorf("malformed address %q", s)
	}

	raw, err := hex.DecodeString(host)
	if err != nil || len(raw) != 4 {
		return "", fmt.Errorf("malformed host %q", host)
	}
	ip := net.IPv4(raw[3], raw[2], raw[1], raw[0])

	port, err := strconv.ParseUint(portHex, 16, 16)
	if err != nil {
		return "", fmt.Errorf("malformed port %q", portHex)
	}
	return fmt.Sprintf("%s:%d", ip, port), nil
}

package core

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultPortRangeStart is the first loopback port handed to engines.
	DefaultPortRangeStart = 30000
	// DefaultPortRangeEnd is the last loopback port handed to engines.
	DefaultPortRangeEnd = 40000
)

// ErrPortsExhausted is returned when the range has no free ports left.
var ErrPortsExhausted = errors.New("port range exhausted")

// PortAllocator hands out loopback ports to concurrently running engines.
// A port stays claimed until it is released, so two live engines never
// share a port even when their scan offsets collide.
type PortAllocator struct {
	rangeStart int
	rangeEnd   int
	bindable   func(port int) bool

	mu      sync.Mutex
	claimed map[int]struct{}
}

// NewPortAllocator creates an allocator over [start, end]. Invalid bounds
// fall back to the default range.
func NewPortAllocator(start, end int) *PortAllocator {
	if start <= 0 || start > 65535 {
		start = DefaultPortRangeStart
	}
	if end <= start || end > 65535 {
		end = DefaultPortRangeEnd
		if end <= start {
			end = 65535
		}
	}
	return &PortAllocator{
		rangeStart: start,
		rangeEnd:   end,
		bindable:   isPortBindable,
		claimed:    make(map[int]struct{}),
	}
}

// Claim reserves n distinct ports. Scanning starts at an offset derived from
// seed and wraps around the range once.
func (a *PortAllocator) Claim(seed uint64, n int) ([]int, error) {
	if n <= 0 {
		return nil, nil
	}
	span := a.rangeEnd - a.rangeStart + 1

	a.mu.Lock()
	defer a.mu.Unlock()

	if span-len(a.claimed) < n {
		return nil, fmt.Errorf("claim %d ports: %w", n, ErrPortsExhausted)
	}

	offset := int(seed % uint64(span))
	ports := make([]int, 0, n)
	for i := 0; i < span && len(ports) < n; i++ {
		port := a.rangeStart + (offset+i)%span
		if _, taken := a.claimed[port]; taken {
			continue
		}
		if !a.bindable(port) {
			continue
		}
		a.claimed[port] = struct{}{}
		ports = append(ports, port)
	}
	if len(ports) < n {
		for _, port := range ports {
			delete(a.claimed, port)
		}
		return nil, fmt.Errorf("claim %d ports: %w", n, ErrPortsExhausted)
	}
	return ports, nil
}

// Release returns ports to the pool. Unknown ports are ignored.
func (a *PortAllocator) Release(ports ...int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, port := range ports {
		delete(a.claimed, port)
	}
}

// InUse reports how many ports are currently claimed.
func (a *PortAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.claimed)
}

// Range returns the configured bounds.
func (a *PortAllocator) Range() (int, int) {
	return a.rangeStart, a.rangeEnd
}

// PortSeed hashes the identity of an attempt into a scan offset seed.
func PortSeed(fingerprint string, worker, attempt int) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(fingerprint)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.Itoa(worker))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.Itoa(attempt))
	return d.Sum64()
}

func isPortBindable(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

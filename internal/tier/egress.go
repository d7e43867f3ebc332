package tier

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionPlaceholder in a proxy URL is replaced with a fresh id on every acquire,
// which makes rotating residential gateways hand out a new exit address.
const SessionPlaceholder = "{session}"

var ErrNoEgress = errors.New("no egress identities configured")

// Egress is one acquired proxy identity.
type Egress struct {
	URL     string
	Session string
	slot    int
}

type EgressOptions struct {
	MaxFailures int
	Cooldown    time.Duration
	Now         func() time.Time
}

// EgressPool hands out proxy identities round-robin to all workers. A slot that
// keeps failing is benched for a cooldown.
type EgressPool struct {
	mu          sync.Mutex
	proxies     []string
	next        int
	failures    []int
	benched     []time.Time
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
}

func NewEgressPool(proxies []string, opts EgressOptions) *EgressPool {
	list := NormalizeProxyList(proxies)
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 3
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 2 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &EgressPool{
		proxies:     list,
		failures:    make([]int, len(list)),
		benched:     make([]time.Time, len(list)),
		maxFailures: opts.MaxFailures,
		cooldown:    opts.Cooldown,
		now:         opts.Now,
	}
}

func NormalizeProxyList(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, p := range raw {
		v := strings.TrimSpace(p)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func (p *EgressPool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.proxies)
}

// Acquire returns the next usable identity. When every slot is benched the one
// whose cooldown ends first is used anyway.
func (p *EgressPool) Acquire() (Egress, error) {
	if p.Len() == 0 {
		return Egress{}, ErrNoEgress
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	slot := -1
	for i := 0; i < len(p.proxies); i++ {
		idx := (p.next + i) % len(p.proxies)
		if !now.Before(p.benched[idx]) {
			slot = idx
			break
		}
	}
	if slot < 0 {
		slot = 0
		for i := range p.benched {
			if p.benched[i].Before(p.benched[slot]) {
				slot = i
			}
		}
	}
	p.next = (slot + 1) % len(p.proxies)

	session := ""
	url := p.proxies[slot]
	if strings.Contains(url, SessionPlaceholder) {
		session = strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		url = strings.ReplaceAll(url, SessionPlaceholder, session)
	}
	return Egress{URL: url, Session: session, slot: slot}, nil
}

// Report records whether an acquired identity worked.
func (p *EgressPool) Report(e Egress, ok bool) {
	if p.Len() == 0 || e.slot < 0 || e.slot >= len(p.proxies) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if ok {
		p.failures[e.slot] = 0
		return
	}
	p.failures[e.slot]++
	if p.failures[e.slot] >= p.maxFailures {
		p.benched[e.slot] = p.now().Add(p.cooldown)
		p.failures[e.slot] = 0
	}
}

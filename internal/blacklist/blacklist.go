// Package blacklist holds the in-memory CIDR range blacklist consulted at
// stage 0 of every request. Lookups are O(log n) over a sorted interval
// table; mutations come from the decision engine (auto-widening on BOT
// verdicts) and from operators (import/remove/clear).
package blacklist

import (
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ignite/cloak-gateway/internal/domain"
)

// AddedBy values for an entry's provenance.
const (
	AddedAuto   = "auto"
	AddedAdmin  = "admin"
	AddedImport = "import"
)

// Entry is one blacklisted IPv4 range plus conviction metadata.
type Entry struct {
	CIDR      string    `json:"cidr"`
	OriginIP  string    `json:"origin_ip,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	UsageType string    `json:"usage_type,omitempty"`
	Country   string    `json:"country,omitempty"`
	ISP       string    `json:"isp,omitempty"`
	IPCount   uint64    `json:"ip_count"`
	HitCount  int64     `json:"hit_count"`
	LastHit   time.Time `json:"last_hit,omitempty"`
	AddedBy   string    `json:"added_by"`
	AddedAt   time.Time `json:"added_at"`

	start uint32
	end   uint32
}

// Stats aggregates table-level counters, serialized alongside the ranges.
type Stats struct {
	TotalRanges   int       `json:"total_ranges"`
	TotalIPs      uint64    `json:"total_ips"`
	TotalHits     int64     `json:"total_hits"`
	AutoAdded     int       `json:"auto_added"`
	ImportedAdded int       `json:"imported_added"`
	LastChange    time.Time `json:"last_change,omitempty"`
}

// List is the blacklist table. Safe for concurrent use. Contains takes
// the write lock because every lookup bumps per-range hit counters.
type List struct {
	mu      sync.RWMutex
	entries []*Entry // sorted by start
	byCIDR  map[string]*Entry
	maxSpan uint32 // widest range span, bounds the backward scan
	stats   Stats

	saver *saver
}

// New creates an empty blacklist persisted to path. If path is "" the
// table is memory-only (tests).
func New(path string) *List {
	l := &List{byCIDR: make(map[string]*Entry)}
	if path != "" {
		l.saver = newSaver(path, l.snapshot)
	}
	return l
}

// PrefixForUsageType implements the auto-widening rule: datacenter-class
// space is blocked at /24, consumer space and unknowns at /32.
func PrefixForUsageType(usageType string) int {
	switch strings.ToUpper(usageType) {
	case "DCH", "SES", "RSV", "CDN":
		return 24
	default:
		return 32
	}
}

func ipToUint32(ip string) (uint32, bool) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return 0, false
	}
	v4 := parsed.To4()
	if v4 == nil {
		return 0, false
	}
	return binary.BigEndian.Uint32(v4), true
}

// Contains returns the first matching entry for ip, bumping its hit
// counter and last-hit time. The bool result is the membership verdict.
func (l *List) Contains(ip string) (*Entry, bool) {
	val, ok := ipToUint32(ip)
	if !ok {
		return nil, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.find(val)
	if e == nil {
		return nil, false
	}

	e.HitCount++
	e.LastHit = time.Now().UTC()
	l.stats.TotalHits++

	// Hit counters change on every request; saving each one would
	// thrash the disk, so persist only every 10th hit per entry.
	if l.saver != nil && e.HitCount%10 == 0 {
		l.saver.markDirty()
	}

	cp := *e
	return &cp, true
}

// find locates an entry containing val. Entries are sorted by range
// start; maxSpan bounds how far back an enclosing range can begin.
func (l *List) find(val uint32) *Entry {
	n := len(l.entries)
	if n == 0 {
		return nil
	}
	// First index with start > val.
	idx := sort.Search(n, func(i int) bool { return l.entries[i].start > val })
	for i := idx - 1; i >= 0; i-- {
		e := l.entries[i]
		if val-e.start > l.maxSpan {
			break
		}
		if val <= e.end {
			return e
		}
	}
	return nil
}

// Add inserts the auto-widened range for a convicted IP. Returns the
// canonical CIDR and whether a new row was created (false when the IP is
// already covered by an identical CIDR).
func (l *List) Add(ip string, v domain.Verdict) (string, bool) {
	prefix := PrefixForUsageType(v.UsageType)
	return l.insert(ip, prefix, Entry{
		OriginIP:  ip,
		Reason:    v.Reason,
		UsageType: strings.ToUpper(v.UsageType),
		Country:   v.Country,
		ISP:       v.ISP,
		AddedBy:   AddedAuto,
	})
}

// AddCIDR inserts an explicit CIDR (operator import). Invalid CIDRs are
// rejected with an error.
func (l *List) AddCIDR(cidr, reason, addedBy string) (bool, error) {
	ip, ipnet, err := net.ParseCIDR(strings.TrimSpace(cidr))
	if err != nil {
		return false, fmt.Errorf("parse cidr %q: %w", cidr, err)
	}
	if ip.To4() == nil {
		return false, fmt.Errorf("cidr %q: only IPv4 ranges are supported", cidr)
	}
	prefix, _ := ipnet.Mask.Size()
	added := false
	_, added = l.insert(ipnet.IP.String(), prefix, Entry{
		Reason:  reason,
		AddedBy: addedBy,
	})
	return added, nil
}

func (l *List) insert(ip string, prefix int, meta Entry) (string, bool) {
	val, ok := ipToUint32(ip)
	if !ok {
		return "", false
	}

	span := uint32(0)
	if prefix < 32 {
		span = (uint32(1) << (32 - prefix)) - 1
	}
	start := val &^ span
	end := start | span

	network := make(net.IP, 4)
	binary.BigEndian.PutUint32(network, start)
	cidr := fmt.Sprintf("%s/%d", network.String(), prefix)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byCIDR[cidr]; exists {
		return cidr, false
	}

	e := &Entry{
		CIDR:      cidr,
		OriginIP:  meta.OriginIP,
		Reason:    meta.Reason,
		UsageType: meta.UsageType,
		Country:   meta.Country,
		ISP:       meta.ISP,
		IPCount:   uint64(span) + 1,
		AddedBy:   meta.AddedBy,
		AddedAt:   time.Now().UTC(),
		start:     start,
		end:       end,
	}

	idx := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].start >= start })
	l.entries = append(l.entries, nil)
	copy(l.entries[idx+1:], l.entries[idx:])
	l.entries[idx] = e
	l.byCIDR[cidr] = e
	if span > l.maxSpan {
		l.maxSpan = span
	}

	l.stats.TotalRanges = len(l.entries)
	l.stats.TotalIPs += e.IPCount
	l.stats.LastChange = e.AddedAt
	switch e.AddedBy {
	case AddedAuto:
		l.stats.AutoAdded++
	case AddedImport:
		l.stats.ImportedAdded++
	}

	if l.saver != nil {
		l.saver.markDirty()
	}
	return cidr, true
}

// Remove deletes a range by its canonical CIDR string.
func (l *List) Remove(cidr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byCIDR[cidr]
	if !ok {
		return false
	}
	delete(l.byCIDR, cidr)
	for i, cand := range l.entries {
		if cand == e {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			break
		}
	}
	l.stats.TotalRanges = len(l.entries)
	l.stats.TotalIPs -= e.IPCount
	l.stats.LastChange = time.Now().UTC()
	if l.saver != nil {
		l.saver.markDirty()
	}
	return true
}

// Clear empties the table.
func (l *List) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.byCIDR = make(map[string]*Entry)
	l.maxSpan = 0
	l.stats = Stats{LastChange: time.Now().UTC()}
	if l.saver != nil {
		l.saver.markDirty()
	}
}

// Import bulk-adds CIDRs, returning how many were new. Malformed lines
// are skipped.
func (l *List) Import(cidrs []string) int {
	added := 0
	for _, c := range cidrs {
		if c = strings.TrimSpace(c); c == "" || strings.HasPrefix(c, "#") {
			continue
		}
		ok, err := l.AddCIDR(c, "imported", AddedImport)
		if err != nil {
			continue
		}
		if ok {
			added++
		}
	}
	return added
}

// List returns a snapshot of all entries sorted by range start.
func (l *List) List() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	return out
}

// Len returns the number of ranges.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Stats returns a copy of the aggregate counters.
func (l *List) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.stats
	s.TotalRanges = len(l.entries)
	return s
}

// Close flushes a pending snapshot and stops the background saver.
func (l *List) Close() {
	if l.saver != nil {
		l.saver.close()
	}
}

package blacklist

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ignite/cloak-gateway/internal/pkg/logger"
)

// saveDebounce batches rapid mutations into one disk write.
const saveDebounce = 2 * time.Second

// fileDoc is the on-disk snapshot: every range plus aggregate stats in a
// single JSON document. Writes go through a temp file + rename so a
// crash mid-write never truncates the table.
type fileDoc struct {
	Ranges []Entry `json:"ranges"`
	Stats  Stats   `json:"stats"`
}

type saver struct {
	path string
	snap func() fileDoc

	mu    sync.Mutex
	timer *time.Timer
	stop  chan struct{}
	done  chan struct{}
	dirty bool
}

func newSaver(path string, snap func() fileDoc) *saver {
	s := &saver{
		path: path,
		snap: snap,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.timer = time.NewTimer(saveDebounce)
	if !s.timer.Stop() {
		<-s.timer.C
	}
	go s.run()
	return s
}

func (s *saver) markDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		s.dirty = true
		s.timer.Reset(saveDebounce)
	}
}

func (s *saver) run() {
	defer close(s.done)
	for {
		select {
		case <-s.timer.C:
			s.flush()
		case <-s.stop:
			s.flush()
			return
		}
	}
}

func (s *saver) flush() {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	s.dirty = false
	s.mu.Unlock()

	if err := writeSnapshot(s.path, s.snap()); err != nil {
		logger.Error("blacklist snapshot failed", "path", s.path, "err", err.Error())
	}
}

func (s *saver) close() {
	close(s.stop)
	<-s.done
}

func writeSnapshot(path string, doc fileDoc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal blacklist: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func (l *List) snapshot() fileDoc {
	l.mu.RLock()
	defer l.mu.RUnlock()
	doc := fileDoc{Stats: l.stats}
	doc.Stats.TotalRanges = len(l.entries)
	doc.Ranges = make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		doc.Ranges = append(doc.Ranges, *e)
	}
	return doc
}

// Load reads the snapshot at path into a new List. A missing file yields
// an empty table; a corrupt file is an error so operators notice.
func Load(path string) (*List, error) {
	l := New(path)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Info("blacklist file missing, starting empty", "path", path)
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read blacklist %s: %w", path, err)
	}

	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse blacklist %s: %w", path, err)
	}

	l.mu.Lock()
	for i := range doc.Ranges {
		e := doc.Ranges[i]
		ip, ipnet, err := net.ParseCIDR(e.CIDR)
		if err != nil || ip.To4() == nil {
			logger.Warn("skipping malformed blacklist row", "cidr", e.CIDR)
			continue
		}
		prefix, _ := ipnet.Mask.Size()
		start, _ := ipToUint32(ipnet.IP.String())
		span := uint32(0)
		if prefix < 32 {
			span = (uint32(1) << (32 - prefix)) - 1
		}
		e.start = start
		e.end = start | span
		if e.IPCount == 0 {
			e.IPCount = uint64(span) + 1
		}
		if span > l.maxSpan {
			l.maxSpan = span
		}
		cp := e
		l.entries = append(l.entries, &cp)
		l.byCIDR[e.CIDR] = &cp
	}
	sort.Slice(l.entries, func(i, j int) bool { return l.entries[i].start < l.entries[j].start })
	l.stats = doc.Stats
	l.stats.TotalRanges = len(l.entries)
	l.mu.Unlock()

	logger.Info("blacklist loaded", "path", path, "ranges", len(doc.Ranges))
	return l, nil
}

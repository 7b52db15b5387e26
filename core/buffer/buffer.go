package buffer

import (
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"lms-zabbix-sync/core/event"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used when none is configured.
const DefaultShards = 16

// Partition maps a device ID onto one of n partitions. The buffer shards and the
// orchestrator's workers use the same function, so a device is always handled by
// one worker and guarded by one shard lock.
func Partition(deviceID int64, n int) int {
	if n <= 1 {
		return 0
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(deviceID))
	return int(xxhash.Sum64(b[:]) % uint64(n))
}

type shard struct {
	mu      sync.Mutex
	records map[int64]*PendingRecord
}

// Buffer holds partially assembled device records until they are complete.
// It is safe for concurrent use; operations on one device are serialized by
// the lock of the shard that owns it.
type Buffer struct {
	required []event.Field
	defaults event.DeviceFields
	shards   []*shard
	now      func() time.Time
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithShards sets the number of lock shards.
func WithShards(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.shards = make([]*shard, n)
		}
	}
}

// WithDefaults seeds every new record with the given device fields,
// e.g. the configured host group and templates.
func WithDefaults(d event.DeviceFields) Option {
	return func(b *Buffer) {
		b.defaults = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a buffer that considers a record complete once every field in
// required is present.
func New(required []event.Field, opts ...Option) *Buffer {
	b := &Buffer{
		required: append([]event.Field(nil), required...),
		shards:   make([]*shard, DefaultShards),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	for i := range b.shards {
		b.shards[i] = &shard{records: make(map[int64]*PendingRecord)}
	}
	return b
}

// Required returns the required field set.
func (b *Buffer) Required() []event.Field {
	return append([]event.Field(nil), b.required...)
}

func (b *Buffer) shardFor(deviceID int64) *shard {
	return b.shards[Partition(deviceID, len(b.shards))]
}

// Merge feeds one event into the buffer.
func (b *Buffer) Merge(ev event.ChangeEvent) Result {
	s := b.shardFor(ev.DeviceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case event.KindDeviceDelete:
		prior := s.records[ev.DeviceID]
		delete(s.records, ev.DeviceID)
		return Result{Status: Deleted, DeviceID: ev.DeviceID, Record: prior}

	case event.KindNodeDelete:
		rec, ok := s.records[ev.DeviceID]
		if !ok {
			return Result{Status: Incomplete, DeviceID: ev.DeviceID, Missing: b.Required()}
		}
		rec.Node = rec.Node.WithoutNode(ev.NodeID)
		rec.LastUpdated = b.now()
		return Result{Status: Incomplete, DeviceID: ev.DeviceID, Missing: rec.Missing(b.required)}
	}

	if ev.Empty() {
		if _, ok := s.records[ev.DeviceID]; !ok {
			return Result{Status: Incomplete, DeviceID: ev.DeviceID, Missing: b.Required()}
		}
	}

	rec := b.lookupOrCreate(s, ev.DeviceID)
	rec.Device = rec.Device.Merge(ev.Device)
	rec.Node = rec.Node.Merge(ev.Node)
	if ev.Replace {
		rec.Replace = true
	}
	rec.LastUpdated = b.now()

	return b.settle(s, rec)
}

// Backfill fills the absent fields of a pending record from known monitoring
// state. Fields already buffered are never overwritten. Without a pending
// record for the device nothing happens and the result is Incomplete.
func (b *Buffer) Backfill(deviceID int64, device event.DeviceFields, node event.NodeFields) Result {
	s := b.shardFor(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[deviceID]
	if !ok {
		return Result{Status: Incomplete, DeviceID: deviceID, Missing: b.Required()}
	}
	rec.Device = rec.Device.Fill(device)
	rec.Node = rec.Node.Fill(node)
	rec.LastUpdated = b.now()

	return b.settle(s, rec)
}

// Restore puts a record back into the buffer, merging it under anything that
// arrived in the meantime. Newer buffered fields win.
func (b *Buffer) Restore(r PendingRecord) {
	s := b.shardFor(r.DeviceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	restored := r
	if current, ok := s.records[r.DeviceID]; ok {
		restored.Device = r.Device.Merge(current.Device)
		restored.Node = r.Node.Merge(current.Node)
		restored.Replace = r.Replace || current.Replace
	}
	restored.LastUpdated = b.now()
	s.records[r.DeviceID] = &restored
}

// EvictStale removes records not updated within maxAge and returns their
// device IDs in ascending order.
func (b *Buffer) EvictStale(maxAge time.Duration) []int64 {
	cutoff := b.now().Add(-maxAge)
	var evicted []int64
	for _, s := range b.shards {
		s.mu.Lock()
		for id, rec := range s.records {
			if rec.LastUpdated.Before(cutoff) {
				delete(s.records, id)
				evicted = append(evicted, id)
			}
		}
		s.mu.Unlock()
	}
	sort.Slice(evicted, func(i, j int) bool { return evicted[i] < evicted[j] })
	return evicted
}

// Get returns a copy of the pending record for a device.
func (b *Buffer) Get(deviceID int64) (PendingRecord, bool) {
	s := b.shardFor(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[deviceID]
	if !ok {
		return PendingRecord{}, false
	}
	return *rec, true
}

// Len returns the number of pending records.
func (b *Buffer) Len() int {
	n := 0
	for _, s := range b.shards {
		s.mu.Lock()
		n += len(s.records)
		s.mu.Unlock()
	}
	return n
}

// Snapshot reports the buffer size, per-shard counts and the age of the oldest record.
func (b *Buffer) Snapshot() Snapshot {
	now := b.now()
	snap := Snapshot{Shards: make([]int, len(b.shards))}
	for i, s := range b.shards {
		s.mu.Lock()
		snap.Shards[i] = len(s.records)
		snap.Pending += len(s.records)
		for _, rec := range s.records {
			if age := now.Sub(rec.LastUpdated); age > snap.Oldest {
				snap.Oldest = age
			}
		}
		s.mu.Unlock()
	}
	return snap
}

func (b *Buffer) lookupOrCreate(s *shard, deviceID int64) *PendingRecord {
	if rec, ok := s.records[deviceID]; ok {
		return rec
	}
	rec := &PendingRecord{
		DeviceID: deviceID,
		Device:   event.DeviceFields{}.Merge(b.defaults),
	}
	s.records[deviceID] = rec
	return rec
}

// settle hands a complete record off; the caller holds the shard lock.
func (b *Buffer) settle(s *shard, rec *PendingRecord) Result {
	if missing := rec.Missing(b.required); len(missing) > 0 {
		return Result{Status: Incomplete, DeviceID: rec.DeviceID, Missing: missing}
	}
	delete(s.records, rec.DeviceID)
	out := *rec
	return Result{Status: Completed, DeviceID: rec.DeviceID, Record: &out}
}

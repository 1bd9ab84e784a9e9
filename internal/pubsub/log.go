package pubsub

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Record is a message retained by the broker at a fixed position.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       string
	Value     []byte
	Timestamp time.Time
}

// TopicInfo summarizes a retained topic.
type TopicInfo struct {
	Name       string
	Partitions int
	Records    int
}

// topicLog holds the retained tail of a single-partition topic. records[i]
// has offset base+i.
type topicLog struct {
	base    int64
	records []Record
}

// RecordLog retains recently published records per topic and tracks
// consumer-group positions over them, so readers can catch up on what they
// missed. Every topic has a single partition, numbered 0.
type RecordLog struct {
	mu        sync.RWMutex
	retention int
	topics    map[string]*topicLog
	groups    map[string]map[string]int64 // group -> topic -> next offset
}

// NewRecordLog creates a log retaining at most retention records per topic.
// A retention of zero or less keeps everything.
func NewRecordLog(retention int) *RecordLog {
	return &RecordLog{
		retention: retention,
		topics:    make(map[string]*topicLog),
		groups:    make(map[string]map[string]int64),
	}
}

// Append assigns the next offset in topic to value and retains it.
func (l *RecordLog) Append(topic, key string, value []byte, ts time.Time) Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	tl, ok := l.topics[topic]
	if !ok {
		tl = &topicLog{}
		l.topics[topic] = tl
	}

	rec := Record{
		Topic:     topic,
		Partition: 0,
		Offset:    tl.base + int64(len(tl.records)),
		Key:       key,
		Value:     value,
		Timestamp: ts,
	}
	tl.records = append(tl.records, rec)

	if l.retention > 0 && len(tl.records) > l.retention {
		drop := len(tl.records) - l.retention
		tl.records = append([]Record(nil), tl.records[drop:]...)
		tl.base += int64(drop)
	}
	return rec
}

// Read returns up to max retained records of topic starting at offset from.
// Offsets older than the retained tail start at the oldest retained record.
func (l *RecordLog) Read(topic string, from int64, max int) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tl, ok := l.topics[topic]
	if !ok {
		return nil
	}
	start := from - tl.base
	if start < 0 {
		start = 0
	}
	if start >= int64(len(tl.records)) {
		return nil
	}
	end := int64(len(tl.records))
	if max > 0 && start+int64(max) < end {
		end = start + int64(max)
	}
	out := make([]Record, end-start)
	copy(out, tl.records[start:end])
	return out
}

// Tail returns the last n retained records of topic, oldest first.
func (l *RecordLog) Tail(topic string, n int) []Record {
	l.mu.RLock()
	tl, ok := l.topics[topic]
	if !ok {
		l.mu.RUnlock()
		return nil
	}
	next := tl.base + int64(len(tl.records))
	l.mu.RUnlock()

	from := next - int64(n)
	return l.Read(topic, from, n)
}

// Committed returns the next offset group will read from topic. Groups
// with no position start at the earliest offset.
func (l *RecordLog) Committed(group, topic string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.groups[group][topic]
}

// Commit stores next as the position of group in topic.
func (l *RecordLog) Commit(group, topic string, next int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.groups[group]; !ok {
		l.groups[group] = make(map[string]int64)
	}
	l.groups[group][topic] = next
}

// Topics lists retained topics by name, hiding internal "__" topics.
func (l *RecordLog) Topics() []TopicInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]TopicInfo, 0, len(l.topics))
	for name, tl := range l.topics {
		if strings.HasPrefix(name, "__") {
			continue
		}
		out = append(out, TopicInfo{Name: name, Partitions: 1, Records: len(tl.records)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

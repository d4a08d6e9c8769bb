package kafka

import (
	"sync"

	"github.com/segmentio/kafka-go"
)

// commitTracker turns out-of-order settlements into in-order commits. A
// partition's offset is committed only once it and every offset fetched
// before it are settled.
type commitTracker struct {
	mu         sync.Mutex
	partitions map[int]*partitionState
}

type partitionState struct {
	inflight []kafka.Message
	settled  map[int64]bool
}

func newCommitTracker() *commitTracker {
	return &commitTracker{partitions: make(map[int]*partitionState)}
}

// track records a fetched message
func (t *commitTracker) track(msg kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.partitions[msg.Partition]
	if !ok {
		p = &partitionState{settled: make(map[int64]bool)}
		t.partitions[msg.Partition] = p
	}
	p.inflight = append(p.inflight, msg)
}

// settle marks msg done and returns the message to commit, if the
// contiguous settled prefix of its partition advanced
func (t *commitTracker) settle(msg kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.partitions[msg.Partition]
	if !ok {
		return kafka.Message{}, false
	}
	p.settled[msg.Offset] = true

	var last kafka.Message
	advanced := false
	for len(p.inflight) > 0 && p.settled[p.inflight[0].Offset] {
		last = p.inflight[0]
		delete(p.settled, last.Offset)
		p.inflight = p.inflight[1:]
		advanced = true
	}
	return last, advanced
}

// pending returns how many fetched messages of partition are not committed
func (t *commitTracker) pending(partition int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.partitions[partition]; ok {
		return len(p.inflight)
	}
	return 0
}

package live

import (
	"context"
	"log"
	"sync"

	"fournil/backend/internal/domain"
)

type subscriber struct {
	from string
	to   string
	ch   chan domain.ProductionProgram
}

// MemoryBroker delivers snapshots within one process. A subscriber that falls
// behind loses snapshots rather than blocking publishers.
type MemoryBroker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[int]*subscriber)}
}

func (b *MemoryBroker) Publish(_ context.Context, program domain.ProductionProgram) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		if !inRange(program.Date, sub.from, sub.to) {
			continue
		}
		select {
		case sub.ch <- program.Clone():
		default:
			log.Printf("[live] WARN: subscriber %d is behind, dropped program date=%s revision=%d", id, program.Date, program.Revision)
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, from string, to string) (<-chan domain.ProductionProgram, error) {
	sub := &subscriber{from: from, to: to, ch: make(chan domain.ProductionProgram, subscriberBuffer)}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(sub.ch)
		b.mu.Unlock()
	}()
	return sub.ch, nil
}

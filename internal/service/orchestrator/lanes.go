package orchestrator

import (
	"context"
	"sync"
)

// lanes serialize requests per conversation. A request holds its lane from the
// moment it starts until its post-response enrichment has finished, so the next
// request on the same conversation always observes the previous one's writes.
// Different conversations never wait for each other.
type lanes struct {
	mu   sync.Mutex
	tail map[string]chan struct{}
}

func newLanes() *lanes {
	return &lanes{tail: make(map[string]chan struct{})}
}

// acquire waits for the previous holder of key and returns the release func.
// If ctx ends first the request gives up its place without breaking the chain.
func (l *lanes) acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	prev := l.tail[key]
	mine := make(chan struct{})
	l.tail[key] = mine
	l.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			if l.tail[key] == mine {
				delete(l.tail, key)
			}
			l.mu.Unlock()
			close(mine)
		})
	}

	if prev == nil {
		return release, nil
	}

	select {
	case <-prev:
		return release, nil
	case <-ctx.Done():
		go func() {
			<-prev
			release()
		}()
		return nil, ctx.Err()
	}
}

// Package events carries "this slice changed" notifications between writers
// and the sessions that mirror store state.
package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type Slice string

const (
	SliceCatalog  Slice = "catalog"
	SliceRate     Slice = "rate"
	SliceLedger   Slice = "ledger"
	SliceClosings Slice = "closings"
)

var AllSlices = []Slice{SliceCatalog, SliceRate, SliceLedger, SliceClosings}

type Change struct {
	OperatorID string `json:"operator_id"`
	Slice      Slice  `json:"slice"`
}

// Bus delivers changes per operator. Subscriptions end when ctx is done and
// the returned channel is then closed.
type Bus interface {
	Publish(ctx context.Context, change Change) error
	Subscribe(ctx context.Context, operatorID string) (<-chan Change, error)
}

const subscriberBuffer = 64

// LocalBus fans changes out inside one process.
type LocalBus struct {
	mu   sync.Mutex
	subs map[string]map[chan Change]struct{}
	log  zerolog.Logger
}

func NewLocalBus(logger zerolog.Logger) *LocalBus {
	return &LocalBus{
		subs: make(map[string]map[chan Change]struct{}),
		log:  logger.With().Str("component", "events").Logger(),
	}
}

func (b *LocalBus) Publish(_ context.Context, change Change) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[change.OperatorID] {
		select {
		case ch <- change:
		default:
			b.log.Warn().Str("operator_id", change.OperatorID).Str("slice", string(change.Slice)).Msg("subscriber full, change dropped")
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, operatorID string) (<-chan Change, error) {
	ch := make(chan Change, subscriberBuffer)

	b.mu.Lock()
	if b.subs[operatorID] == nil {
		b.subs[operatorID] = make(map[chan Change]struct{})
	}
	b.subs[operatorID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[operatorID], ch)
		if len(b.subs[operatorID]) == 0 {
			delete(b.subs, operatorID)
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

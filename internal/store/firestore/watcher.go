package firestore

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/r3xsaler/Mi-tienda-pos/internal/events"
)

var _ events.Bus = (*Store)(nil)

// Publish is a no-op: every write already reaches the snapshot listeners.
func (s *Store) Publish(context.Context, events.Change) error {
	return nil
}

// Subscribe opens one snapshot listener per slice. Each snapshot, including
// the initial one, becomes a Change. The channel closes once ctx is done.
func (s *Store) Subscribe(ctx context.Context, operatorID string) (<-chan events.Change, error) {
	out := make(chan events.Change, 16)
	var wg sync.WaitGroup

	listen := func(slice events.Slice, next func() error) {
		defer wg.Done()
		for {
			if err := next(); err != nil {
				if ctx.Err() == nil && status.Code(err) != codes.Canceled {
					s.log.Warn().Err(err).Str("operator_id", operatorID).Str("slice", string(slice)).Msg("snapshot listener stopped")
				}
				return
			}
			select {
			case out <- events.Change{OperatorID: operatorID, Slice: slice}:
			case <-ctx.Done():
				return
			}
		}
	}

	collections := map[events.Slice]string{
		events.SliceCatalog:  inventoryCollection,
		events.SliceLedger:   salesCollection,
		events.SliceClosings: closingsCollection,
	}
	for slice, name := range collections {
		slice := slice
		it := s.collection(operatorID, name).Snapshots(ctx)
		wg.Add(1)
		go func() {
			defer it.Stop()
			listen(slice, func() error {
				_, err := it.Next()
				return err
			})
		}()
	}

	rateIt := s.rateRef(operatorID).Snapshots(ctx)
	wg.Add(1)
	go func() {
		defer rateIt.Stop()
		listen(events.SliceRate, func() error {
			_, err := rateIt.Next()
			return err
		})
	}()

	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

package cart

import (
	"context"

	"go.uber.org/zap"

	"github.com/drstein77/farmcare/internal/models"
	"github.com/drstein77/farmcare/internal/storage"
)

// schedule records snap as the newest state to persist and wakes the writer.
// Only the latest pending state is kept; intermediate ones are skipped.
func (s *Store) schedule(snap Snapshot) {
	if s.keeper == nil {
		return
	}

	s.pendingMu.Lock()
	if snap.Version > s.pendingVersion {
		s.pendingItems = snap.Items
		s.pendingVersion = snap.Version
	}
	s.pendingMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run is the single writer. Saves happen one at a time, so storage always
// ends with the most recently committed state.
func (s *Store) run() {
	defer close(s.done)

	for {
		select {
		case <-s.wake:
			s.writePending()
		case <-s.quit:
			s.writePending()

			s.pendingMu.Lock()
			s.closed = true
			close(s.written)
			s.pendingMu.Unlock()
			return
		}
	}
}

func (s *Store) writePending() {
	s.pendingMu.Lock()
	if s.pendingVersion <= s.writtenVersion {
		s.pendingMu.Unlock()
		return
	}
	items, version := s.pendingItems, s.pendingVersion
	s.pendingMu.Unlock()

	if err := s.save(items); err != nil {
		s.log.Error("Error saving cart", zap.String("key", s.key), zap.Uint64("version", version), zap.Error(err))
	}

	s.pendingMu.Lock()
	s.writtenVersion = version
	close(s.written)
	s.written = make(chan struct{})
	s.pendingMu.Unlock()
}

func (s *Store) save(items []models.CartItem) error {
	data, err := storage.EncodeCart(items)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	return s.keeper.Save(ctx, s.key, data)
}

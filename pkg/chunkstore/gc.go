package chunkstore

import (
	"context"
	"time"
)

// StartGC launches the background orphan collector, which periodically runs
// CleanupOrphanedChunks to repair the crash window between a payload write
// and its metadata commit. Stopped by Shutdown.
func (s *ChunkStore) StartGC(interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logger.Infof("Starting background GC worker, interval %s", interval)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				logger.Info("GC run triggered.")
				s.runGC()
			case <-s.stopGC:
				logger.Info("Stopping background GC worker...")
				return
			}
		}
	}()
}

// ForceGC triggers a collection cycle immediately, for manual administrative
// actions. It runs in a background goroutine tracked by the WaitGroup so
// shutdown stays graceful.
func (s *ChunkStore) ForceGC() {
	logger.Info("Manual GC run triggered.")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runGC()
		logger.Info("Manual GC run finished.")
	}()
}

func (s *ChunkStore) runGC() {
	removed, err := s.CleanupOrphanedChunks(context.Background())
	if err != nil {
		logger.Errorf("GC: orphan cleanup failed: %v", err)
		return
	}
	if removed > 0 {
		logger.Infof("GC: removed %d orphaned chunks", removed)
	}
}

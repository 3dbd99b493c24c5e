package memory

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wargame-agent/backend/internal/metrics"
	"github.com/wargame-agent/backend/internal/storage/models"
	"github.com/wargame-agent/backend/pkg/logger"
)

// sweepLimit caps how many records one consolidation pass examines per user.
const sweepLimit = 500

// Consolidator periodically evicts expired and faded memories and merges
// near-duplicates, keeping the older record of each pair.
type Consolidator struct {
	backend  Backend
	ledger   Ledger
	policy   Policy
	interval time.Duration
}

func NewConsolidator(backend Backend, ledger Ledger, policy Policy, interval time.Duration) *Consolidator {
	return &Consolidator{
		backend:  backend,
		ledger:   ledger,
		policy:   policy,
		interval: interval,
	}
}

type ConsolidationStats struct {
	UsersSwept int `json:"users_swept"`
	Expired    int `json:"expired"`
	Decayed    int `json:"decayed"`
	Merged     int `json:"merged"`
}

// Start launches the consolidation loop. It stops when ctx is cancelled.
func (c *Consolidator) Start(ctx context.Context) {
	if c.interval <= 0 {
		logger.Info("Memory consolidation disabled")
		return
	}

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := c.RunOnce(ctx)
				logger.Info("Memory consolidation pass complete",
					zap.Int("users", stats.UsersSwept),
					zap.Int("expired", stats.Expired),
					zap.Int("decayed", stats.Decayed),
					zap.Int("merged", stats.Merged),
				)
			}
		}
	}()
}

// RunOnce sweeps every active user's memories. Failures affect only the
// record or user at hand; the pass always finishes.
func (c *Consolidator) RunOnce(ctx context.Context) ConsolidationStats {
	var stats ConsolidationStats

	users, err := c.ledger.ActiveUsers(ctx)
	if err != nil {
		logger.Warn("Failed to list active users for consolidation", zap.Error(err))
		return stats
	}

	for _, userID := range users {
		if ctx.Err() != nil {
			return stats
		}
		c.sweepUser(ctx, userID, &stats)
		stats.UsersSwept++
	}

	return stats
}

func (c *Consolidator) sweepUser(ctx context.Context, userID string, stats *ConsolidationStats) {
	records, err := c.backend.List(ctx, userID, sweepLimit, "", nil)
	if err != nil {
		logger.Warn("Failed to list memories for consolidation",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}

	var survivors []models.MemoryRecord
	for _, record := range records {
		age := time.Since(record.CreatedAt)

		if c.policy.TTL > 0 && age > c.policy.TTL {
			if c.evict(ctx, record, "ttl") {
				stats.Expired++
			}
			continue
		}

		if c.policy.DecayedImportance(record.Importance, record.CreatedAt) < c.policy.ImportanceFloor {
			if c.evict(ctx, record, "decay") {
				stats.Decayed++
			}
			continue
		}

		survivors = append(survivors, record)
	}

	stats.Merged += c.mergeDuplicates(ctx, userID, survivors)
}

// mergeDuplicates deletes records that restate an older memory. The newest of
// each near-duplicate pair goes; the original stays.
func (c *Consolidator) mergeDuplicates(ctx context.Context, userID string, records []models.MemoryRecord) int {
	merged := 0

	for _, record := range records {
		if ctx.Err() != nil {
			return merged
		}

		hits, err := c.backend.Search(ctx, record.Memory, userID, 5, nil)
		if err != nil {
			logger.Warn("Duplicate sweep search failed",
				zap.String("user_id", userID),
				zap.Error(err),
			)
			continue
		}

		for _, hit := range hits {
			if hit.MemoryID == record.MemoryID {
				continue
			}
			if hit.Score < c.policy.MergeThreshold {
				continue
			}
			if !hit.CreatedAt.Before(record.CreatedAt) {
				continue
			}

			if c.evict(ctx, record, "merge") {
				merged++
			}
			break
		}
	}

	return merged
}

func (c *Consolidator) evict(ctx context.Context, record models.MemoryRecord, reason string) bool {
	found, err := c.backend.Delete(ctx, record.MemoryID)
	if err != nil {
		logger.Warn("Failed to evict memory",
			zap.String("memory_id", record.MemoryID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return false
	}
	if !found {
		return false
	}

	metrics.ConsolidationEvictionsTotal.WithLabelValues(reason).Inc()
	logger.Debug("Memory evicted",
		zap.String("memory_id", record.MemoryID),
		zap.String("user_id", record.UserID),
		zap.String("reason", reason),
	)
	return true
}

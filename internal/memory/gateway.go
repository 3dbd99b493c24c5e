package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/wargame-agent/backend/internal/errs"
	"github.com/wargame-agent/backend/internal/metrics"
	"github.com/wargame-agent/backend/internal/storage/models"
	"github.com/wargame-agent/backend/pkg/logger"
)

// Policy holds every knob the gateway applies to memory writes and reads.
type Policy struct {
	DedupThreshold  float64
	MergeThreshold  float64
	DailyQuota      int
	MaxMemoryLength int
	DefaultLimit    int
	TTL             time.Duration
	HalfLife        time.Duration
	ImportanceFloor float64
}

func DefaultPolicy() Policy {
	return Policy{
		DedupThreshold:  0.9,
		MergeThreshold:  0.95,
		DailyQuota:      100,
		MaxMemoryLength: 2000,
		DefaultLimit:    5,
		TTL:             90 * 24 * time.Hour,
		HalfLife:        30 * 24 * time.Hour,
		ImportanceFloor: 0.05,
	}
}

// DecayedImportance halves a record's importance every half-life. Reads see
// the decayed value; only the consolidator acts on it.
func (p Policy) DecayedImportance(importance float64, createdAt time.Time) float64 {
	if p.HalfLife <= 0 || createdAt.IsZero() {
		return importance
	}
	age := time.Since(createdAt)
	if age <= 0 {
		return importance
	}
	return importance * math.Exp2(-age.Hours()/p.HalfLife.Hours())
}

type Gateway struct {
	backend Backend
	ledger  Ledger
	policy  Policy
}

func NewGateway(backend Backend, ledger Ledger, policy Policy) *Gateway {
	return &Gateway{
		backend: backend,
		ledger:  ledger,
		policy:  policy,
	}
}

type AddParams struct {
	UserID string
	Memory string
	Scope  string
	Tags   []string
	Source string
}

// Add stores a memory unless an existing one already says the same thing or
// the user's daily write quota is spent. Both outcomes come back as statuses,
// not errors; errors mean the backend itself misbehaved.
func (g *Gateway) Add(ctx context.Context, params AddParams) (models.MemoryAddResult, error) {
	if params.UserID == "" {
		return models.MemoryAddResult{}, &errs.ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if params.Memory == "" {
		return models.MemoryAddResult{}, &errs.ValidationError{Field: "memory", Reason: "must not be empty"}
	}
	if len(params.Memory) > g.policy.MaxMemoryLength {
		return models.MemoryAddResult{}, &errs.ValidationError{
			Field:  "memory",
			Reason: fmt.Sprintf("exceeds maximum length of %d characters", g.policy.MaxMemoryLength),
		}
	}

	scope := params.Scope
	if scope == "" {
		scope = models.ScopeUser
	}
	if !models.ValidScope(scope) {
		return models.MemoryAddResult{}, &errs.ValidationError{Field: "scope", Reason: fmt.Sprintf("unknown scope %q", scope)}
	}

	if existingID, ok := g.findDuplicate(ctx, params.Memory, params.UserID, scope); ok {
		metrics.MemoryOpsTotal.WithLabelValues("add", models.MemoryDeduplicated).Inc()
		logger.Debug("Memory deduplicated",
			zap.String("user_id", params.UserID),
			zap.String("memory_id", existingID),
		)
		return models.MemoryAddResult{MemoryID: existingID, Status: models.MemoryDeduplicated}, nil
	}

	if err := g.checkQuota(ctx, params.UserID); err != nil {
		var quotaErr *errs.QuotaExceededError
		if errors.As(err, &quotaErr) {
			metrics.MemoryOpsTotal.WithLabelValues("add", models.MemoryRejectedQuota).Inc()
			metrics.QuotaRejectionsTotal.Inc()
			logger.Warn("Memory write rejected by quota",
				zap.String("user_id", params.UserID),
				zap.Int("quota", quotaErr.Quota),
			)
			return models.MemoryAddResult{Status: models.MemoryRejectedQuota}, nil
		}
		return models.MemoryAddResult{}, err
	}

	memoryID, err := g.backend.Add(ctx, models.MemoryRecord{
		UserID:     params.UserID,
		Scope:      scope,
		Memory:     params.Memory,
		Tags:       params.Tags,
		Source:     params.Source,
		Importance: 1.0,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		metrics.MemoryOpsTotal.WithLabelValues("add", "error").Inc()
		return models.MemoryAddResult{}, fmt.Errorf("failed to store memory: %w", err)
	}

	if err := g.ledger.AddActiveUser(ctx, params.UserID); err != nil {
		logger.Warn("Failed to record active user", zap.String("user_id", params.UserID), zap.Error(err))
	}

	metrics.MemoryOpsTotal.WithLabelValues("add", models.MemoryCreated).Inc()
	return models.MemoryAddResult{MemoryID: memoryID, Status: models.MemoryCreated}, nil
}

// findDuplicate treats a failing duplicate lookup as no duplicate; the write
// path decides for itself whether the backend is down.
func (g *Gateway) findDuplicate(ctx context.Context, memory, userID, scope string) (string, bool) {
	hits, err := g.backend.Search(ctx, memory, userID, 5, []string{scope})
	if err != nil {
		logger.Warn("Duplicate lookup failed", zap.String("user_id", userID), zap.Error(err))
		return "", false
	}

	for _, hit := range hits {
		if hit.Score >= g.policy.DedupThreshold {
			return hit.MemoryID, true
		}
	}
	return "", false
}

func (g *Gateway) checkQuota(ctx context.Context, userID string) error {
	day := time.Now().UTC().Format("2006-01-02")

	count, err := g.ledger.IncrDailyCount(ctx, userID, day)
	if err != nil {
		return fmt.Errorf("failed to check quota: %w", err)
	}

	if count > int64(g.policy.DailyQuota) {
		return &errs.QuotaExceededError{UserID: userID, Quota: g.policy.DailyQuota}
	}
	return nil
}

type SearchParams struct {
	Query  string
	UserID string
	Limit  int
	Scopes []string
}

func (g *Gateway) Search(ctx context.Context, params SearchParams) ([]models.MemoryHit, error) {
	start := time.Now()

	if params.Query == "" {
		return nil, &errs.ValidationError{Field: "query", Reason: "must not be empty"}
	}
	if params.UserID == "" {
		return nil, &errs.ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	for _, s := range params.Scopes {
		if !models.ValidScope(s) {
			return nil, &errs.ValidationError{Field: "scopes", Reason: fmt.Sprintf("unknown scope %q", s)}
		}
	}

	limit := params.Limit
	if limit <= 0 {
		limit = g.policy.DefaultLimit
	}

	hits, err := g.backend.Search(ctx, params.Query, params.UserID, limit, params.Scopes)
	if err != nil {
		metrics.SearchTotal.WithLabelValues("memory", "error").Inc()
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}

	for i := range hits {
		hits[i].Importance = g.policy.DecayedImportance(hits[i].Importance, hits[i].CreatedAt)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	metrics.SearchTotal.WithLabelValues("memory", "success").Inc()
	metrics.SearchDuration.WithLabelValues("memory").Observe(time.Since(start).Seconds())

	return hits, nil
}

// Delete reports deleted or not_found; an error means the backend could not
// answer at all.
func (g *Gateway) Delete(ctx context.Context, memoryID string) (string, error) {
	if memoryID == "" {
		return "", &errs.ValidationError{Field: "memory_id", Reason: "must not be empty"}
	}

	found, err := g.backend.Delete(ctx, memoryID)
	if err != nil {
		metrics.MemoryOpsTotal.WithLabelValues("delete", "error").Inc()
		return "", fmt.Errorf("failed to delete memory: %w", err)
	}

	if !found {
		metrics.MemoryOpsTotal.WithLabelValues("delete", models.MemoryNotFound).Inc()
		return models.MemoryNotFound, nil
	}

	metrics.MemoryOpsTotal.WithLabelValues("delete", models.MemoryDeleted).Inc()
	return models.MemoryDeleted, nil
}

type ListParams struct {
	UserID string
	Limit  int
	Scope  string
	Tags   []string
}

func (g *Gateway) List(ctx context.Context, params ListParams) ([]models.MemoryRecord, error) {
	if params.UserID == "" {
		return nil, &errs.ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if params.Scope != "" && !models.ValidScope(params.Scope) {
		return nil, &errs.ValidationError{Field: "scope", Reason: fmt.Sprintf("unknown scope %q", params.Scope)}
	}

	limit := params.Limit
	if limit <= 0 {
		limit = g.policy.DefaultLimit
	}

	records, err := g.backend.List(ctx, params.UserID, limit, params.Scope, params.Tags)
	if err != nil {
		metrics.MemoryOpsTotal.WithLabelValues("list", "error").Inc()
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}

	for i := range records {
		records[i].Importance = g.policy.DecayedImportance(records[i].Importance, records[i].CreatedAt)
	}

	metrics.MemoryOpsTotal.WithLabelValues("list", "success").Inc()
	return records, nil
}


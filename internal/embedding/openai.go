package embedding

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/wargame-agent/backend/internal/metrics"
	"github.com/wargame-agent/backend/pkg/circuitbreaker"
	"github.com/wargame-agent/backend/pkg/logger"
	"github.com/wargame-agent/backend/pkg/retry"
	"github.com/wargame-agent/backend/pkg/utils"
)

// OpenAI embeds through the OpenAI API in batches, under a circuit breaker
// and retry policy, with an optional vector cache in front.
type OpenAI struct {
	client      *openai.Client
	model       string
	dim         int
	batchSize   int
	timeout     time.Duration
	cb          *circuitbreaker.Breaker
	retryPolicy retry.Policy
	cache       Cache
}

func NewOpenAI(apiKey, model string, dim, batchSize int, timeout time.Duration, cache Cache) *OpenAI {
	if batchSize <= 0 {
		batchSize = 100
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cb := circuitbreaker.New("embedding", circuitbreaker.Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		Logger:           logger.GetLogger(),
	})

	retryPolicy := retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Logger:      logger.GetLogger(),
	}

	logger.Info("Embedding provider initialized",
		zap.String("model", model),
		zap.Int("dim", dim),
	)

	return &OpenAI{
		client:      openai.NewClient(apiKey),
		model:       model,
		dim:         dim,
		batchSize:   batchSize,
		timeout:     timeout,
		cb:          cb,
		retryPolicy: retryPolicy,
		cache:       cache,
	}
}

func (c *OpenAI) Dimension() int {
	return c.dim
}

func (c *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	var missing []int

	if c.cache != nil {
		for i, text := range texts {
			cached, err := c.cache.GetEmbedding(ctx, c.cacheKey(text))
			if err == nil && cached != nil {
				metrics.CacheHits.WithLabelValues("embedding").Inc()
				vectors[i] = cached
				continue
			}
			metrics.CacheMisses.WithLabelValues("embedding").Inc()
			missing = append(missing, i)
		}
	} else {
		missing = make([]int, len(texts))
		for i := range texts {
			missing[i] = i
		}
	}

	for start := 0; start < len(missing); start += c.batchSize {
		end := start + c.batchSize
		if end > len(missing) {
			end = len(missing)
		}

		batchIdx := missing[start:end]
		batch := make([]string, len(batchIdx))
		for i, idx := range batchIdx {
			batch[i] = texts[idx]
		}

		embedded, err := c.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}

		for i, idx := range batchIdx {
			vectors[idx] = embedded[i]
			if c.cache != nil {
				if err := c.cache.SetEmbedding(ctx, c.cacheKey(texts[idx]), embedded[i]); err != nil {
					logger.Debug("Embedding cache write failed", zap.Error(err))
				}
			}
		}
	}

	return vectors, nil
}

func (c *OpenAI) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var embeddings [][]float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryPolicy, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: batch,
					Model: openai.EmbeddingModel(c.model),
				},
			)

			if err != nil {
				return fmt.Errorf("failed to generate embeddings: %w", err)
			}

			if len(resp.Data) != len(batch) {
				return fmt.Errorf("embedding response size mismatch: got %d for %d inputs", len(resp.Data), len(batch))
			}

			embeddings = embeddings[:0]
			for _, data := range resp.Data {
				vector := make([]float32, len(data.Embedding))
				copy(vector, data.Embedding)
				embeddings = append(embeddings, vector)
			}

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return embeddings, nil
}

func (c *OpenAI) cacheKey(text string) string {
	return "emb:" + c.model + ":" + utils.HashString(text)
}

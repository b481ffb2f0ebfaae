package inference

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"infersubc/pkg/channels"
	"infersubc/pkg/kernels"
	"infersubc/pkg/mask"
	"infersubc/pkg/params"
	"infersubc/pkg/stage"
	"infersubc/pkg/store"
)

// LabelCache stores label masks by cache key. *store.Store implements it.
type LabelCache interface {
	GetLabels(ctx context.Context, key string) (*mask.Labels, bool, error)
	PutLabels(ctx context.Context, key, stageName, kernel string, l *mask.Labels) error
}

// cachedStage loads the labels of an identical earlier execution instead of
// running the wrapped stage, and stores fresh labels after a successful run.
// Cache errors are logged and never fail the stage.
type cachedStage struct {
	stage.Stage
	cache LabelCache
	log   zerolog.Logger
}

func withCache(s stage.Stage, cache LabelCache, logger zerolog.Logger) *cachedStage {
	return &cachedStage{Stage: s, cache: cache, log: logger.With().Str("stage", s.Name()).Logger()}
}

// Kernel exposes the wrapped stage's kernel so failures still name it.
func (c *cachedStage) Kernel() kernels.Kernel {
	if k, ok := c.Stage.(interface{ Kernel() kernels.Kernel }); ok {
		return k.Kernel()
	}
	return nil
}

func (c *cachedStage) kernelName() string {
	if k := c.Kernel(); k != nil {
		return k.Name()
	}
	return ""
}

func (c *cachedStage) key(set *channels.Set, up stage.Upstream, p params.Params) string {
	fingerprints := make(map[string]string, len(c.Requires()))
	for _, dep := range c.Requires() {
		if r, ok := up[dep]; ok && r != nil && r.Labels != nil {
			fingerprints[dep] = r.Labels.Fingerprint()
		}
	}
	return store.CacheKey(c.Name(), c.kernelName(), p.Fingerprint(), set.Fingerprint(), fingerprints)
}

func (c *cachedStage) Run(ctx context.Context, set *channels.Set, up stage.Upstream, p params.Params) (*stage.Result, error) {
	if err := stage.CheckUpstream(c.Name(), c.Requires(), up); err != nil {
		return nil, err
	}
	if p.IsZero() {
		defaults, err := c.Schema().Defaults()
		if err != nil {
			return nil, err
		}
		p = defaults
	}

	started := time.Now().UTC()
	key := c.key(set, up, p)

	l, ok, err := c.cache.GetLabels(ctx, key)
	switch {
	case err != nil:
		c.log.Warn().Err(err).Msg("mask cache lookup failed")
	case ok && l.Shape != set.Shape():
		c.log.Warn().Str("cached", l.Shape.String()).Str("want", set.Shape().String()).Msg("ignoring cached mask of another shape")
	case ok:
		ids := make([]uuid.UUID, 0, len(c.Requires()))
		for _, dep := range c.Requires() {
			ids = append(ids, up[dep].ID)
		}
		c.log.Debug().Str("key", key).Int("objects", l.Count()).Msg("loaded cached mask")
		return &stage.Result{
			ID:     uuid.New(),
			Stage:  c.Name(),
			Status: stage.Succeeded,
			Labels: l,
			Provenance: stage.Provenance{
				Stage:    c.Name(),
				Params:   p,
				Upstream: ids,
				Kernel:   c.kernelName(),
				Cached:   true,
			},
			Started:  started,
			Duration: time.Since(started),
		}, nil
	}

	res, err := c.Stage.Run(ctx, set, up, p)
	if err != nil || res == nil || res.Status != stage.Succeeded || res.Labels == nil {
		return res, err
	}
	if err := c.cache.PutLabels(ctx, key, c.Name(), res.Provenance.Kernel, res.Labels); err != nil {
		c.log.Warn().Err(err).Msg("failed to cache mask")
	}
	return res, nil
}

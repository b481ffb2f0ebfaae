package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"infersubc/internal/models"
	"infersubc/pkg/mask"
)

// CacheKey identifies a stage execution by everything that determines its
// output: the stage, the kernel it delegates to, its params fingerprint, the
// input channel data and the masks of its upstream results. Upstream fingerprints are keyed by stage
// name so their order does not matter.
func CacheKey(stageName, kernel, paramsFingerprint, inputFingerprint string, upstream map[string]string) string {
	names := make([]string, 0, len(upstream))
	for name := range upstream {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(stageName)
	b.WriteByte('|')
	b.WriteString(kernel)
	b.WriteByte('|')
	b.WriteString(paramsFingerprint)
	b.WriteByte('|')
	b.WriteString(inputFingerprint)
	for _, name := range names {
		b.WriteByte('|')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(upstream[name])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// PutLabels stores the labels a stage produced under key, replacing any
// previous entry.
func (s *Store) PutLabels(ctx context.Context, key, stageName, kernel string, l *mask.Labels) error {
	if l == nil {
		return errors.New("put labels: nil mask")
	}
	return s.exec(ctx,
		`INSERT OR REPLACE INTO mask_cache (cache_key, stage, kernel, shape_z, shape_y, shape_x, labels, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key, stageName, nullableString(kernel), l.Shape.Z, l.Shape.Y, l.Shape.X,
		encodeLabels(l.Data), formatTime(time.Now()),
	)
}

// GetLabels returns the labels stored under key. The boolean is false when
// there is no entry.
func (s *Store) GetLabels(ctx context.Context, key string) (*mask.Labels, bool, error) {
	var (
		shape models.Shape
		blob  []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT shape_z, shape_y, shape_x, labels FROM mask_cache WHERE cache_key = ?`, key,
	).Scan(&shape.Z, &shape.Y, &shape.X, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached labels: %w", err)
	}

	data, err := decodeLabels(blob, shape.Len())
	if err != nil {
		return nil, false, fmt.Errorf("cached labels for %s: %w", key, err)
	}
	l := &mask.Labels{Shape: shape, Data: data}
	if err := l.Validate(); err != nil {
		return nil, false, fmt.Errorf("cached labels for %s: %w", key, err)
	}
	return l, true, nil
}

// PurgeCache drops every cached mask, or only those of the given stage.
func (s *Store) PurgeCache(ctx context.Context, stageName string) error {
	if stageName == "" {
		return s.exec(ctx, "DELETE FROM mask_cache")
	}
	return s.exec(ctx, "DELETE FROM mask_cache WHERE stage = ?", stageName)
}

func encodeLabels(data []int32) []byte {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
	}
	return buf
}

func decodeLabels(buf []byte, n int) ([]int32, error) {
	if len(buf) != 4*n {
		return nil, fmt.Errorf("blob holds %d bytes, want %d", len(buf), 4*n)
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out, nil
}

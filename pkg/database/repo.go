package database

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// inserts multiple crash records into the database
func AddCrashes(ctx context.Context, db *gorm.DB, crashes []*Crash) error {
	if len(crashes) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(crashes).Error
}

// NewCrash creates a new Crash object with the provided parameters
func NewCrash(runID, target, state, outcome, signature, path string, exec uint64) *Crash {
	return &Crash{
		RunID:     runID,
		CreatedAt: time.Now(),
		Target:    target,
		State:     state,
		Outcome:   outcome,
		Signature: signature,
		Path:      path,
		Exec:      exec,
	}
}

// NewSeed creates a new Seed bundle record
func NewSeed(runID, path, target, state string, origin SeedOrigin, count int, metric Metric) *Seed {
	return &Seed{
		RunID:     runID,
		CreatedAt: time.Now(),
		Path:      path,
		Target:    target,
		State:     state,
		Origin:    origin,
		Count:     count,
		Metric:    metric,
	}
}

// inserts a single seed record into the database
func AddSeed(ctx context.Context, db *gorm.DB, seed *Seed) error {
	if seed == nil {
		return nil
	}
	return db.WithContext(ctx).Create(seed).Error
}

// SeedBundlePaths returns bundle paths recorded for target: every imported or
// manual bundle plus the ten most recent fuzzer bundles.
func SeedBundlePaths(ctx context.Context, db *gorm.DB, target string) ([]string, error) {
	var imported []string
	err := db.WithContext(ctx).Model(&Seed{}).
		Where("target = ? AND origin IN ?", target, []SeedOrigin{OriginImport, OriginManual}).
		Order("created_at").
		Pluck("path", &imported).Error
	if err != nil {
		return nil, err
	}

	var recent []string
	err = db.WithContext(ctx).Model(&Seed{}).
		Where("target = ? AND origin = ?", target, OriginFuzzer).
		Order("created_at DESC").
		Limit(10).
		Pluck("path", &recent).Error
	if err != nil {
		return nil, err
	}
	return append(imported, recent...), nil
}

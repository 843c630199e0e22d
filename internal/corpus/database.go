package corpus

import (
	"context"
	"errors"
	"statefuzz/pkg/database"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBSeedGrabber collects the seed bundles recorded for a target, including
// those exported by earlier runs.
type DBSeedGrabber struct {
	db     *gorm.DB
	logger *zap.Logger
}

type DBSeedGrabberParams struct {
	fx.In

	DB     *gorm.DB `optional:"true"`
	Logger *zap.Logger
}

func NewDBSeedGrabber(p DBSeedGrabberParams) *DBSeedGrabber {
	if p.DB == nil {
		return nil
	}
	return &DBSeedGrabber{p.DB, p.Logger}
}

func (g *DBSeedGrabber) GrabSeeds(ctx context.Context, target string) (*Seeds, error) {
	paths, err := database.SeedBundlePaths(ctx, g.db, target)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		g.logger.Info("No seeds found in db", zap.String("target", target))
		return nil, errors.New("no seeds found in database")
	}

	seeds := &Seeds{}
	for _, path := range paths {
		inputs, err := readBundle(path)
		if err != nil {
			g.logger.Error("Failed to unpack seed bundle", zap.String("path", path), zap.Error(err))
			continue
		}
		seeds.Inputs = append(seeds.Inputs, inputs...)
	}
	if seeds.Empty() {
		return nil, errors.New("no readable seed bundle in database")
	}

	g.logger.Info("Got seeds in db", zap.String("target", target), zap.Int("bundles", len(paths)))
	return seeds, nil
}

package corpus

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"reflect"
	"statefuzz/pkg/telemetry"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// CorpusGrabber merges the seeds of every available source. The random
// grabber is only consulted when all others come back empty.
type CorpusGrabber struct {
	grabbers []Grabber
	fallback Grabber
	logger   *zap.Logger
}

type CorpusGrabberParams struct {
	fx.In

	Logger            *zap.Logger
	DirSeedGrabber    *DirSeedGrabber
	DBSeedGrabber     *DBSeedGrabber    `optional:"true"`
	RedisSeedGrabber  *RedisSeedGrabber `optional:"true"`
	RandomSeedGrabber *RandomSeedGrabber
}

func NewCorpusGrabber(params CorpusGrabberParams) *CorpusGrabber {
	return &CorpusGrabber{
		grabbers: []Grabber{
			params.DirSeedGrabber,
			params.DBSeedGrabber,
			params.RedisSeedGrabber,
		},
		fallback: params.RandomSeedGrabber,
		logger:   params.Logger,
	}
}

func grabberName(grabber Grabber) string {
	return reflect.TypeOf(grabber).Elem().Name()
}

// Collect returns the deduplicated union of all sources.
func (s *CorpusGrabber) Collect(ctx context.Context, target string) (*Seeds, error) {
	tracer := telemetry.TracerFrom(ctx)
	corpusTracer := tracer.Spawn("syncing corpus")
	corpusTracer.Start()
	defer corpusTracer.End()
	collectorCtx := context.WithValue(ctx, telemetry.TracerKey{}, corpusTracer)

	merged := &Seeds{}
	seen := make(map[[md5.Size]byte]struct{})
	for _, grabber := range s.grabbers {
		if grabber == nil || reflect.ValueOf(grabber).IsNil() {
			continue // backend not configured
		}
		seeds, err := s.grabFrom(collectorCtx, target, grabber)
		if err != nil {
			continue
		}
		merged.merge(seeds, seen)
	}

	if merged.Empty() && s.fallback != nil && !reflect.ValueOf(s.fallback).IsNil() {
		s.logger.Warn("no seeds available, falling back to random seeds", zap.String("target", target))
		seeds, err := s.grabFrom(collectorCtx, target, s.fallback)
		if err == nil {
			merged.merge(seeds, seen)
		}
	}
	if merged.Empty() {
		return nil, errors.New("no corpus available")
	}

	s.logger.Info("successfully got corpus for fuzzing",
		zap.String("target", target),
		zap.Int("seed_count", len(merged.Inputs)),
		zap.Int("prefix_count", len(merged.Prefixes)))
	corpusTracer.WithAttributes(
		telemetry.EmptySpanAttributes().WithCorpusSize(len(merged.Inputs)),
	)
	return merged, nil
}

func (s *CorpusGrabber) grabFrom(ctx context.Context, target string, grabber Grabber) (*Seeds, error) {
	tracer := telemetry.TracerFrom(ctx)
	grabberTracer := tracer.Spawn(fmt.Sprintf("grabbing seeds from %s", grabberName(grabber)))
	grabberTracer.Start()
	defer grabberTracer.End()

	seeds, err := grabber.GrabSeeds(ctx, target)
	if err != nil {
		s.logger.Warn("failed to grab seeds",
			zap.String("grabber", grabberName(grabber)),
			zap.String("target", target),
			zap.Error(err))
		grabberTracer.AddEvent("failed_to_grab_seeds", telemetry.EventAttributes{})
		return nil, fmt.Errorf("failed to grab seeds: %w", err)
	}

	s.logger.Info("grabbed seeds",
		zap.String("grabber", grabberName(grabber)),
		zap.String("target", target),
		zap.Int("seed_count", len(seeds.Inputs)))
	return seeds, nil
}

func (s *Seeds) merge(other *Seeds, seen map[[md5.Size]byte]struct{}) {
	if other == nil {
		return
	}
	for _, input := range other.Inputs {
		sum := md5.Sum(input)
		if _, dup := seen[sum]; dup {
			continue
		}
		seen[sum] = struct{}{}
		s.Inputs = append(s.Inputs, input)
	}
	s.Prefixes = append(s.Prefixes, other.Prefixes...)
}

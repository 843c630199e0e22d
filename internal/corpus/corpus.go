package corpus

import (
	"context"

	"go.uber.org/fx"
)

// Prefix is a message sequence that drives a fresh session into some state.
type Prefix struct {
	Name      string
	Messages  [][]byte
	OutDegree int // hint read from the prefix's metadata file
}

// Seeds are the initial inputs of a run.
type Seeds struct {
	Inputs   [][]byte
	Prefixes []Prefix
}

func (s *Seeds) Empty() bool {
	return s == nil || (len(s.Inputs) == 0 && len(s.Prefixes) == 0)
}

type Grabber interface {
	// grab the initial seeds for the given target
	GrabSeeds(ctx context.Context, target string) (*Seeds, error)
}

var CorpusGrabbersModule = fx.Options(
	fx.Provide(NewCorpusGrabber),
	fx.Provide(NewDirSeedGrabber),
	fx.Provide(NewRedisSeedGrabber),
	fx.Provide(NewRandomSeedGrabber),
	fx.Provide(NewDBSeedGrabber),
)

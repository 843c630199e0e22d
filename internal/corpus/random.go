package corpus

import (
	"context"
	"crypto/rand"
)

const (
	randomSeedCount = 16
	randomSeedLen   = 32
)

// RandomSeedGrabber is the last resort when no other source yields seeds:
// short printable lines.
type RandomSeedGrabber struct{}

func NewRandomSeedGrabber() *RandomSeedGrabber {
	return &RandomSeedGrabber{}
}

func (g *RandomSeedGrabber) GrabSeeds(ctx context.Context, target string) (*Seeds, error) {
	seeds := &Seeds{}
	for range randomSeedCount {
		buf := make([]byte, randomSeedLen)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		for i := range buf {
			buf[i] = ' ' + buf[i]%('~'-' '+1)
		}
		seeds.Inputs = append(seeds.Inputs, append(buf, '\r', '\n'))
	}
	return seeds, nil
}

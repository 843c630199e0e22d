package corpus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"statefuzz/config"
	"statefuzz/internal/utils"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// MetadataFile marks a directory under IN_DIR as a prefix.
const MetadataFile = "metadata"

// DirSeedGrabber reads IN_DIR. Plain files are seeds, tar.gz files are
// unpacked seed bundles and directories holding a metadata file are prefixes.
type DirSeedGrabber struct {
	dir    string
	logger *zap.Logger
}

func NewDirSeedGrabber(cfg *config.AppConfig, logger *zap.Logger) *DirSeedGrabber {
	return &DirSeedGrabber{dir: cfg.InDir, logger: logger}
}

func (g *DirSeedGrabber) GrabSeeds(ctx context.Context, target string) (*Seeds, error) {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}

	seeds := &Seeds{}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		path := filepath.Join(g.dir, entry.Name())
		switch {
		case strings.HasPrefix(entry.Name(), "."):
			continue
		case entry.IsDir():
			prefix, err := LoadPrefix(path)
			if errors.Is(err, os.ErrNotExist) {
				g.logger.Debug("skipping directory without metadata", zap.String("dir", path))
				continue
			}
			if err != nil {
				g.logger.Warn("failed to load prefix", zap.String("dir", path), zap.Error(err))
				continue
			}
			seeds.Prefixes = append(seeds.Prefixes, prefix)
		case utils.IsTarGz(path):
			inputs, err := readBundle(path)
			if err != nil {
				g.logger.Warn("failed to read seed bundle", zap.String("bundle", path), zap.Error(err))
				continue
			}
			seeds.Inputs = append(seeds.Inputs, inputs...)
		default:
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read seed: %w", err)
			}
			seeds.Inputs = append(seeds.Inputs, data)
		}
	}

	if seeds.Empty() {
		return nil, errors.New("input directory holds no seeds")
	}
	return seeds, nil
}

// LoadPrefix reads a prefix directory: message files in name order plus the
// metadata file holding the out-degree hint.
func LoadPrefix(dir string) (Prefix, error) {
	raw, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return Prefix{}, err
	}
	outDegree, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return Prefix{}, fmt.Errorf("malformed metadata: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Prefix{}, err
	}
	prefix := Prefix{Name: filepath.Base(dir), OutDegree: outDegree}
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == MetadataFile {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return Prefix{}, err
		}
		prefix.Messages = append(prefix.Messages, data)
	}
	return prefix, nil
}

// readSeedDir returns the content of every regular file below dir, in
// lexical path order.
func readSeedDir(dir string) ([][]byte, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	inputs := make([][]byte, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, data)
	}
	return inputs, nil
}

// readBundle unpacks a tar.gz bundle into a scratch directory and reads it.
func readBundle(bundle string) ([][]byte, error) {
	tmpDir, err := os.MkdirTemp("", "seed-bundle-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	if err := utils.UnpackTarGz(bundle, tmpDir); err != nil {
		return nil, err
	}
	return readSeedDir(tmpDir)
}

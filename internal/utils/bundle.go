package utils

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
)

var gzipMagic = []byte{0x1f, 0x8b}

// IsTarGz reports whether path holds gzip data, as seed bundles do.
func IsTarGz(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, len(gzipMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		return false
	}
	return bytes.Equal(head, gzipMagic)
}

// UnpackTarGz extracts bundle into dst, which must exist.
func UnpackTarGz(bundle, dst string) error {
	return runTar("unpack", "-xzf", bundle, "-C", dst)
}

// CompressTarGz packs the contents of src into bundle.
func CompressTarGz(src, bundle string) error {
	return runTar("create", "-czf", bundle, "-C", src, ".")
}

func runTar(op string, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.Command("tar", args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to %s bundle: %w: %s", op, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

package crash

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"io"
	"regexp"
	"strings"

	"github.com/maruel/panicparse/stack"
)

const signatureDepth = 5

var sanitizerFrame = regexp.MustCompile(`#\d+ 0x[0-9a-fA-F]+ in (\S+)`)

// Signature identifies the bug behind a crash. Go panics are keyed by the
// topmost non-runtime frames of the panicking goroutine, sanitizer reports
// by their topmost frames, anything else by the md5 of the input.
func Signature(output, input []byte) string {
	if frames := goFrames(output); len(frames) > 0 {
		return "go:" + digest([]byte(strings.Join(frames, "\n")))
	}
	if frames := sanitizerFrames(output); len(frames) > 0 {
		return "san:" + digest([]byte(strings.Join(frames, "\n")))
	}
	return "md5:" + digest(input)
}

func goFrames(output []byte) []string {
	if len(output) == 0 {
		return nil
	}
	ctx, err := stack.ParseDump(bytes.NewReader(output), io.Discard, false)
	if err != nil || ctx == nil {
		return nil
	}
	for _, gr := range ctx.Goroutines {
		if !gr.First {
			continue
		}
		var frames []string
		for _, call := range gr.Stack.Calls {
			name := call.Func.PkgDotName()
			if strings.HasPrefix(name, "runtime.") {
				continue
			}
			frames = append(frames, name)
			if len(frames) == signatureDepth {
				break
			}
		}
		return frames
	}
	return nil
}

func sanitizerFrames(output []byte) []string {
	var frames []string
	for _, m := range sanitizerFrame.FindAllSubmatch(output, signatureDepth) {
		frames = append(frames, string(m[1]))
	}
	return frames
}

func digest(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

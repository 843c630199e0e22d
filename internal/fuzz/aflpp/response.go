package aflpp

import (
	"bytes"
	"fmt"
	"statefuzz/config"
	"statefuzz/internal/types"
)

const maxStateIDLen = 64

// Extractor derives the protocol state from a server reply. It returns ""
// when the reply carries no state.
type Extractor func(reply []byte) types.StateID

func NewExtractor(name string) (Extractor, error) {
	switch name {
	case "", config.ExtractorReplyCode:
		return ReplyCode, nil
	case config.ExtractorFirstLine:
		return FirstLine, nil
	}
	return nil, fmt.Errorf("unknown state extractor %q", name)
}

// ReplyCode extracts the numeric code of FTP/SMTP style replies. For
// multi-line replies the code of the final line is used.
func ReplyCode(reply []byte) types.StateID {
	var code []byte
	for _, line := range bytes.Split(reply, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if len(line) < 3 || !isDigits(line[:3]) {
			continue
		}
		if len(line) == 3 || line[3] == ' ' || line[3] == '-' {
			code = line[:3]
		}
	}
	return types.StateID(code)
}

// FirstLine uses the first non-empty line of the reply, cut to 64 bytes.
func FirstLine(reply []byte) types.StateID {
	for _, line := range bytes.Split(reply, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if len(line) > maxStateIDLen {
			line = line[:maxStateIDLen]
		}
		return types.StateID(line)
	}
	return ""
}

func isDigits(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

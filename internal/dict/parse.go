package dict

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ParseDict reads AFL dictionary syntax: one `name="value"` or `"value"` per
// line, \xNN, \\ and \" escapes, # comments.
func ParseDict(content []byte) ([][]byte, error) {
	var tokens [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(content))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		start := strings.IndexByte(line, '"')
		if start < 0 || !strings.HasSuffix(line, `"`) || start == len(line)-1 {
			return nil, fmt.Errorf("line %d: value must be quoted", lineNo)
		}
		token, err := unquote(line[start+1 : len(line)-1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if len(token) > 0 {
			tokens = append(tokens, token)
		}
	}
	return tokens, scanner.Err()
}

func unquote(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		if i+1 >= len(s) {
			return nil, errors.New("dangling escape")
		}
		i++
		switch s[i] {
		case '\\', '"':
			out = append(out, s[i])
		case 'x':
			if i+2 >= len(s) {
				return nil, errors.New("short \\x escape")
			}
			v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("bad \\x escape: %w", err)
			}
			out = append(out, byte(v))
			i += 2
		default:
			return nil, fmt.Errorf("unknown escape \\%c", s[i])
		}
	}
	return out, nil
}

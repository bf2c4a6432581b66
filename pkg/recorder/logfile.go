package recorder

import (
	"bufio"
	"bytes"
	"sort"
	"strconv"
	"strings"
)

// Summary describes a file written by the Recorder.
type Summary struct {
	// Params are the PRM header values without the PRM keyword.
	Params  []string `json:"params"`
	Session string   `json:"session,omitempty"`
	Machine string   `json:"machine,omitempty"`
	Card    string   `json:"card,omitempty"`
	// Kinds counts records by their first word.
	Kinds map[string]int `json:"kinds"`
	// Dropped is the sum of DRP markers.
	Dropped uint64 `json:"dropped"`
	Lines   int    `json:"lines"`
	// Partial is set when the last line is not terminated, e.g. when the
	// card was pulled.
	Partial bool `json:"partial"`
}

// Summarize reads a recorded file.
func Summarize(data []byte) Summary {
	s := Summary{Kinds: make(map[string]int)}
	s.Partial = len(data) > 0 && data[len(data)-1] != '\n'
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(nil, len(data)+1)
	for sc.Scan() {
		line := sc.Text()
		s.Lines++
		kind, rest := line, ""
		if n := strings.IndexByte(line, ' '); n >= 0 {
			kind, rest = line[:n], line[n+1:]
		}
		s.Kinds[kind]++
		switch kind {
		case "PRM":
			s.Params = append(s.Params, rest)
			if v := strings.TrimPrefix(rest, "SESSION "); v != rest {
				s.Session = v
			} else if v := strings.TrimPrefix(rest, "MACHINE "); v != rest {
				s.Machine = v
			}
		case "CRD":
			s.Card = rest
		case "DRP":
			if n, err := strconv.ParseUint(rest, 10, 64); err == nil {
				s.Dropped += n
			}
		}
	}
	return s
}

// KindNames returns the record kinds in order.
func (s *Summary) KindNames() []string {
	names := make([]string, 0, len(s.Kinds))
	for k := range s.Kinds {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

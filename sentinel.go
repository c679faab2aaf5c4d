package cjunct

import (
	"bufio"
	"encoding/base64"
	"io"
	"strings"
)

// Sentinel protocol markers: emission-scanning actions look for
// `##cjunct[yield-outcome-b64 <b64key> <b64val>]##` at end of a stdout line.
const (
	sentinelPrefix = "##cjunct[yield-outcome-b64 "
	sentinelSuffix = "]##"
)

// scanEmission applies the sentinel protocol to one stdout-tagged line: on a
// well-formed sentinel the decoded key/value is fed through YieldOutcome and
// the returned line has the sentinel stripped (leading text preserved);
// matched reports whether that happened. A malformed sentinel is logged and
// the line is returned verbatim. Stderr-tagged emissions are never scanned.
func (a *Action) scanEmission(line string) (stripped string, matched bool) {
	idx := indexSentinel(line)
	if idx < 0 {
		return line, false
	}
	head, key, val, ok := decodeSentinel(line, idx)
	if !ok {
		a.logger.Warn("malformed yield-outcome sentinel, forwarding line verbatim")
		return line, false
	}
	a.YieldOutcome(key, val)
	return head, true
}

// indexSentinel returns the start offset of a trailing sentinel, or -1. The
// sentinel must appear at end of line; the search walks backwards so a
// literal prefix occurrence earlier in the line does not shadow the real
// marker.
func indexSentinel(line string) int {
	if len(line) < len(sentinelPrefix)+len(sentinelSuffix) {
		return -1
	}
	if !strings.HasSuffix(line, sentinelSuffix) {
		return -1
	}
	return strings.LastIndex(line[:len(line)-len(sentinelSuffix)], sentinelPrefix)
}

func decodeSentinel(line string, idx int) (head, key, val string, ok bool) {
	body := line[idx+len(sentinelPrefix) : len(line)-len(sentinelSuffix)]
	fields := strings.Fields(body)
	if len(fields) != 2 {
		return "", "", "", false
	}
	dKey, err := b64Decode(fields[0])
	if err != nil {
		return "", "", "", false
	}
	dVal, err := b64Decode(fields[1])
	if err != nil {
		return "", "", "", false
	}
	return line[:idx], dKey, dVal, true
}

func b64Decode(s string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// newLineScanner wraps r in a *bufio.Scanner sized generously for long
// subprocess output lines.
func newLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return sc
}

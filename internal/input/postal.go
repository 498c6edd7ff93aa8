// Package input loads the ordered list of postal codes a run iterates.
package input

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// ErrNoPostalCodes reports an input that yields no usable postal code.
var ErrNoPostalCodes = errors.New("no postal codes")

// Options selects where codes come from and which slice of them is used.
type Options struct {
	// Codes takes precedence over File.
	Codes []string
	File  string
	// Start skips that many codes from the front.
	Start int
	// Limit caps the number of codes; zero means no limit.
	Limit int
}

// Load returns the normalised postal codes selected by opts. Malformed
// entries are logged and skipped; repeated codes keep their first position.
func Load(opts Options, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	raw := opts.Codes
	if len(raw) == 0 {
		if strings.TrimSpace(opts.File) == "" {
			return nil, fmt.Errorf("%w: neither codes nor a file were given", ErrNoPostalCodes)
		}
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return nil, fmt.Errorf("read postal code file: %w", err)
		}
		raw, err = ParseJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parse postal code file %s: %w", opts.File, err)
		}
	}

	codes := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for i, entry := range raw {
		code, err := Normalize(entry)
		if err != nil {
			logger.Warn("skipping postal code", zap.Int("index", i), zap.String("entry", entry), zap.Error(err))
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}

	if opts.Start > 0 {
		if opts.Start >= len(codes) {
			codes = nil
		} else {
			codes = codes[opts.Start:]
		}
	}
	if opts.Limit > 0 && len(codes) > opts.Limit {
		codes = codes[:opts.Limit]
	}
	if len(codes) == 0 {
		return nil, ErrNoPostalCodes
	}
	return codes, nil
}

// ParseJSON decodes a JSON array whose entries are strings or integers.
func ParseJSON(data []byte) ([]string, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("expected a json array: %w", err)
	}
	out := make([]string, 0, len(entries))
	for i, e := range entries {
		e = bytes.TrimSpace(e)
		var s string
		if err := json.Unmarshal(e, &s); err == nil {
			out = append(out, s)
			continue
		}
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader(e))
		dec.UseNumber()
		if err := dec.Decode(&n); err != nil {
			return nil, fmt.Errorf("entry %d: not a string or number", i)
		}
		out = append(out, n.String())
	}
	return out, nil
}

// Normalize trims entry and left-pads it with zeros to five digits.
func Normalize(entry string) (string, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return "", errors.New("empty entry")
	}
	for _, r := range entry {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%q is not a postal code", entry)
		}
	}
	if len(entry) > 5 {
		return "", fmt.Errorf("%q has more than five digits", entry)
	}
	return strings.Repeat("0", 5-len(entry)) + entry, nil
}

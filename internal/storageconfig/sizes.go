package storageconfig

import (
	"fmt"
	"strconv"
	"strings"
)

// sizeSuffixes maps the power-of-two suffixes curtin accepts to their byte
// multiplier. "kB" and "k" are both 1024 — curtin never uses decimal/SI
// units for these strings.
var sizeSuffixes = []struct {
	suffix     string
	multiplier int64
}{
	{"kB", 1024},
	{"K", 1024},
	{"k", 1024},
	{"MB", 1024 * 1024},
	{"M", 1024 * 1024},
	{"GB", 1024 * 1024 * 1024},
	{"G", 1024 * 1024 * 1024},
	{"TB", 1024 * 1024 * 1024 * 1024},
	{"T", 1024 * 1024 * 1024 * 1024},
	{"B", 1},
}

// ParseSize parses a curtin size string into bytes. Bare integers are bytes.
func ParseSize(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	for _, suf := range sizeSuffixes {
		if strings.HasSuffix(s, suf.suffix) {
			numPart := strings.TrimSuffix(s, suf.suffix)
			numPart = strings.TrimSpace(numPart)
			val, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size %q: %w", s, err)
			}
			return Size(val * float64(suf.multiplier)), nil
		}
	}

	// No recognized suffix: bare byte count.
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: unrecognized suffix and not a bare integer", s)
	}
	return Size(val), nil
}

// UnmarshalYAML lets Size be written either as a YAML string ("3G") or a bare
// integer (3221225472) in the config document.
func (s *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var str string
	if err := unmarshal(&str); err == nil {
		parsed, err := ParseSize(str)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}

	var n int64
	if err := unmarshal(&n); err != nil {
		return fmt.Errorf("size must be a string or integer")
	}
	*s = Size(n)
	return nil
}

const MiB Size = 1024 * 1024
const GiB Size = 1024 * 1024 * 1024

package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CrypttabEntry is one line of /etc/crypttab: dm_name volume key-spec opts.
type CrypttabEntry struct {
	DMName  string
	Volume  string
	KeySpec string // path to keyfile, or "none" when unlocked interactively
	Options string
}

// Crypttab accumulates one record per dm_crypt action.
type Crypttab struct {
	entries []CrypttabEntry
}

// NewCrypttab returns an empty accumulator.
func NewCrypttab() *Crypttab { return &Crypttab{} }

// Add records one dm_crypt mapping. /dev/urandom and /dev/random key-specs
// are literal values curtin propagates verbatim.
func (c *Crypttab) Add(e CrypttabEntry) {
	if e.KeySpec == "" {
		e.KeySpec = "none"
	}
	c.entries = append(c.entries, e)
}

// Render formats the accumulated entries as crypttab text.
func (c *Crypttab) Render() string {
	var b strings.Builder
	for _, e := range c.entries {
		opts := e.Options
		if opts == "" {
			opts = "luks"
		}
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\n", e.DMName, e.Volume, e.KeySpec, opts)
	}
	return b.String()
}

// WriteCrypttab renders and writes /etc/crypttab under targetRoot.
func WriteCrypttab(targetRoot string, c *Crypttab) error {
	if len(c.entries) == 0 {
		return nil
	}
	path := filepath.Join(targetRoot, "etc", "crypttab")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("persist: mkdir for crypttab: %w", err)
	}
	if err := os.WriteFile(path, []byte(c.Render()), 0o644); err != nil {
		return fmt.Errorf("persist: write crypttab: %w", err)
	}
	return nil
}

// Package refdata resolves abstract instrument codes to concrete tradable
// contracts and maps instruments to sector labels. Both lookups are plain
// interfaces injected into their consumers; there is no process-wide
// instance.
package refdata

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"fleet/internal/logger"
)

// SectorResolver maps an instrument code to a sector label.
type SectorResolver interface {
	Sector(instrument string) string
}

// ContractResolver resolves an abstract commodity code (e.g. "rb") to the
// concrete tradable contract (e.g. "rb2501").
type ContractResolver interface {
	Resolve(instrument string) (string, error)
}

// Table is a file-backed implementation of both resolvers.
type Table struct {
	mu        sync.RWMutex
	sectors   map[string]string
	contracts map[string]string
}

type tableFile struct {
	Sectors   map[string]string `yaml:"sectors"`
	Contracts map[string]string `yaml:"contracts"`
}

func NewTable(sectors, contracts map[string]string) *Table {
	t := &Table{
		sectors:   make(map[string]string),
		contracts: make(map[string]string),
	}
	for k, v := range sectors {
		t.sectors[normalize(k)] = v
	}
	for k, v := range contracts {
		t.contracts[normalize(k)] = v
	}
	return t
}

// LoadTable reads a YAML file with `sectors:` and `contracts:` maps.
func LoadTable(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading refdata table failed: %w", err)
	}
	var f tableFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing refdata table failed: %w", err)
	}
	logger.Infof("refdata: loaded %d sector entries, %d contract entries from %s",
		len(f.Sectors), len(f.Contracts), path)
	return NewTable(f.Sectors, f.Contracts), nil
}

const sectorUnknown = "unknown"

func (t *Table) Sector(instrument string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.sectors[normalize(instrument)]; ok {
		return s
	}
	// Contract codes carry a numeric suffix; retry on the commodity root.
	if s, ok := t.sectors[root(instrument)]; ok {
		return s
	}
	return sectorUnknown
}

func (t *Table) Resolve(instrument string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	key := normalize(instrument)
	if c, ok := t.contracts[key]; ok {
		return c, nil
	}
	return "", fmt.Errorf("no tradable contract for instrument %q", instrument)
}

// Replace swaps the table contents, for hot reload.
func (t *Table) Replace(sectors, contracts map[string]string) {
	fresh := NewTable(sectors, contracts)
	t.mu.Lock()
	t.sectors = fresh.sectors
	t.contracts = fresh.contracts
	t.mu.Unlock()
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func root(s string) string {
	s = normalize(s)
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	return s[:i]
}

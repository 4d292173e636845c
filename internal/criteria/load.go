package criteria

import (
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/calibration-cli/internal/model"
)

// LoadFile reads a criteria table from YAML. The file has a top-level
// "criteria" key; classes it omits fall back to the built-in defaults.
func LoadFile(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, eris.Wrapf(err, "criteria: read %s", path)
	}
	return Parse(data)
}

// Parse decodes a YAML criteria document.
func Parse(data []byte) (Table, error) {
	var wrapper struct {
		Criteria Table `yaml:"criteria"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return Table{}, eris.Wrap(err, "criteria: parse")
	}

	t := wrapper.Criteria
	if t.Classes == nil {
		t.Classes = make(map[model.EquipmentClass]model.AcceptanceCriteria)
	}
	defaults := DefaultTable()
	for class, c := range defaults.Classes {
		if _, ok := t.Classes[class]; !ok {
			t.Classes[class] = c
		}
	}
	t.stamp()

	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

// Catalog is a reloadable criteria source. Lookups return copies, so a
// session holding criteria is unaffected by a later Replace.
type Catalog struct {
	mu    sync.RWMutex
	table Table
}

// NewCatalog creates a Catalog serving table.
func NewCatalog(table Table) *Catalog {
	return &Catalog{table: table}
}

// Lookup implements Source.
func (c *Catalog) Lookup(class model.EquipmentClass) (model.AcceptanceCriteria, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table.Lookup(class)
}

// Version returns the active table version.
func (c *Catalog) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table.Version
}

// Table returns a copy of the active table.
func (c *Catalog) Table() Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := Table{Version: c.table.Version, Classes: make(map[model.EquipmentClass]model.AcceptanceCriteria, len(c.table.Classes))}
	for k, v := range c.table.Classes {
		out.Classes[k] = v
	}
	return out
}

// Replace swaps in a new table after validating it.
func (c *Catalog) Replace(table Table) error {
	table.stamp()
	if err := table.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	old := c.table.Version
	c.table = table
	c.mu.Unlock()

	zap.L().Info("criteria: table replaced",
		zap.String("from_version", old),
		zap.String("to_version", table.Version),
	)
	return nil
}

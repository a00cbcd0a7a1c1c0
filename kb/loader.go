package kb

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/signalsfoundry/airroute-simulator/model"
)

// catalogFile is the on-disk layout shared by the JSON and msgpack formats:
// {"airports": [{"id": ..., "name": ..., "Latitude": ..., "Longitude": ...}]}
type catalogFile struct {
	Airports []model.Waypoint `json:"airports" msgpack:"airports"`
}

// LoadJSON reads a JSON catalog and returns a sealed Catalog.
func LoadJSON(r io.Reader) (*Catalog, error) {
	var f catalogFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog json: %w", err)
	}
	return build(f)
}

// LoadMsgpack reads a msgpack catalog snapshot and returns a sealed Catalog.
func LoadMsgpack(r io.Reader) (*Catalog, error) {
	var f catalogFile
	if err := msgpack.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog msgpack: %w", err)
	}
	return build(f)
}

// LoadFile picks the decoder from the file extension (.msgpack/.mp, default JSON).
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %q: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".msgpack", ".mp":
		return LoadMsgpack(f)
	default:
		return LoadJSON(f)
	}
}

// WriteMsgpack writes a compact snapshot of the catalog that LoadMsgpack can read.
func (c *Catalog) WriteMsgpack(w io.Writer) error {
	return msgpack.NewEncoder(w).Encode(catalogFile{Airports: c.List()})
}

func build(f catalogFile) (*Catalog, error) {
	c := NewCatalog()
	for _, w := range f.Airports {
		if err := c.Add(w); err != nil {
			return nil, err
		}
	}
	c.Seal()
	return c, nil
}

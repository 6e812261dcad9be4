// Package layout models compiler storage layouts and checks that an edited
// contract keeps the storage positions of the deployed one.
package layout

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
)

// StorageVariable is one entry of a compiler storage layout.
type StorageVariable struct {
	AstID    int    `json:"astId"`
	Contract string `json:"contract"`
	Label    string `json:"label"`
	Offset   uint64 `json:"offset"`
	Slot     string `json:"slot"`
	Type     string `json:"type"`
}

// Key identifies a variable across two layouts of the same contract.
func (v StorageVariable) Key() string {
	return v.Contract + ":" + v.Label
}

func (v *StorageVariable) UnmarshalJSON(data []byte) error {
	var raw struct {
		AstID    int             `json:"astId"`
		Contract string          `json:"contract"`
		Label    string          `json:"label"`
		Offset   json.RawMessage `json:"offset"`
		Slot     json.RawMessage `json:"slot"`
		Type     string          `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	offset, err := decodeNumber(raw.Offset)
	if err != nil {
		return fmt.Errorf("invalid offset of %s: %w", raw.Label, err)
	}
	slot, err := decodeNumber(raw.Slot)
	if err != nil {
		return fmt.Errorf("invalid slot of %s: %w", raw.Label, err)
	}
	*v = StorageVariable{
		AstID:    raw.AstID,
		Contract: raw.Contract,
		Label:    raw.Label,
		Type:     raw.Type,
		Slot:     slot,
	}
	if offset != "" {
		if v.Offset, err = strconv.ParseUint(offset, 10, 64); err != nil {
			return fmt.Errorf("invalid offset of %s: %w", raw.Label, err)
		}
	}
	return nil
}

// decodeNumber accepts both 3 and "3"; compilers emit either for member
// offsets and slots.
func decodeNumber(data json.RawMessage) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// TypeInfo describes a type referenced from a layout. Members is filled for
// structs, whether the compiler put them at the top level or under "other".
type TypeInfo struct {
	Encoding      string            `json:"encoding"`
	Label         string            `json:"label"`
	NumberOfBytes string            `json:"numberOfBytes"`
	Key           string            `json:"key,omitempty"`
	Value         string            `json:"value,omitempty"`
	Base          string            `json:"base,omitempty"`
	Members       []StorageVariable `json:"members,omitempty"`
}

func (t *TypeInfo) UnmarshalJSON(data []byte) error {
	type plain TypeInfo
	var raw struct {
		plain
		Other *struct {
			Members []StorageVariable `json:"members"`
		} `json:"other"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = TypeInfo(raw.plain)
	if len(t.Members) == 0 && raw.Other != nil {
		t.Members = raw.Other.Members
	}
	return nil
}

// StorageLayout is the storage layout of one compiled contract.
type StorageLayout struct {
	Storage []StorageVariable   `json:"storage"`
	Types   map[string]TypeInfo `json:"types"`
}

// ErrNoLayout is returned when a document carries no storage layout.
var ErrNoLayout = errors.New("storage layout is missing")

// Parse decodes a storage layout from a raw layout document, a compiler
// artifact holding "storageLayout" or a clone metadata file holding
// "storage_layout".
func Parse(data []byte) (*StorageLayout, error) {
	var doc struct {
		Storage       json.RawMessage `json:"storage"`
		StorageLayout json.RawMessage `json:"storageLayout"`
		Metadata      json.RawMessage `json:"storage_layout"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode storage layout: %w", err)
	}

	var src []byte
	switch {
	case doc.Storage != nil:
		src = data
	case !isNull(doc.StorageLayout):
		src = doc.StorageLayout
	case !isNull(doc.Metadata):
		src = doc.Metadata
	default:
		return nil, ErrNoLayout
	}

	var l StorageLayout
	if err := json.Unmarshal(src, &l); err != nil {
		return nil, fmt.Errorf("failed to decode storage layout: %w", err)
	}
	return &l, nil
}

func isNull(data json.RawMessage) bool {
	return data == nil || bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

// Load reads and parses the storage layout in the file at path.
func Load(path string) (*StorageLayout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage layout: %w", err)
	}
	l, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// LoadProject loads the original layout from a clone metadata file and the
// current one from the freshly built artifact.
func LoadProject(metadataPath, artifactPath string) (original, current *StorageLayout, err error) {
	original, err = Load(metadataPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load original layout: %w", err)
	}
	current, err = Load(artifactPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load current layout: %w", err)
	}
	return original, current, nil
}

// CheckProject compares the layout recorded in a clone metadata file with
// the layout of the freshly built artifact.
func CheckProject(metadataPath, artifactPath string) error {
	original, current, err := LoadProject(metadataPath, artifactPath)
	if err != nil {
		return err
	}
	return CheckCompatible(original, current)
}

package layout

import (
	"errors"
	"fmt"
)

// MissingVariableError reports an original variable absent from the current layout.
type MissingVariableError struct {
	Label string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("the storage variable %s is missing in the current contract", e.Label)
}

// LayoutMismatchError reports a variable whose slot or offset moved.
type LayoutMismatchError struct {
	Label string
}

func (e *LayoutMismatchError) Error() string {
	return fmt.Sprintf("the storage variable %s has different layout in the current contract", e.Label)
}

// IsIncompatible reports whether err is a storage layout incompatibility
// rather than a failure to load a layout.
func IsIncompatible(err error) bool {
	var missing *MissingVariableError
	var mismatch *LayoutMismatchError
	return errors.As(err, &missing) || errors.As(err, &mismatch)
}

func index(l *StorageLayout) map[string]StorageVariable {
	vars := make(map[string]StorageVariable, len(l.Storage))
	for _, v := range l.Storage {
		vars[v.Key()] = v
	}
	return vars
}

func check(v StorageVariable, current map[string]StorageVariable) error {
	cur, ok := current[v.Key()]
	if !ok {
		return &MissingVariableError{Label: v.Label}
	}
	// only the position matters; types may be renamed
	if cur.Slot != v.Slot || cur.Offset != v.Offset {
		return &LayoutMismatchError{Label: v.Label}
	}
	return nil
}

// CheckCompatible reports the first original variable that current does not
// keep at the same slot and offset. Variables added in current are allowed.
func CheckCompatible(original, current *StorageLayout) error {
	vars := index(current)
	for _, v := range original.Storage {
		if err := check(v, vars); err != nil {
			return err
		}
	}
	return nil
}

// Diff is CheckCompatible without stopping at the first incompatibility.
func Diff(original, current *StorageLayout) []error {
	vars := index(current)
	var errs []error
	for _, v := range original.Storage {
		if err := check(v, vars); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

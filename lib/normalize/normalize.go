// Package normalize flattens raw records with nested breakdown sequences
// (demographic buckets, region splits) into tabular rows with an invariant
// column set. It performs shape transformation only; business validation
// stays with the caller.
package normalize

import (
	"fmt"
	"sort"
	"strings"

	"adharvest/lib/record"
)

// AmbiguousBreakdownError reports a record carrying more than one non-empty
// breakdown dimension at once. There is no defined cross-product semantics
// for that, so it has to surface instead of being guessed at.
type AmbiguousBreakdownError struct {
	Fields []string
}

func (e *AmbiguousBreakdownError) Error() string {
	return fmt.Sprintf(
		"multiple breakdown fields present at once: %s",
		strings.Join(e.Fields, ", "),
	)
}

// ShapeError reports a declared breakdown field whose value does not have
// the expected shape (a sequence of mappings with scalar entries).
type ShapeError struct {
	Field string
	Want  string
	Got   record.Kind
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("field %q: expected %s, got kind %d", e.Field, e.Want, e.Got)
}

// Flatten turns one raw record into flat rows.
//
// Without a breakdown it emits exactly one row holding the record's scalar
// fields. With exactly one non-empty breakdown field present it emits one
// row per element: top-level scalars are replicated onto every row and the
// element's own keys are promoted into the row's column namespace. The
// union of element key sets forms the column set; elements missing a key
// get record.Absent.
//
// An element key that collides with a top-level scalar claims the column
// for the whole pass: rows take the element's value, and elements missing
// the key get record.Absent rather than falling back to the scalar.
// Flatten is a pure function of its input.
func Flatten(rec record.RawRecord, breakdownFields []string) ([]record.FlatRow, error) {
	scalars := record.FlatRow{}
	for name, v := range rec {
		if v.Kind == record.KindScalar || v.Kind == record.KindAbsent {
			scalars[name] = v
		}
	}

	var present []string
	for _, field := range breakdownFields {
		v, ok := rec[field]
		if !ok || v.IsAbsent() {
			continue
		}
		if v.Kind != record.KindSequence {
			return nil, &ShapeError{Field: field, Want: "sequence of mappings", Got: v.Kind}
		}
		if len(v.Sequence) > 0 {
			present = append(present, field)
		}
	}
	if len(present) > 1 {
		sort.Strings(present)
		return nil, &AmbiguousBreakdownError{Fields: present}
	}
	if len(present) == 0 {
		return []record.FlatRow{scalars}, nil
	}

	field := present[0]
	elements := rec[field].Sequence

	// column set is the union of every element's keys
	columns := map[string]struct{}{}
	for _, elem := range elements {
		if elem.Kind != record.KindMapping {
			return nil, &ShapeError{Field: field, Want: "sequence of mappings", Got: elem.Kind}
		}
		for k, v := range elem.Mapping {
			if v.Kind == record.KindSequence || v.Kind == record.KindMapping {
				return nil, &ShapeError{Field: field + "." + k, Want: "scalar", Got: v.Kind}
			}
			columns[k] = struct{}{}
		}
	}

	rows := make([]record.FlatRow, 0, len(elements))
	for _, elem := range elements {
		row := make(record.FlatRow, len(scalars)+len(columns))
		for k, v := range scalars {
			row[k] = v
		}
		for k := range columns {
			if v, ok := elem.Mapping[k]; ok {
				row[k] = v
			} else {
				row[k] = record.Absent
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Package plan computes the column plan for merging an autodetected
// staging schema into an existing destination schema. Building the plan
// is pure and warehouse-free; rendering it as a query lives in sql.go.
package plan

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/wholesaling-data/leadsloader/warehouse/model"
)

// UnknownTypePolicy decides what happens when a destination column
// carries a type tag outside the supported cast targets.
type UnknownTypePolicy int

const (
	// UnknownAsString casts unrecognized types like STRING. STRING can
	// represent any input, so this is the lossy-safe default.
	UnknownAsString UnknownTypePolicy = iota
	// UnknownRejected fails the plan instead of guessing.
	UnknownRejected
)

// castTargets maps warehouse type tags to cast targets, including the
// legacy aliases autodetected schemas report (INTEGER, FLOAT, BOOLEAN).
var castTargets = map[string]model.FieldType{
	"STRING":     model.StringType,
	"BOOL":       model.BoolType,
	"BOOLEAN":    model.BoolType,
	"INT64":      model.Int64Type,
	"INTEGER":    model.Int64Type,
	"FLOAT64":    model.Float64Type,
	"FLOAT":      model.Float64Type,
	"NUMERIC":    model.NumericType,
	"BIGNUMERIC": model.BigNumericType,
	"DATE":       model.DateType,
	"DATETIME":   model.DateTimeType,
	"TIMESTAMP":  model.TimestampType,
	"TIME":       model.TimeType,
	"GEOGRAPHY":  model.GeographyType,
}

// CastTarget resolves a raw type tag to its cast target.
func CastTarget(typeTag string, policy UnknownTypePolicy) (model.FieldType, error) {
	if target, ok := castTargets[strings.ToUpper(typeTag)]; ok {
		return target, nil
	}
	if policy == UnknownRejected {
		return "", fmt.Errorf("unsupported field type %q", typeTag)
	}
	return model.StringType, nil
}

// Expression is one destination column of the merge: where its value
// comes from and what type it must be coerced to.
type Expression struct {
	// Column is the destination column name.
	Column string
	// HasSource reports whether a same-named staging column exists.
	// When false the column is filled with a typed NULL literal.
	HasSource bool
	// Target is the resolved cast target for the destination column.
	Target model.FieldType
}

// Plan is the ordered expression list for one merge. Its order and
// length always match the destination schema exactly: extra staging
// columns are dropped, missing ones become NULL.
type Plan []Expression

// Build derives the plan for merging staging into destination. The
// destination schema is authoritative; staging is only consulted for
// column membership, case-sensitively.
func Build(destination, staging model.Schema, policy UnknownTypePolicy) (Plan, error) {
	stagingColumns := lo.SliceToMap(staging, func(f model.Field) (string, struct{}) {
		return f.Name, struct{}{}
	})

	p := make(Plan, 0, len(destination))
	for _, field := range destination {
		target, err := CastTarget(field.Type, policy)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", field.Name, err)
		}
		_, hasSource := stagingColumns[field.Name]
		p = append(p, Expression{
			Column:    field.Name,
			HasSource: hasSource,
			Target:    target,
		})
	}
	return p, nil
}

// Columns returns the destination column names in plan order.
func (p Plan) Columns() []string {
	return lo.Map(p, func(e Expression, _ int) string {
		return e.Column
	})
}

package model

import "fmt"

// Table identifies a destination table by its fully qualified
// three-part name. The name is derived from a CSV file's base name,
// so renaming a source file changes its destination table.
type Table struct {
	Project string
	Dataset string
	Name    string
}

func (t Table) String() string {
	return fmt.Sprintf("%s.%s.%s", t.Project, t.Dataset, t.Name)
}

// WithName returns the same project/dataset identity pointing at a
// different table name. Used for staging tables.
func (t Table) WithName(name string) Table {
	t.Name = name
	return t
}

// FieldType is a BigQuery scalar type usable as a cast target.
type FieldType string

const (
	StringType     FieldType = "STRING"
	BoolType       FieldType = "BOOL"
	Int64Type      FieldType = "INT64"
	Float64Type    FieldType = "FLOAT64"
	NumericType    FieldType = "NUMERIC"
	BigNumericType FieldType = "BIGNUMERIC"
	DateType       FieldType = "DATE"
	DateTimeType   FieldType = "DATETIME"
	TimestampType  FieldType = "TIMESTAMP"
	TimeType       FieldType = "TIME"
	GeographyType  FieldType = "GEOGRAPHY"
)

// Field is a single column of a table schema. Type holds the raw type
// tag as reported by the warehouse, e.g. INTEGER rather than INT64 for
// autodetected columns.
type Field struct {
	Name string
	Type string
}

// Schema is an ordered field list. Order matters: the destination
// schema defines the column order of the merge statement.
type Schema []Field

// Has reports whether the schema carries a field with the given name.
// Lookups are case-sensitive, matching warehouse column semantics.
func (s Schema) Has(name string) bool {
	for _, f := range s {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Columns returns the field names in schema order.
func (s Schema) Columns() []string {
	columns := make([]string, len(s))
	for i, f := range s {
		columns[i] = f.Name
	}
	return columns
}

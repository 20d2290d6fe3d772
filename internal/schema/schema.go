package schema

import (
	"fmt"
	"strings"
)

const (
	// TableName is the name of the inventory table.
	TableName = "inventory"

	// Version is the schema version this binary writes. Bump it together with
	// a migration step in storage when a column is added.
	Version = 1
)

// Supported SQL dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Column names of the inventory table.
const (
	ColumnID            = "id"
	ColumnName          = "name"
	ColumnPrice         = "price"
	ColumnQuantity      = "quantity"
	ColumnSupplierName  = "supplier_name"
	ColumnSupplierPhone = "supplier_phone"
)

// Type is the semantic type of a column.
type Type string

const (
	TypeInteger Type = "integer"
	TypeText    Type = "text"
)

// Constraint describes what a column accepts.
type Constraint string

const (
	PrimaryKey       Constraint = "primary key"
	RequiredNonEmpty Constraint = "required, non-empty"
	RequiredNonNeg   Constraint = "required, >= 0"
	NonNegDefaultZ   Constraint = ">= 0, default 0"
)

// Column is one (name, type, constraint) tuple of the table.
type Column struct {
	Name       string
	Type       Type
	Constraint Constraint
}

var columns = []Column{
	{Name: ColumnID, Type: TypeInteger, Constraint: PrimaryKey},
	{Name: ColumnName, Type: TypeText, Constraint: RequiredNonEmpty},
	{Name: ColumnPrice, Type: TypeInteger, Constraint: RequiredNonNeg},
	{Name: ColumnQuantity, Type: TypeInteger, Constraint: NonNegDefaultZ},
	{Name: ColumnSupplierName, Type: TypeText, Constraint: RequiredNonEmpty},
	{Name: ColumnSupplierPhone, Type: TypeText, Constraint: RequiredNonEmpty},
}

// Columns returns the ordered column list. The returned slice is a copy.
func Columns() []Column {
	out := make([]Column, len(columns))
	copy(out, columns)
	return out
}

// Lookup returns the column with the given name.
func Lookup(name string) (Column, bool) {
	for _, c := range columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// CreateStatement renders the CREATE TABLE statement for the given dialect.
func CreateStatement(dialect string) (string, error) {
	var pk string
	switch dialect {
	case DialectSQLite:
		pk = "INTEGER PRIMARY KEY AUTOINCREMENT"
	case DialectPostgres:
		pk = "BIGSERIAL PRIMARY KEY"
	default:
		return "", fmt.Errorf("unsupported dialect %q", dialect)
	}

	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		defs = append(defs, c.Name+" "+columnDef(c, pk))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", TableName, strings.Join(defs, ", ")), nil
}

func columnDef(c Column, pk string) string {
	switch c.Constraint {
	case PrimaryKey:
		return pk
	case RequiredNonEmpty:
		return "TEXT NOT NULL CHECK (length(" + c.Name + ") > 0)"
	case RequiredNonNeg:
		return "INTEGER NOT NULL CHECK (" + c.Name + " >= 0)"
	case NonNegDefaultZ:
		return "INTEGER NOT NULL DEFAULT 0 CHECK (" + c.Name + " >= 0)"
	}
	return strings.ToUpper(string(c.Type))
}

// Package schema defines the fixed destination table for transactions: its
// ordered columns, semantic types, nullability and primary key.
//
// The same Definition drives three things: the CREATE TABLE statement each
// storage backend renders, the coerce step of the normalizer, and the
// pre-load validation of a batch.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"txetl/internal/ddl"
)

// Type is the semantic (dialect-independent) column type.
type Type int

const (
	Text Type = iota
	Integer
	Decimal
	Timestamp
)

// String returns the lower-case type name used in logs and config.
func (t Type) String() string {
	switch t {
	case Text:
		return "text"
	case Integer:
		return "integer"
	case Decimal:
		return "decimal"
	case Timestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Column names of the transactions table.
const (
	TransactionID   = "transaction_id"
	UserID          = "user_id"
	ProductID       = "product_id"
	ProductCategory = "product_category"
	Quantity        = "quantity"
	PricePerUnit    = "price_per_unit"
	PaymentMethod   = "payment_method"
	TransactionDate = "transaction_date"
	ShippingCountry = "shipping_country"
	TotalPrice      = "total_price"
)

// Deprecated lists source fields that are never carried into the table.
var Deprecated = []string{"is_returned", "return_flag"}

// ErrInvalidBatch is wrapped by Validate failures.
var ErrInvalidBatch = errors.New("invalid batch")

// Column describes one destination column. Precision and Scale only apply to
// Decimal columns.
type Column struct {
	Name       string
	Type       Type
	Nullable   bool
	PrimaryKey bool
	Precision  int
	Scale      int
}

// Definition is an ordered, immutable column list.
type Definition struct {
	columns []Column
}

// New builds a Definition from cols. It panics on an empty list, duplicate
// names or a missing primary key, which are programming errors.
func New(cols ...Column) Definition {
	if len(cols) == 0 {
		panic("schema: at least one column is required")
	}
	seen := make(map[string]struct{}, len(cols))
	pk := 0
	for _, c := range cols {
		if _, dup := seen[c.Name]; dup {
			panic("schema: duplicate column " + c.Name)
		}
		seen[c.Name] = struct{}{}
		if c.PrimaryKey {
			pk++
		}
	}
	if pk != 1 {
		panic("schema: exactly one primary key column is required")
	}
	out := make([]Column, len(cols))
	copy(out, cols)
	return Definition{columns: out}
}

// Transactions returns the transactions table definition.
func Transactions() Definition {
	return New(
		Column{Name: TransactionID, Type: Text, PrimaryKey: true},
		Column{Name: UserID, Type: Integer, Nullable: true},
		Column{Name: ProductID, Type: Text, Nullable: true},
		Column{Name: ProductCategory, Type: Text, Nullable: true},
		Column{Name: Quantity, Type: Integer, Nullable: true},
		Column{Name: PricePerUnit, Type: Decimal, Nullable: true, Precision: 10, Scale: 2},
		Column{Name: PaymentMethod, Type: Text, Nullable: true},
		Column{Name: TransactionDate, Type: Timestamp, Nullable: true},
		Column{Name: ShippingCountry, Type: Text, Nullable: true},
		Column{Name: TotalPrice, Type: Decimal, Nullable: true, Precision: 10, Scale: 2},
	)
}

// Columns returns a copy of the column list.
func (d Definition) Columns() []Column {
	out := make([]Column, len(d.columns))
	copy(out, d.columns)
	return out
}

// Names returns the column names in order.
func (d Definition) Names() []string {
	out := make([]string, len(d.columns))
	for i, c := range d.columns {
		out[i] = c.Name
	}
	return out
}

// Key returns the primary key column.
func (d Definition) Key() Column {
	for _, c := range d.columns {
		if c.PrimaryKey {
			return c
		}
	}
	// unreachable: New enforces a primary key
	return Column{}
}

// Index returns the position of name, or -1.
func (d Definition) Index(name string) int {
	for i, c := range d.columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Lookup returns the column named name.
func (d Definition) Lookup(name string) (Column, bool) {
	if i := d.Index(name); i >= 0 {
		return d.columns[i], true
	}
	return Column{}, false
}

// TableDef renders the definition as a ddl.TableDef for the table fqn, using
// mapType to translate semantic types into a backend's SQL types.
func (d Definition) TableDef(fqn string, mapType func(Column) string) ddl.TableDef {
	cols := make([]ddl.ColumnDef, len(d.columns))
	for i, c := range d.columns {
		cols[i] = ddl.ColumnDef{
			Name:       c.Name,
			SQLType:    mapType(c),
			Nullable:   c.Nullable,
			PrimaryKey: c.PrimaryKey,
		}
	}
	return ddl.TableDef{FQN: strings.TrimSpace(fqn), Columns: cols}
}

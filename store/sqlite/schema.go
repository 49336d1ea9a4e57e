package sqlite

import (
	"fmt"
	"strings"
)

// CurrentSchemaVersion is the value of PRAGMA user_version once Open has
// succeeded. Databases with a lower value are rebuilt by migrate.
//
// Known versions:
//
//	1: estimates/line_items with camelCase columns, cost-based line items
//	2: customer contact fields on estimates, direct line item price
//	3: timesheet_entries
//	4: users and quotes managed here, FK actions, line item position
//	5: users.email compared case-insensitively, stored lowercased
const CurrentSchemaVersion = 5

// DefaultExclusions is the exclusions text given to estimates that predate
// the column.
const DefaultExclusions = "M-F 8-5\nAny item not on quote"

// ColumnType is the storage class a column is declared with.
type ColumnType int

const (
	Text ColumnType = iota
	Real
	Integer
	Bool
	Timestamp
)

func (t ColumnType) sqlType() string {
	switch t {
	case Real:
		return "REAL"
	case Integer:
		return "INTEGER"
	case Bool:
		return "BOOLEAN"
	case Timestamp:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

// Column describes one column of the current schema and how values for it
// are recovered from rows written under older schemas.
type Column struct {
	Name       string
	Type       ColumnType
	PrimaryKey bool
	NotNull    bool
	Unique     bool
	Nullable   bool   // zero values are stored as NULL
	Fold       bool   // COLLATE NOCASE; carried-over values are trimmed and lowercased
	Default    string // SQL literal
	Fallback   any    // value for rows that lack the column
	Aliases    []string
}

func (c Column) definition() string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteString(" ")
	b.WriteString(c.Type.sqlType())
	if c.Fold {
		b.WriteString(" COLLATE NOCASE")
	}
	if c.PrimaryKey {
		b.WriteString(" PRIMARY KEY AUTOINCREMENT")
		return b.String()
	}
	if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	if c.Unique {
		b.WriteString(" UNIQUE")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(c.Default)
	}
	return b.String()
}

// addDefinition is the clause used by ALTER TABLE ADD COLUMN, which rejects
// UNIQUE, non-constant defaults and NOT NULL without a default.
func (c Column) addDefinition() string {
	def := c.Name + " " + c.Type.sqlType()
	if c.Fold {
		def += " COLLATE NOCASE"
	}
	if c.Default == "" || c.Default == "CURRENT_TIMESTAMP" {
		return def
	}
	if c.NotNull {
		def += " NOT NULL"
	}
	return def + " DEFAULT " + c.Default
}

// OnDelete actions understood by the orphan pruning step of a migration.
const (
	Cascade = "CASCADE"
	SetNull = "SET NULL"
)

type ForeignKey struct {
	Column   string
	RefTable string
	OnDelete string
}

// Table is the declarative definition of one table. Tables are listed
// parents first.
type Table struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
	Indexes     []string
	// Derive holds statements that recompute derived columns after rows
	// have been carried over from an older schema.
	Derive []string
}

// CreateSQL returns the CREATE TABLE statement for t.
func (t Table) CreateSQL() string {
	parts := make([]string, 0, len(t.Columns)+len(t.ForeignKeys))
	for _, c := range t.Columns {
		parts = append(parts, "\t"+c.definition())
	}
	for _, fk := range t.ForeignKeys {
		parts = append(parts, fmt.Sprintf("\tFOREIGN KEY (%s) REFERENCES %s(id) ON DELETE %s",
			fk.Column, fk.RefTable, fk.OnDelete))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", t.Name, strings.Join(parts, ",\n"))
}

// Column returns the named column.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (t Table) columnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// =============================================================================
// CURRENT SCHEMA
// =============================================================================

func idCol() Column { return Column{Name: "id", Type: Integer, PrimaryKey: true} }

func textCol(name string) Column {
	return Column{Name: name, Type: Text, NotNull: true, Default: "''"}
}

func realCol(name string, aliases ...string) Column {
	return Column{Name: name, Type: Real, NotNull: true, Default: "0", Aliases: aliases}
}

func timestampCol(name string) Column {
	return Column{Name: name, Type: Timestamp, Default: "CURRENT_TIMESTAMP"}
}

// Schema is the current schema, parents first.
var Schema = []Table{
	{
		Name: "users",
		Columns: []Column{
			idCol(),
			{Name: "email", Type: Text, NotNull: true, Unique: true, Fold: true},
			{Name: "password", Type: Text, NotNull: true, Default: "''"},
			textCol("name"),
			{Name: "role", Type: Text, NotNull: true, Default: "'user'", Fallback: "user"},
			{Name: "is_approved", Type: Bool, NotNull: true, Default: "0"},
			timestampCol("created_at"),
		},
		Indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_users_role ON users(role)",
		},
	},
	{
		Name: "estimates",
		Columns: []Column{
			idCol(),
			{Name: "number", Type: Text, NotNull: true, Unique: true},
			textCol("date"),
			textCol("po"),
			textCol("sales_rep"),
			textCol("customer_name"),
			textCol("customer_email"),
			textCol("customer_phone"),
			textCol("bill_to_address"),
			textCol("work_ship_address"),
			textCol("scope_of_work"),
			{Name: "exclusions", Type: Text, NotNull: true, Default: "''", Fallback: DefaultExclusions},
			realCol("sales_tax"),
			realCol("total_amount", "total"),
			timestampCol("created_at"),
			timestampCol("updated_at"),
		},
		Indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_estimates_date_number ON estimates(date DESC, number DESC)",
		},
	},
	{
		Name: "line_items",
		Columns: []Column{
			idCol(),
			{Name: "estimate_id", Type: Integer, NotNull: true},
			{Name: "position", Type: Integer, NotNull: true, Default: "0"},
			realCol("quantity", "qty"),
			textCol("description"),
			realCol("price"),
			realCol("total"),
		},
		ForeignKeys: []ForeignKey{
			{Column: "estimate_id", RefTable: "estimates", OnDelete: Cascade},
		},
		Indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_line_items_estimate ON line_items(estimate_id, position)",
		},
		Derive: []string{
			"UPDATE line_items SET total = ROUND(quantity * price, 2)",
		},
	},
	{
		Name: "timesheet_entries",
		Columns: []Column{
			idCol(),
			{Name: "user_id", Type: Integer, NotNull: true, Default: "0"},
			{Name: "estimate_id", Type: Integer, Nullable: true},
			textCol("date"),
			textCol("customer_name"),
			textCol("work_order"),
			textCol("notes"),
			textCol("travel_start"),
			textCol("travel_start_location"),
			textCol("time_in"),
			textCol("time_in_location"),
			textCol("time_out"),
			textCol("time_out_location"),
			textCol("travel_home"),
			textCol("travel_home_location"),
			realCol("total_hours"),
			timestampCol("created_at"),
			timestampCol("updated_at"),
		},
		ForeignKeys: []ForeignKey{
			{Column: "estimate_id", RefTable: "estimates", OnDelete: SetNull},
		},
		Indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_timesheet_user_date ON timesheet_entries(user_id, date DESC, time_in DESC)",
			"CREATE INDEX IF NOT EXISTS idx_timesheet_estimate ON timesheet_entries(estimate_id) WHERE estimate_id IS NOT NULL",
		},
		Derive: []string{
			`UPDATE timesheet_entries
			SET total_hours = ROUND(((strftime('%s', time_out) - strftime('%s', time_in) + 86400) % 86400) / 3600.0, 2)
			WHERE strftime('%s', time_in) IS NOT NULL AND strftime('%s', time_out) IS NOT NULL`,
		},
	},
	{
		Name: "quotes",
		Columns: []Column{
			idCol(),
			textCol("customer_name"),
			textCol("customer_email"),
			textCol("customer_phone"),
			textCol("description"),
			{Name: "items", Type: Text, NotNull: true, Default: "'[]'", Fallback: "[]"},
			realCol("total_amount"),
			{Name: "status", Type: Text, NotNull: true, Default: "'pending'", Fallback: "pending"},
			{Name: "user_id", Type: Integer, Nullable: true},
			timestampCol("created_at"),
		},
		ForeignKeys: []ForeignKey{
			{Column: "user_id", RefTable: "users", OnDelete: SetNull},
		},
		Indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_quotes_created ON quotes(created_at DESC)",
		},
	},
}

// LookupTable returns the current definition of the named table.
func LookupTable(name string) (Table, bool) {
	for _, t := range Schema {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

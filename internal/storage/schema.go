// TableSpec types live here so backend packages can render DDL without
// importing the loader.
package storage

// ColumnType is a logical column type; each backend maps it to its own SQL type.
type ColumnType string

const (
	TypeText      ColumnType = "text"
	TypeKey       ColumnType = "key" // bounded text used as a natural or foreign key
	TypeChar      ColumnType = "char"
	TypeInt       ColumnType = "int"
	TypeBigInt    ColumnType = "bigint"
	TypeFloat     ColumnType = "float"
	TypeTimestamp ColumnType = "timestamptz"
)

type TableSpec struct {
	Name        string           `json:"name"`
	PrimaryKey  *PrimaryKeySpec  `json:"primary_key,omitempty"`
	Columns     []ColumnSpec     `json:"columns"`
	Constraints []ConstraintSpec `json:"constraints,omitempty"`
}

type PrimaryKeySpec struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type,omitempty"` // empty = surrogate serial / identity
}

// Serial reports whether the primary key is system generated.
func (p *PrimaryKeySpec) Serial() bool { return p != nil && p.Type == "" }

type ColumnSpec struct {
	Name       string     `json:"name"`
	Type       ColumnType `json:"type"`
	References string     `json:"references,omitempty"` // "table(column)"
	OnDelete   string     `json:"on_delete,omitempty"`  // "SET NULL"
	Nullable   *bool      `json:"nullable,omitempty"`
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}

func nullable() *bool { b := true; return &b }

// WarehouseTables describes the star schema in dependency order: every table
// appears after the tables it references.
func WarehouseTables() []TableSpec {
	return []TableSpec{
		{
			Name:       "artists",
			PrimaryKey: &PrimaryKeySpec{Name: "artist_id", Type: TypeKey},
			Columns: []ColumnSpec{
				{Name: "name", Type: TypeText},
				{Name: "location", Type: TypeText, Nullable: nullable()},
				{Name: "latitude", Type: TypeFloat, Nullable: nullable()},
				{Name: "longitude", Type: TypeFloat, Nullable: nullable()},
			},
		},
		{
			Name:       "songs",
			PrimaryKey: &PrimaryKeySpec{Name: "song_id", Type: TypeKey},
			Columns: []ColumnSpec{
				{Name: "title", Type: TypeText},
				{Name: "artist_id", Type: TypeKey, References: "artists(artist_id)"},
				{Name: "year", Type: TypeInt},
				{Name: "duration", Type: TypeFloat},
			},
		},
		{
			Name:       "users",
			PrimaryKey: &PrimaryKeySpec{Name: "user_id", Type: TypeKey},
			Columns: []ColumnSpec{
				{Name: "first_name", Type: TypeText, Nullable: nullable()},
				{Name: "last_name", Type: TypeText, Nullable: nullable()},
				{Name: "gender", Type: TypeChar, Nullable: nullable()},
				{Name: "level", Type: TypeText, Nullable: nullable()},
			},
		},
		{
			Name:       "time",
			PrimaryKey: &PrimaryKeySpec{Name: "start_time", Type: TypeTimestamp},
			Columns: []ColumnSpec{
				{Name: "hour", Type: TypeInt},
				{Name: "day", Type: TypeInt},
				{Name: "week", Type: TypeInt},
				{Name: "month", Type: TypeInt},
				{Name: "year", Type: TypeInt},
				{Name: "weekday", Type: TypeInt},
			},
		},
		{
			Name:       "songplays",
			PrimaryKey: &PrimaryKeySpec{Name: "songplay_id"},
			Columns: []ColumnSpec{
				{Name: "start_time", Type: TypeTimestamp, References: "time(start_time)", OnDelete: "SET NULL", Nullable: nullable()},
				{Name: "user_id", Type: TypeKey, References: "users(user_id)", OnDelete: "SET NULL", Nullable: nullable()},
				{Name: "level", Type: TypeText, Nullable: nullable()},
				{Name: "song_id", Type: TypeKey, References: "songs(song_id)", OnDelete: "SET NULL", Nullable: nullable()},
				{Name: "artist_id", Type: TypeKey, References: "artists(artist_id)", OnDelete: "SET NULL", Nullable: nullable()},
				{Name: "session_id", Type: TypeBigInt},
				{Name: "location", Type: TypeText, Nullable: nullable()},
				{Name: "user_agent", Type: TypeText, Nullable: nullable()},
			},
		},
	}
}

// IsNullable reports the effective nullability; nil means NOT NULL.
func (c ColumnSpec) IsNullable() bool { return c.Nullable != nil && *c.Nullable }

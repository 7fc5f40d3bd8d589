package orm

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Mapper is the identity handler of a domain: its table, primary key and
// the mapping between model members and table columns
type Mapper struct {
	table      string
	primaryKey string
	toColumn   map[string]string
	toMember   map[string]string
	members    []string
}

// NewMapper creates a mapper. primaryKey is a member name and must be mapped.
func NewMapper(table, primaryKey string, memberColumns map[string]string) (*Mapper, error) {
	if table == "" {
		return nil, fmt.Errorf("mapper: table is required")
	}
	if _, ok := memberColumns[primaryKey]; !ok {
		return nil, fmt.Errorf("mapper %s: primary key %q is not mapped", table, primaryKey)
	}

	m := &Mapper{
		table:      table,
		primaryKey: primaryKey,
		toColumn:   make(map[string]string, len(memberColumns)),
		toMember:   make(map[string]string, len(memberColumns)),
	}
	for member, column := range memberColumns {
		if member == "" || column == "" {
			return nil, fmt.Errorf("mapper %s: empty member or column", table)
		}
		if other, dup := m.toMember[column]; dup {
			return nil, fmt.Errorf("mapper %s: column %s mapped by %s and %s", table, column, other, member)
		}
		m.toColumn[member] = column
		m.toMember[column] = member
		m.members = append(m.members, member)
	}
	sort.Strings(m.members)
	return m, nil
}

// MapperFor builds a mapper from the orm tags of model. Every tagged member
// maps to a column of the same name unless the tag carries one, as in
// `orm:"name,column=user_name"`.
func MapperFor(table, primaryKey string, model interface{}) (*Mapper, error) {
	t := reflect.TypeOf(model)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("mapper %s: model must be a struct", table)
	}

	columns := make(map[string]string)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get(TagName)
		if tag == "" || tag == "-" || !field.IsExported() {
			continue
		}
		parts := strings.Split(tag, ",")
		member, column := parts[0], parts[0]
		for _, opt := range parts[1:] {
			if c, ok := strings.CutPrefix(opt, "column="); ok && c != "" {
				column = c
			}
		}
		columns[member] = column
	}
	return NewMapper(table, primaryKey, columns)
}

func (m *Mapper) Table() string { return m.table }

// PrimaryKey returns the primary key member
func (m *Mapper) PrimaryKey() string { return m.primaryKey }

// PrimaryKeyColumn returns the primary key column
func (m *Mapper) PrimaryKeyColumn() string { return m.toColumn[m.primaryKey] }

// MapColumn returns the column of member
func (m *Mapper) MapColumn(member string) (string, bool) {
	c, ok := m.toColumn[member]
	return c, ok
}

// MapMember returns the member of column
func (m *Mapper) MapMember(column string) (string, bool) {
	member, ok := m.toMember[column]
	return member, ok
}

// Members returns the mapped members in sorted order
func (m *Mapper) Members() []string {
	out := make([]string, len(m.members))
	copy(out, m.members)
	return out
}

// Columns returns the columns in member order
func (m *Mapper) Columns() []string {
	out := make([]string, len(m.members))
	for i, member := range m.members {
		out[i] = m.toColumn[member]
	}
	return out
}

// QuoteIdentifier quotes a table or column name with backticks
func (m *Mapper) QuoteIdentifier(name string) string {
	return QuoteIdentifier(name)
}

// QuoteIdentifier quotes name with backticks, doubling embedded backticks
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// ColumnList returns the quoted, comma separated column list
func (m *Mapper) ColumnList() string {
	cols := m.Columns()
	for i, c := range cols {
		cols[i] = QuoteIdentifier(c)
	}
	return strings.Join(cols, ", ")
}

package core

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
)

// ResultSet is one tabular result returned by a statement.
type ResultSet struct {
	Columns []string
	Rows    []Row
}

// Row is an ordered mapping of column name to a nullable scalar. It
// marshals to a JSON object that preserves column order.
type Row struct {
	cols []string
	vals []any
}

// NewRow builds a row. cols and vals must have the same length.
func NewRow(cols []string, vals []any) Row {
	return Row{cols: cols, vals: vals}
}

func (r Row) Columns() []string { return r.cols }

func (r Row) Values() []any { return r.vals }

// Get returns the value of the named column.
func (r Row) Get(col string) (any, bool) {
	for i, c := range r.cols {
		if c == col {
			return r.vals[i], true
		}
	}
	return nil, false
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.cols {
		if i != 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')

		v, err := json.Marshal(r.vals[i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c, err)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// uniqueColumns names unnamed columns by position and suffixes duplicates
// so every key in a marshaled row is distinct.
func uniqueColumns(cols []string) []string {
	out := make([]string, len(cols))
	used := make(map[string]bool, len(cols))

	for i, c := range cols {
		if c == "" {
			c = fmt.Sprintf("Column%d", i+1)
		}
		name := c
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s_%d", c, n)
		}
		used[name] = true
		out[i] = name
	}
	return out
}

// normalizeValue converts a scanned driver value into a JSON friendly
// scalar. dbType is the engine type name reported by the driver.
func normalizeValue(dbType string, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}

	switch strings.ToUpper(dbType) {
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return string(b)
	case "UNIQUEIDENTIFIER":
		var u mssql.UniqueIdentifier
		if err := u.Scan(b); err == nil {
			return u.String()
		}
	case "BINARY", "VARBINARY", "IMAGE", "TIMESTAMP", "ROWVERSION":
		return "0x" + strings.ToUpper(hex.EncodeToString(b))
	}
	return string(b)
}

package lookup

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/c360/lookupstream/errors"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	clone := make(Row, len(r))
	for k, v := range r {
		clone[k] = v
	}
	return clone
}

func cloneRows(rows []Row) []Row {
	if rows == nil {
		return nil
	}
	clones := make([]Row, len(rows))
	for i, row := range rows {
		clones[i] = row.Clone()
	}
	return clones
}

// scanRows reads every row. Byte slices become strings and DECIMAL or NUMERIC
// columns become decimal.Decimal.
func scanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	exact := make([]bool, len(columns))
	for i, column := range columns {
		exact[i] = isExactNumeric(column.DatabaseTypeName())
	}

	result := []Row{}
	values := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		row := make(Row, len(columns))
		for i, column := range columns {
			value, err := convertValue(values[i], exact[i])
			if err != nil {
				return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidData, err),
					"lookup", "scanRows", fmt.Sprintf("column %s", column.Name()))
			}
			row[column.Name()] = value
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func isExactNumeric(databaseType string) bool {
	t := strings.ToUpper(databaseType)
	return strings.HasPrefix(t, "DECIMAL") || strings.HasPrefix(t, "NUMERIC")
}

func convertValue(value any, exact bool) (any, error) {
	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	if !exact || value == nil {
		return value, nil
	}

	switch v := value.(type) {
	case string:
		return decimal.NewFromString(v)
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	default:
		return value, nil
	}
}

package sqlite

import "database/sql"

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func scanNullableInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func scanNullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// JsonColumn is a generic wrapper around any JSON-serializable type which
// allows it to be scanned from (and written to) a jsonb database column.
// The inner value is a pointer so that NULL columns scan cleanly.
type JsonColumn[T any] struct {
	val *T
}

func NewJsonColumn[T any](val T) JsonColumn[T] {
	return JsonColumn[T]{val: &val}
}

func (column *JsonColumn[T]) Scan(src any) error {
	if src == nil {
		column.val = nil
		return nil
	}

	var bytes []byte
	switch v := src.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T in to JsonColumn", src)
	}

	val := new(T)
	if err := json.Unmarshal(bytes, val); err != nil {
		return err
	}

	column.val = val
	return nil
}

func (column JsonColumn[T]) Value() (driver.Value, error) {
	if column.val == nil {
		return nil, nil
	}

	return json.Marshal(*column.val)
}

// Get returns the inner value, or nil if the column was NULL.
func (column *JsonColumn[T]) Get() *T {
	return column.val
}

// MustGet returns the inner value, panicking if the column was NULL.
func (column *JsonColumn[T]) MustGet() T {
	if column.val == nil {
		panic(errors.New("JsonColumn.MustGet called against NULL column value"))
	}

	return *column.val
}

package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is a snowflake identifier. It is encoded as a JSON string so that
// clients without 64-bit integers do not lose precision.
type ID int64

func (id ID) Int64() int64 {
	return int64(id)
}

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

func (id ID) Value() (driver.Value, error) {
	return int64(id), nil
}

func (id *ID) Scan(value interface{}) error {
	switch v := value.(type) {
	case int64:
		*id = ID(v)
		return nil
	case []byte:
		i, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return err
		}
		*id = ID(i)
		return nil
	default:
		return fmt.Errorf("cannot convert %v to ID", value)
	}
}

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON accepts both "123" and 123.
func (id *ID) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		parsed, err := ParseID(str)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}

	var num int64
	if err := json.Unmarshal(data, &num); err == nil {
		*id = ID(num)
		return nil
	}

	return fmt.Errorf("invalid id format: %s", string(data))
}

// ParseID parses the decimal form of an ID.
func ParseID(s string) (ID, error) {
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return ID(i), nil
}

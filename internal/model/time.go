package model

import (
	"fmt"
	"time"
)

// LocalDate 以 "YYYY-MM-DD" 格式序列化日期，用于单据展示。
type LocalDate time.Time

const dateFormat = "2006-01-02"

// MarshalJSON implements the json.Marshaler interface.
func (t LocalDate) MarshalJSON() ([]byte, error) {
	formatted := fmt.Sprintf("\"%s\"", time.Time(t).Format(dateFormat))
	return []byte(formatted), nil
}

// ParseDate 解析 "YYYY-MM-DD" 格式的日期。
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateFormat, s, time.Local)
}

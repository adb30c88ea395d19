package assistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/pkg/llm"
	"strconv"
	"strings"
)

var (
	// ErrUnknownTool 模型调用了本轮未提供的工具。
	ErrUnknownTool = errors.New("unknown tool")
	// ErrMalformedToolCall 工具参数不是合法的 JSON 对象。
	ErrMalformedToolCall = errors.New("malformed tool call")
)

// Call 是一次已校验的工具调用。
type Call struct {
	ID   string
	Name string
	Args Args
}

// ParseCalls 校验模型返回的全部工具调用，任一不合法则整体拒绝，保证不会部分执行。
func ParseCalls(sel Selection, raw []llm.ToolCall) ([]Call, error) {
	calls := make([]Call, 0, len(raw))
	for _, tc := range raw {
		if !sel.Allows(tc.Name) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTool, tc.Name)
		}
		args := Args{}
		if s := strings.TrimSpace(tc.Arguments); s != "" {
			if err := json.Unmarshal([]byte(s), &args); err != nil {
				return nil, fmt.Errorf("%w: %s arguments: %v", ErrMalformedToolCall, tc.Name, err)
			}
			if args == nil {
				return nil, fmt.Errorf("%w: %s arguments must be an object", ErrMalformedToolCall, tc.Name)
			}
		}
		calls = append(calls, Call{ID: tc.ID, Name: tc.Name, Args: args})
	}
	return calls, nil
}

// Args 是工具参数，模型给出的数字可能是数值也可能是字符串。
type Args map[string]interface{}

// Has 判断参数存在且非空。
func (a Args) Has(key string) bool {
	v, ok := a[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// Missing 返回缺失的必填参数。
func (a Args) Missing(required []string) []string {
	var missing []string
	for _, k := range required {
		if !a.Has(k) {
			missing = append(missing, k)
		}
	}
	return missing
}

func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// Float 解析数值参数，兼容 "$1,200.50" 这样的字符串。
func (a Args) Float(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, true
	case string:
		s := strings.NewReplacer("$", "", ",", "", "%", "").Replace(strings.TrimSpace(v))
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

func (a Args) Int(key string) (int, bool) {
	f, ok := a.Float(key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func (a Args) Bool(key string) (bool, bool) {
	switch v := a[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	}
	return false, false
}

// LineItems 解析 line_items 数组，缺少单价的行视为不完整。
func (a Args) LineItems(key string) ([]model.LineItem, error) {
	raw, ok := a[key].([]interface{})
	if !ok {
		return nil, nil
	}
	items := make([]model.LineItem, 0, len(raw))
	for i, r := range raw {
		m, ok := r.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("line item %d is not an object", i+1)
		}
		row := Args(m)
		price, ok := row.Float("unit_price")
		if !ok {
			return nil, fmt.Errorf("line item %d has no unit_price", i+1)
		}
		qty, ok := row.Float("quantity")
		if !ok || qty <= 0 {
			qty = 1
		}
		items = append(items, model.LineItem{Description: row.String("description"), Quantity: qty, UnitPrice: price})
	}
	return items, nil
}

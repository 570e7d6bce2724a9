package store

import (
	"fmt"
	"reflect"
	"sort"
	"time"
)

type Op string

const (
	OpEqual         Op = "=="
	OpNotEqual      Op = "!="
	OpArrayContains Op = "array-contains"
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

type Query struct {
	Collection string
	Filters    []Filter
	// CreatedAfter отсекает документы, созданные не позже указанного момента.
	CreatedAfter time.Time
	// OrderByCreated сортирует по времени создания по возрастанию.
	OrderByCreated bool
}

func (q Query) String() string {
	return fmt.Sprintf("%s %v after=%s ordered=%t", q.Collection, q.Filters, q.CreatedAfter.Format(time.RFC3339), q.OrderByCreated)
}

// Matches вычисляет предикат запроса для одного документа.
func (q Query) Matches(doc Document) bool {
	if doc.Ref.Collection != q.Collection {
		return false
	}
	if !q.CreatedAfter.IsZero() && !doc.CreatedAt.After(q.CreatedAfter) {
		return false
	}
	for _, f := range q.Filters {
		if !f.matches(doc.Fields) {
			return false
		}
	}
	return true
}

func (f Filter) matches(fields map[string]any) bool {
	value, ok := fields[f.Field]
	switch f.Op {
	case OpEqual:
		return ok && valuesEqual(value, f.Value)
	case OpNotEqual:
		return !ok || !valuesEqual(value, f.Value)
	case OpArrayContains:
		if !ok {
			return false
		}
		for _, item := range toSlice(value) {
			if valuesEqual(item, f.Value) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// SortByCreated упорядочивает документы по времени создания, при равенстве - по ID.
func SortByCreated(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].Ref.ID < docs[j].Ref.ID
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
}

// ApplyFields возвращает копию полей документа с примененными изменениями.
func ApplyFields(current map[string]any, changes map[string]any) map[string]any {
	out := make(map[string]any, len(current)+len(changes))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range changes {
		if union, ok := v.(ArrayUnion); ok {
			out[k] = arrayUnion(out[k], union)
			continue
		}
		out[k] = v
	}
	return out
}

func arrayUnion(existing any, values ArrayUnion) []any {
	result := toSlice(existing)
	for _, v := range values {
		found := false
		for _, item := range result {
			if valuesEqual(item, v) {
				found = true
				break
			}
		}
		if !found {
			result = append(result, v)
		}
	}
	return result
}

func toSlice(v any) []any {
	switch s := v.(type) {
	case nil:
		return []any{}
	case []any:
		out := make([]any, len(s))
		copy(out, s)
		return out
	case []string:
		out := make([]any, 0, len(s))
		for _, item := range s {
			out = append(out, item)
		}
		return out
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice {
			return []any{v}
		}
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, rv.Index(i).Interface())
		}
		return out
	}
}

// valuesEqual сравнивает значения, приводя числа к float64: после JSON
// все числа приходят как float64.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

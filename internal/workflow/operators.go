package workflow

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

// Operator names shipped with every catalog.
const (
	OpEquals         = "equals"
	OpNotEquals      = "not_equals"
	OpContains       = "contains"
	OpNotContains    = "not_contains"
	OpStartsWith     = "starts_with"
	OpEndsWith       = "ends_with"
	OpEmpty          = "empty"
	OpNotEmpty       = "not_empty"
	OpGreaterThan    = "greater_than"
	OpGreaterOrEqual = "greater_or_equal"
	OpLessThan       = "less_than"
	OpLessOrEqual    = "less_or_equal"
	OpDefault        = "default"
)

// PredicateFunc evaluates value against the configured operand.
type PredicateFunc func(value, operand any) (bool, error)

// Operator is a named predicate usable by switch nodes.
type Operator struct {
	Name        string
	Description string
	Eval        PredicateFunc
}

// OperatorCatalog holds the operators a switch node may reference.
type OperatorCatalog struct {
	mu    sync.RWMutex
	ops   map[string]Operator
	order []string
}

// NewOperatorCatalog creates a catalog populated with the built-in operators.
func NewOperatorCatalog() *OperatorCatalog {
	c := &OperatorCatalog{ops: make(map[string]Operator)}
	for _, op := range builtinOperators() {
		// built-ins have unique names
		_ = c.Register(op)
	}
	return c
}

// Register adds an operator. Names must be unique.
func (c *OperatorCatalog) Register(op Operator) error {
	if op.Name == "" || op.Eval == nil {
		return Errorf(KindValidation, "operator needs a name and a predicate")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.ops[op.Name]; exists {
		return Errorf(KindConflict, "operator %q already registered", op.Name)
	}
	c.ops[op.Name] = op
	c.order = append(c.order, op.Name)
	return nil
}

// Get returns the operator with the given name.
func (c *OperatorCatalog) Get(name string) (Operator, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	op, ok := c.ops[name]
	return op, ok
}

// Evaluate runs the named operator.
func (c *OperatorCatalog) Evaluate(name string, value, operand any) (bool, error) {
	op, ok := c.Get(name)
	if !ok {
		return false, Errorf(KindValidation, "unknown operator %q", name)
	}
	return op.Eval(value, operand)
}

// List returns the catalog in registration order.
func (c *OperatorCatalog) List() []models.OperatorInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.OperatorInfo, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, models.OperatorInfo{Name: name, Description: c.ops[name].Description})
	}
	return out
}

func builtinOperators() []Operator {
	return []Operator{
		{Name: OpEquals, Description: "value equals the operand", Eval: func(v, o any) (bool, error) {
			return valuesEqual(v, o), nil
		}},
		{Name: OpNotEquals, Description: "value does not equal the operand", Eval: func(v, o any) (bool, error) {
			return !valuesEqual(v, o), nil
		}},
		{Name: OpContains, Description: "text or list value contains the operand", Eval: contains},
		{Name: OpNotContains, Description: "text or list value does not contain the operand", Eval: func(v, o any) (bool, error) {
			ok, err := contains(v, o)
			return !ok, err
		}},
		{Name: OpStartsWith, Description: "text value starts with the operand", Eval: func(v, o any) (bool, error) {
			return strings.HasPrefix(toText(v), toText(o)), nil
		}},
		{Name: OpEndsWith, Description: "text value ends with the operand", Eval: func(v, o any) (bool, error) {
			return strings.HasSuffix(toText(v), toText(o)), nil
		}},
		{Name: OpEmpty, Description: "value is missing, blank or an empty collection", Eval: func(v, _ any) (bool, error) {
			return isEmpty(v), nil
		}},
		{Name: OpNotEmpty, Description: "value is present and not empty", Eval: func(v, _ any) (bool, error) {
			return !isEmpty(v), nil
		}},
		{Name: OpGreaterThan, Description: "numeric value is greater than the operand", Eval: compareWith(func(c int) bool { return c > 0 })},
		{Name: OpGreaterOrEqual, Description: "numeric value is greater than or equal to the operand", Eval: compareWith(func(c int) bool { return c >= 0 })},
		{Name: OpLessThan, Description: "numeric value is less than the operand", Eval: compareWith(func(c int) bool { return c < 0 })},
		{Name: OpLessOrEqual, Description: "numeric value is less than or equal to the operand", Eval: compareWith(func(c int) bool { return c <= 0 })},
		{Name: OpDefault, Description: "always matches; use as the last case", Eval: func(_, _ any) (bool, error) {
			return true, nil
		}},
	}
}

func compareWith(accept func(int) bool) PredicateFunc {
	return func(v, o any) (bool, error) {
		a, ok := toNumber(v)
		if !ok {
			return false, Errorf(KindValidation, "value %v is not numeric", v)
		}
		b, ok := toNumber(o)
		if !ok {
			return false, Errorf(KindValidation, "operand %v is not numeric", o)
		}
		switch {
		case a < b:
			return accept(-1), nil
		case a > b:
			return accept(1), nil
		default:
			return accept(0), nil
		}
	}
}

func contains(v, o any) (bool, error) {
	switch val := v.(type) {
	case nil:
		return false, nil
	case string:
		return strings.Contains(val, toText(o)), nil
	case []any:
		for _, item := range val {
			if valuesEqual(item, o) {
				return true, nil
			}
		}
		return false, nil
	case []string:
		for _, item := range val {
			if item == toText(o) {
				return true, nil
			}
		}
		return false, nil
	default:
		return strings.Contains(toText(v), toText(o)), nil
	}
}

func valuesEqual(a, b any) bool {
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			return x == y
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	return toText(a) == toText(b)
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Map, reflect.Array:
			return rv.Len() == 0
		}
		return false
	}
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

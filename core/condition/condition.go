package condition

import (
	"encoding/json"
	"errors"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
)

// Operators in match order. Two-character symbols come before their
// one-character prefixes so ">" cannot eat ">=".
var operators = []string{"==", "!=", ">=", "<=", ">", "<", "contains", "matches"}

var (
	bodyRe = regexp.MustCompile(`\[BODY\]((?:\.[A-Za-z0-9_$\-]+|\[[0-9]+\])*)`)
	keyRe  = regexp.MustCompile(`\[([A-Z_]+)\]`)

	errNotJSON = errors.New("operand is not a JSON value")
)

// Condition is one parsed expression. An empty Op marks a bare expression
// that must evaluate to the JSON boolean true.
type Condition struct {
	Raw string
	Op  string
	LHS string
	RHS string
}

// Outcome pairs a condition with its result, in input order.
type Outcome struct {
	Condition string `json:"condition"`
	Passed    bool   `json:"passed"`
}

// Parse splits an expression on the first operator found, trying operators
// in match order. Word operators only match when space delimited.
func Parse(raw string) Condition {
	for _, op := range operators {
		var idx int
		if op == "contains" || op == "matches" {
			idx = indexWord(raw, op)
		} else {
			idx = strings.Index(raw, op)
		}
		if idx < 0 {
			continue
		}
		return Condition{Raw: raw, Op: op, LHS: raw[:idx], RHS: raw[idx+len(op):]}
	}
	return Condition{Raw: raw}
}

func ParseAll(raws []string) []Condition {
	out := make([]Condition, 0, len(raws))
	for _, r := range raws {
		out = append(out, Parse(r))
	}
	return out
}

// EvaluateAll evaluates every condition against the probe context,
// preserving order. Faults never propagate; a broken condition is simply
// false.
func EvaluateAll(conds []Condition, ctx map[string]any) []Outcome {
	out := make([]Outcome, 0, len(conds))
	for _, c := range conds {
		out = append(out, Outcome{Condition: c.Raw, Passed: c.Eval(ctx)})
	}
	return out
}

func (c Condition) Eval(ctx map[string]any) (result bool) {
	defer func() {
		if recover() != nil {
			result = false
		}
	}()
	if c.Op == "" {
		v, err := parseOperand(substitute(c.Raw, ctx))
		if err != nil {
			return false
		}
		b, ok := v.(bool)
		return ok && b
	}
	lhs, err := parseOperand(substitute(c.LHS, ctx))
	if err != nil {
		return false
	}
	rhs, err := parseOperand(substitute(c.RHS, ctx))
	if err != nil {
		return false
	}
	// Comparisons involving null (including substituted missing keys) are
	// false for every operator.
	if lhs == nil || rhs == nil {
		return false
	}
	switch c.Op {
	case "==":
		return looseEqual(lhs, rhs)
	case "!=":
		return !looseEqual(lhs, rhs)
	case ">=", "<=", ">", "<":
		return ordered(c.Op, lhs, rhs)
	case "contains":
		return strings.Contains(toString(lhs), toString(rhs))
	case "matches":
		re, err := regexp.Compile(toString(rhs))
		if err != nil {
			return false
		}
		return re.MatchString(toString(lhs))
	}
	return false
}

// substitute resolves [BODY].path occurrences through a JSON-path lookup and
// every other [KEY] against the context, serializing each value as JSON.
// Missing values become the literal undefined, which downstream parsing
// turns into null.
func substitute(s string, ctx map[string]any) string {
	s = bodyRe.ReplaceAllStringFunc(s, func(m string) string {
		path := strings.TrimPrefix(m, "[BODY]")
		body, ok := ctx["BODY"]
		if !ok {
			return "undefined"
		}
		if path == "" {
			return serialize(body)
		}
		v, err := jsonpath.Get("$"+path, body)
		if err != nil {
			return "undefined"
		}
		return serialize(v)
	})
	return keyRe.ReplaceAllStringFunc(s, func(m string) string {
		v, ok := ctx[strings.Trim(m, "[]")]
		if !ok {
			return "undefined"
		}
		return serialize(v)
	})
}

func serialize(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "undefined"
	}
	return string(b)
}

func parseOperand(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "undefined" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v, nil
	}
	// Hand-written conditions often single-quote strings.
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1], nil
	}
	return nil, errNotJSON
}

func looseEqual(a, b any) bool {
	an, aNum := toNumber(a)
	bn, bNum := toNumber(b)
	if aNum && bNum {
		return an == bn
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return as == bs
	}
	if ab, ok := a.(bool); ok {
		bb, ok2 := b.(bool)
		return ok2 && ab == bb
	}
	return reflect.DeepEqual(a, b)
}

// ordered compares numbers numerically and strings lexicographically; mixed
// operand types are false.
func ordered(op string, a, b any) bool {
	if an, ok := a.(float64); ok {
		bn, ok2 := b.(float64)
		if !ok2 {
			return false
		}
		switch op {
		case ">":
			return an > bn
		case ">=":
			return an >= bn
		case "<":
			return an < bn
		case "<=":
			return an <= bn
		}
		return false
	}
	as, ok := a.(string)
	bs, ok2 := b.(string)
	if !ok || !ok2 {
		return false
	}
	switch op {
	case ">":
		return as > bs
	case ">=":
		return as >= bs
	case "<":
		return as < bs
	case "<=":
		return as <= bs
	}
	return false
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return "null"
	default:
		return serialize(v)
	}
}

func indexWord(s, op string) int {
	i := strings.Index(s, " "+op+" ")
	if i < 0 {
		return -1
	}
	return i + 1
}

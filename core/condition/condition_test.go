package condition

import (
	"testing"
)

func sampleContext() map[string]any {
	return map[string]any{
		"STATUS":        200,
		"RESPONSE_TIME": 123,
		"CONNECTED":     true,
		"DNS_RCODE":     "NOERROR",
		"BODY": map[string]any{
			"status":  "ok",
			"version": "2.14.1",
			"count":   float64(42),
			"message": "all systems loaded",
			"nested":  map[string]any{"deep": float64(7)},
			"items": []any{
				map[string]any{"id": float64(1), "name": "first"},
				map[string]any{"id": float64(2), "name": "second"},
			},
		},
	}
}

func TestEvalOperators(t *testing.T) {
	ctx := sampleContext()
	tests := []struct {
		expr string
		want bool
	}{
		{`[STATUS] == 200`, true},
		{`[STATUS] == 404`, false},
		{`[STATUS] != 500`, true},
		{`[STATUS] != 200`, false},
		{`[STATUS] >= 200`, true},
		{`[STATUS] >= 201`, false},
		{`[STATUS] <= 200`, true},
		{`[STATUS] < 300`, true},
		{`[STATUS] > 199`, true},
		{`[RESPONSE_TIME] < 500`, true},
		{`[RESPONSE_TIME] > 500`, false},
		{`[CONNECTED] == true`, true},
		{`[CONNECTED] == false`, false},
		{`[DNS_RCODE] == "NOERROR"`, true},
		{`[STATUS] == "200"`, true},
		{`"2.14.1" == [BODY].version`, true},
	}
	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			if got := Parse(tc.expr).Eval(ctx); got != tc.want {
				t.Fatalf("%s: got %v want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestEvalBodyPaths(t *testing.T) {
	ctx := sampleContext()
	tests := []struct {
		expr string
		want bool
	}{
		{`[BODY].status == "ok"`, true},
		{`[BODY].status == 'ok'`, true},
		{`[BODY].count == 42`, true},
		{`[BODY].count >= 42`, true},
		{`[BODY].nested.deep == 7`, true},
		{`[BODY].items[0].id == 1`, true},
		{`[BODY].items[1].name == "second"`, true},
		{`[BODY].items[0].name != "second"`, true},
		{`[BODY].missing == "x"`, false},
		{`[BODY].missing != "x"`, false},
		{`[BODY].items[9].id == 1`, false},
	}
	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			if got := Parse(tc.expr).Eval(ctx); got != tc.want {
				t.Fatalf("%s: got %v want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestEvalContainsAndMatches(t *testing.T) {
	ctx := sampleContext()
	tests := []struct {
		expr string
		want bool
	}{
		{`[BODY].message contains "loaded"`, true},
		{`[BODY].message contains "panic"`, false},
		{`[BODY].version matches "^2\\."`, true},
		{`[BODY].version matches "^3\\."`, false},
		{`[STATUS] contains "20"`, true},
		{`[BODY].version matches "["`, false},
	}
	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			if got := Parse(tc.expr).Eval(ctx); got != tc.want {
				t.Fatalf("%s: got %v want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestEvalFaultsAreFalse(t *testing.T) {
	ctx := sampleContext()
	tests := []string{
		`[MISSING_KEY] == "x"`,
		`[MISSING_KEY] != "x"`,
		`[STATUS] == `,
		`[STATUS] > "abc"`,
		`[BODY].status > 5`,
		`this is not an expression`,
		`[STATUS]`,
		``,
		`[BODY].count == notjson`,
	}
	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			if Parse(expr).Eval(ctx) {
				t.Fatalf("%q: expected false", expr)
			}
		})
	}
}

func TestEvalBareBoolean(t *testing.T) {
	ctx := sampleContext()
	if !Parse(`[CONNECTED]`).Eval(ctx) {
		t.Fatalf("bare [CONNECTED] should be true")
	}
	if Parse(`[DNS_RCODE]`).Eval(ctx) {
		t.Fatalf("bare non-boolean should be false")
	}
	if !Parse(`true`).Eval(ctx) {
		t.Fatalf("literal true should pass")
	}
	if Parse(`false`).Eval(ctx) {
		t.Fatalf("literal false should fail")
	}
}

func TestEvalStringOrdering(t *testing.T) {
	ctx := map[string]any{"BODY": map[string]any{"a": "apple", "b": "banana"}}
	if !Parse(`[BODY].b > [BODY].a`).Eval(ctx) {
		t.Fatalf("banana should sort after apple")
	}
	if Parse(`[BODY].a >= [BODY].b`).Eval(ctx) {
		t.Fatalf("apple is not >= banana")
	}
}

func TestParseOperatorPrecedence(t *testing.T) {
	c := Parse(`[STATUS] >= 200`)
	if c.Op != ">=" {
		t.Fatalf("expected >= got %q", c.Op)
	}
	c = Parse(`[STATUS] <= 300`)
	if c.Op != "<=" {
		t.Fatalf("expected <= got %q", c.Op)
	}
	c = Parse(`[BODY].containsField == 1`)
	if c.Op != "==" {
		t.Fatalf("word operator must not match inside identifiers, got %q", c.Op)
	}
	c = Parse(`just some text`)
	if c.Op != "" {
		t.Fatalf("expected bare expression, got op %q", c.Op)
	}
}

func TestEvaluateAllPreservesOrder(t *testing.T) {
	ctx := sampleContext()
	conds := ParseAll([]string{
		`[STATUS] == 200`,
		`[STATUS] == 500`,
		`[BODY].status == "ok"`,
	})
	got := EvaluateAll(conds, ctx)
	if len(got) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(got))
	}
	if got[0].Condition != `[STATUS] == 200` || !got[0].Passed {
		t.Fatalf("first outcome wrong: %+v", got[0])
	}
	if got[1].Passed {
		t.Fatalf("second outcome should fail: %+v", got[1])
	}
	if got[2].Condition != `[BODY].status == "ok"` || !got[2].Passed {
		t.Fatalf("third outcome wrong: %+v", got[2])
	}
}

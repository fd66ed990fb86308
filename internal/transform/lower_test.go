package transform

import (
	"errors"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes code in a fresh goja runtime and returns JSON.stringify(expr).
func run(t *testing.T, code, expr string) string {
	t.Helper()
	vm := goja.New()
	_, err := vm.RunString(code)
	require.NoError(t, err, code)
	v, err := vm.RunString("JSON.stringify(" + expr + ")")
	require.NoError(t, err)
	return v.String()
}

func TestScript_ForOfLoweredForES5(t *testing.T) {
	tr := newTransformer(t, Options{Target: "es5"})

	code, err := tr.Script("loop.js", "var xs = [1, 2, 3];\nvar out = [];\nfor (const x of xs) { out.push(x * 2); }\n")
	require.NoError(t, err)
	assert.NotRegexp(t, `for\s*\([^;)]*\bof\b`, code)
	assert.NotRegexp(t, `\bconst\b`, code)
	assert.NotRegexp(t, `\blet\b`, code)
	assert.JSONEq(t, `[2,4,6]`, run(t, code, "out"))
}

func TestScript_DefaultTargetIsES5(t *testing.T) {
	tr := newTransformer(t, Options{})

	code, err := tr.Script("loop.js", "let seen = 0;\nfor (let v of [1, 2]) seen += v;\n")
	require.NoError(t, err)
	assert.NotRegexp(t, `\blet\b`, code)
	assert.NotRegexp(t, `for\s*\([^;)]*\bof\b`, code)
	assert.Equal(t, `3`, run(t, code, "seen"))
}

func TestScript_IterationForms(t *testing.T) {
	tr := newTransformer(t, Options{})

	src := `var pairs = [];
for (const [k, v] of [["a", 1], ["b", 2]]) {
  if (v === 1) continue;
  pairs.push(k + v);
}
for (let ch of "hi") pairs.push(ch);
for (const item of new Set([5])) pairs.push(item);
outer: for (const row of [[1, 2], [3]]) {
  for (const cell of row) {
    if (cell === 2) continue outer;
    pairs.push(cell);
  }
}
var target = {};
for (target.last of (["x", "y"])) {}
`
	code, err := tr.Script("iter.js", src)
	require.NoError(t, err)
	assert.NotRegexp(t, `\bconst\b`, code)
	assert.JSONEq(t, `[["b2","h","i",5,1,3],"y"]`, run(t, code, "[pairs, target.last]"))
}

func TestScript_ES2015SyntaxLowered(t *testing.T) {
	tr := newTransformer(t, Options{})

	src := `const base = { a: 1, b: 2 };
const { a, ...rest } = { c: 3, ...base };
const sum = (x, y = 10) => x + y;
function collect(first, ...others) { return [first, others.length]; }
const [p, , q = 7] = [4, 5];
const nums = [1, 2];
const joined = [0, ...nums, 3];
const short = { a, sum };
const obj = { twice(n) { return n * 2; } };
const pick = ({ name, size: { w = 1 } = {} }) => name + w;
const tpl = ` + "`${a}-${p}`" + `;
var result = {
  a: a,
  restKeys: Object.keys(rest).sort().join(","),
  sum: sum(1),
  collected: collect(1, 2, 3),
  p: p,
  q: q,
  joined: joined.join(","),
  short: short.sum(short.a),
  twice: obj.twice(4),
  max: Math.max(...nums, 0),
  pick: pick({ name: "n", size: {} }),
  tpl: tpl
};
`
	code, err := tr.Script("syntax.js", src)
	require.NoError(t, err)
	assert.NotContains(t, code, "...")
	assert.NotContains(t, code, "=>")
	assert.NotRegexp(t, `\bconst\b`, code)
	assert.NotContains(t, code, "`")
	assert.JSONEq(t, `{
		"a": 1,
		"restKeys": "b,c",
		"sum": 11,
		"collected": [1, 2],
		"p": 4,
		"q": 7,
		"joined": "0,1,2,3",
		"short": 11,
		"twice": 8,
		"max": 2,
		"pick": "n1",
		"tpl": "1-4"
	}`, run(t, code, "result"))
}

func TestScript_NewerTargetKeepsSyntax(t *testing.T) {
	tr := newTransformer(t, Options{Target: "es2015"})

	code, err := tr.Script("keep.js", "for (const x of xs) { f(x); }\n")
	require.NoError(t, err)
	assert.Contains(t, code, "for (const x of xs)")
	assert.NotContains(t, code, valuesHelperName)
}

func TestScript_UnsupportedES5SyntaxFails(t *testing.T) {
	tr := newTransformer(t, Options{})

	_, err := tr.Script("class.js", "class A { m() { return 1; } }\n")
	require.Error(t, err)
	var se *ScriptError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "class.js", se.File)
}

func TestParenDepth(t *testing.T) {
	cases := []struct {
		in          string
		lead, trail int
	}{
		{"a + (b", 0, 1},
		{"a) + b", 1, 0},
		{"f(a, b)", 0, 0},
		{`"(" + x`, 0, 0},
		{"x /* ( */ + y", 0, 0},
		{"`(${a}` + (b", 0, 1},
	}
	for _, c := range cases {
		lead, trail := parenDepth(c.in)
		assert.Equal(t, c.lead, lead, c.in)
		assert.Equal(t, c.trail, trail, c.in)
	}
}

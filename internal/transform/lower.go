package transform

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"
	"github.com/dop251/goja/token"
)

// maxLowerRounds bounds the rewrite loop. Every round consumes at least one
// construct, so only pathological nesting gets near it.
const maxLowerRounds = 512

const valuesHelperName = "__forOfValues"

// valuesHelper materializes an iterable or array-like into an array. It is a
// function declaration so it can be appended after the code that calls it.
const valuesHelper = `function __forOfValues(v) {
  if (Array.isArray(v)) return v;
  if (v == null) throw new TypeError(v + " is not iterable");
  if (typeof Symbol === "function" && typeof v[Symbol.iterator] === "function") {
    var it = v[Symbol.iterator](), out = [], step;
    while (!(step = it.next()).done) out.push(step.value);
    return out;
  }
  if (typeof v.length === "number") return Array.prototype.slice.call(v);
  throw new TypeError(v + " is not iterable");
}
`

// edit replaces src[start:end] with text. A zero-width edit is an insertion.
type edit struct {
	start, end int
	text       string
}

// lowerer rewrites the ES2015 syntax esbuild refuses to emit for ES5:
// for-of loops, let/const, declaration and parameter destructuring, default
// and rest parameters, spread arguments and elements, shorthand properties
// and methods. Each round parses the current text with goja, collects
// non-overlapping rewrites outermost first and splices them in; nested
// constructs are picked up by the next round.
type lowerer struct {
	src    string
	seq    int
	helper bool
	groups [][]edit
}

func lowerES5(name, src string) (string, error) {
	l := &lowerer{src: src}
	for round := 0; ; round++ {
		if round == maxLowerRounds {
			return "", &ScriptError{File: name, Messages: []string{"too deeply nested to lower to es5"}}
		}
		prog, err := parser.ParseFile(nil, name, l.src, 0, parser.WithDisableSourceMaps)
		if err != nil {
			return "", parseFailure(name, err)
		}
		l.groups = l.groups[:0]
		walk(reflect.ValueOf(prog), l.visit)
		if len(l.groups) == 0 {
			break
		}
		l.apply()
	}
	if l.helper {
		return l.src + "\n" + valuesHelper, nil
	}
	return l.src, nil
}

func parseFailure(name string, err error) error {
	var list parser.ErrorList
	if !errors.As(err, &list) {
		return &ScriptError{File: name, Messages: []string{err.Error()}}
	}
	msgs := make([]string, 0, len(list))
	for _, e := range list {
		msgs = append(msgs, fmt.Sprintf("%d:%d: %s", e.Position.Line, e.Position.Column, e.Message))
	}
	return &ScriptError{File: name, Messages: msgs}
}

// skipFields are AST fields that alias nodes reachable elsewhere or hold no
// syntax.
var skipFields = map[string]bool{"DeclarationList": true, "File": true}

// walk visits every AST node under v in source order, parents before
// children.
func walk(v reflect.Value, visit func(ast.Node)) {
	switch v.Kind() {
	case reflect.Interface:
		if !v.IsNil() {
			walk(v.Elem(), visit)
		}
	case reflect.Pointer:
		if v.IsNil() {
			return
		}
		if n, ok := v.Interface().(ast.Node); ok {
			visit(n)
		}
		walk(v.Elem(), visit)
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || skipFields[f.Name] {
				continue
			}
			fv := v.Field(i)
			if fv.Kind() == reflect.Struct && fv.CanAddr() {
				fv = fv.Addr()
			}
			walk(fv, visit)
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			walk(v.Index(i), visit)
		}
	}
}

func (l *lowerer) visit(n ast.Node) {
	switch n := n.(type) {
	case *ast.ForOfStatement:
		l.forOf(n)
	case *ast.LexicalDeclaration:
		l.keyword(n.Idx)
		l.declarations(n.List)
	case *ast.ForDeclaration:
		l.keyword(n.Idx)
	case *ast.VariableStatement:
		l.declarations(n.List)
	case *ast.ForLoopInitializerVarDeclList:
		l.declarations(n.List)
	case *ast.ObjectLiteral:
		l.objectLiteral(n)
	case *ast.ArrayLiteral:
		l.arraySpread(n)
	case *ast.CallExpression:
		l.callSpread(n)
	case *ast.FunctionLiteral:
		l.functionParams(n)
	case *ast.ArrowFunctionLiteral:
		l.arrowParams(n)
	}
}

func (l *lowerer) add(g ...edit) {
	l.groups = append(l.groups, g)
}

// apply splices every group that does not touch an already accepted one.
func (l *lowerer) apply() {
	var accepted []edit
	for _, g := range l.groups {
		if touches(accepted, g) {
			continue
		}
		accepted = append(accepted, g...)
	}
	sort.SliceStable(accepted, func(i, j int) bool { return accepted[i].start < accepted[j].start })

	var b strings.Builder
	last := 0
	for _, e := range accepted {
		b.WriteString(l.src[last:e.start])
		b.WriteString(e.text)
		last = e.end
		if strings.Contains(e.text, valuesHelperName) {
			l.helper = true
		}
	}
	b.WriteString(l.src[last:])
	l.src = b.String()
}

func touches(accepted, group []edit) bool {
	for _, a := range accepted {
		for _, e := range group {
			if e.start <= a.end && a.start <= e.end {
				return true
			}
		}
	}
	return false
}

// pos converts a goja index (1-based, single file) to a byte offset.
func pos(i file.Idx) int { return int(i) - 1 }

func (l *lowerer) temp(kind string) string {
	l.seq++
	return fmt.Sprintf("_%s$%d", kind, l.seq)
}

// text returns the source of n, including any parentheses its node range
// leaves unbalanced.
func (l *lowerer) text(n ast.Node) string {
	s, e := l.balance(pos(n.Idx0()), pos(n.Idx1()))
	return l.src[s:e]
}

func (l *lowerer) paren(n ast.Node) string {
	return "(" + l.text(n) + ")"
}

// balance widens [s, e) over the parentheses goja does not record in node
// ranges, so the slice opens and closes the same number of them.
func (l *lowerer) balance(s, e int) (int, int) {
	lead, trail := parenDepth(l.src[s:e])
	for ; lead > 0; lead-- {
		p := l.skipBack(s)
		if p == 0 || l.src[p-1] != '(' {
			break
		}
		s = p - 1
	}
	return s, l.skipClosers(e, trail)
}

func (l *lowerer) skipClosers(i, n int) int {
	for ; n > 0; n-- {
		p := l.skipFwd(i)
		if p >= len(l.src) || l.src[p] != ')' {
			break
		}
		i = p + 1
	}
	return i
}

func (l *lowerer) skipBack(i int) int {
	for i > 0 && isSpace(l.src[i-1]) {
		i--
	}
	return i
}

func (l *lowerer) skipFwd(i int) int {
	for i < len(l.src) {
		switch {
		case isSpace(l.src[i]):
			i++
		case strings.HasPrefix(l.src[i:], "//"):
			nl := strings.IndexByte(l.src[i:], '\n')
			if nl < 0 {
				return len(l.src)
			}
			i += nl
		case strings.HasPrefix(l.src[i:], "/*"):
			end := strings.Index(l.src[i+2:], "*/")
			if end < 0 {
				return len(l.src)
			}
			i += end + 4
		default:
			return i
		}
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

// parenDepth reports how many ")" in s close parentheses opened before it
// (lead) and how many "(" are still open at its end (trail). Quoted strings,
// template literals and comments are skipped.
func parenDepth(s string) (lead, trail int) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '\'', '"', '`':
			i = skipQuoted(s, i)
		case '/':
			switch {
			case strings.HasPrefix(s[i:], "//"):
				nl := strings.IndexByte(s[i:], '\n')
				if nl < 0 {
					return lead, trail
				}
				i += nl
			case strings.HasPrefix(s[i:], "/*"):
				end := strings.Index(s[i+2:], "*/")
				if end < 0 {
					return lead, trail
				}
				i += end + 3
			}
		case '(':
			trail++
		case ')':
			if trail == 0 {
				lead++
			} else {
				trail--
			}
		}
	}
	return lead, trail
}

func skipQuoted(s string, i int) int {
	q := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			return j
		}
	}
	return len(s)
}

// keyword turns a let or const keyword at idx into var.
func (l *lowerer) keyword(idx file.Idx) {
	s := pos(idx)
	var n int
	switch {
	case strings.HasPrefix(l.src[s:], "const"):
		n = len("const")
	case strings.HasPrefix(l.src[s:], "let"):
		n = len("let")
	default:
		return
	}
	l.add(edit{s, s + n, "var"})
}

// forOf rewrites a for-of loop into an indexed loop over the materialized
// values of its source.
func (l *lowerer) forOf(n *ast.ForOfStatement) {
	open := l.skipFwd(pos(n.For) + len("for"))
	if open >= len(l.src) || l.src[open] != '(' {
		return
	}

	var decl string
	switch into := n.Into.(type) {
	case *ast.ForDeclaration:
		decl = "var " + l.text(into.Target)
	case *ast.ForIntoVar:
		decl = "var " + l.text(into.Binding.Target)
	case *ast.ForIntoExpression:
		switch into.Expression.(type) {
		case *ast.ObjectPattern, *ast.ArrayPattern:
			return
		}
		decl = l.text(into.Expression)
	default:
		return
	}

	i, arr := l.temp("i"), l.temp("arr")
	srcStart, srcEnd := l.balance(pos(n.Source.Idx0()), pos(n.Source.Idx1()))
	_, depth := parenDepth(l.src[open+1 : srcStart])
	headEnd := l.skipClosers(srcEnd, depth+1)

	head := fmt.Sprintf("var %s = 0, %s = %s(", i, arr, valuesHelperName)
	step := fmt.Sprintf("); %s < %s.length; %s++)", i, arr, i)
	bind := fmt.Sprintf(" %s = %s[%s];", decl, arr, i)

	if body, ok := n.Body.(*ast.BlockStatement); ok {
		lb := pos(body.LeftBrace) + 1
		l.add(edit{open + 1, srcStart, head}, edit{srcEnd, headEnd, step}, edit{lb, lb, bind})
		return
	}
	_, bodyEnd := l.balance(headEnd, pos(n.Body.Idx1()))
	l.add(edit{open + 1, srcStart, head}, edit{srcEnd, headEnd, step + " {" + bind}, edit{bodyEnd, bodyEnd, " }"})
}

// declarations expands destructuring bindings into plain declarators.
func (l *lowerer) declarations(list []*ast.Binding) {
	for _, b := range list {
		if b.Initializer == nil {
			continue
		}
		if _, ok := b.Target.(*ast.Identifier); ok {
			continue
		}
		var parts []string
		if !l.destructure(b.Target, l.text(b.Initializer), &parts) {
			continue
		}
		s, e := l.balance(pos(b.Target.Idx0()), pos(b.Initializer.Idx1()))
		l.add(edit{s, e, strings.Join(parts, ", ")})
	}
}

// destructure appends "name = expr" declarators binding target to value.
func (l *lowerer) destructure(target ast.Expression, value string, out *[]string) bool {
	switch t := target.(type) {
	case *ast.Identifier:
		*out = append(*out, string(t.Name)+" = "+value)
		return true
	case *ast.ObjectPattern:
		if t.Rest != nil {
			return false
		}
		ref := l.temp("ref")
		*out = append(*out, ref+" = "+value)
		for _, p := range t.Properties {
			switch p := p.(type) {
			case *ast.PropertyShort:
				if !l.element(&p.Name, p.Initializer, ref+"."+string(p.Name.Name), out) {
					return false
				}
			case *ast.PropertyKeyed:
				target, def := splitDefault(p.Value)
				if !l.element(target, def, ref+l.member(p), out) {
					return false
				}
			default:
				return false
			}
		}
		return true
	case *ast.ArrayPattern:
		ref := l.temp("ref")
		*out = append(*out, fmt.Sprintf("%s = %s(%s)", ref, valuesHelperName, value))
		for i, el := range t.Elements {
			if el == nil {
				continue
			}
			target, def := splitDefault(el)
			if !l.element(target, def, fmt.Sprintf("%s[%d]", ref, i), out) {
				return false
			}
		}
		if t.Rest != nil {
			return l.destructure(t.Rest, fmt.Sprintf("%s.slice(%d)", ref, len(t.Elements)), out)
		}
		return true
	}
	return false
}

func (l *lowerer) element(target, def ast.Expression, access string, out *[]string) bool {
	if def != nil {
		tmp := l.temp("val")
		*out = append(*out, tmp+" = "+access)
		access = fmt.Sprintf("%s === void 0 ? %s : %s", tmp, l.paren(def), tmp)
	}
	return l.destructure(target, access, out)
}

func splitDefault(e ast.Expression) (ast.Expression, ast.Expression) {
	if a, ok := e.(*ast.AssignExpression); ok && a.Operator == token.ASSIGN {
		return a.Left, a.Right
	}
	return e, nil
}

// member renders the property access for a keyed pattern entry.
func (l *lowerer) member(p *ast.PropertyKeyed) string {
	if p.Computed {
		return "[" + l.text(p.Key) + "]"
	}
	switch k := p.Key.(type) {
	case *ast.StringLiteral:
		if strings.HasPrefix(k.Literal, `"`) || strings.HasPrefix(k.Literal, "'") {
			return "[" + k.Literal + "]"
		}
		return "." + k.Literal
	case *ast.NumberLiteral:
		return "[" + k.Literal + "]"
	}
	return "[" + l.text(p.Key) + "]"
}

func (l *lowerer) objectLiteral(o *ast.ObjectLiteral) {
	for _, p := range o.Value {
		switch p := p.(type) {
		case *ast.PropertyShort:
			if p.Initializer != nil {
				continue
			}
			name := string(p.Name.Name)
			l.add(edit{pos(p.Name.Idx0()), pos(p.Name.Idx1()), name + ": " + name})
		case *ast.PropertyKeyed:
			fn, ok := p.Value.(*ast.FunctionLiteral)
			if !ok || p.Kind != ast.PropertyKindMethod || p.Computed || fn.Async || fn.Generator {
				continue
			}
			l.add(edit{pos(p.Key.Idx1()), pos(fn.ParameterList.Opening), ": function"})
		}
	}
}

func hasSpread(list []ast.Expression) bool {
	for _, e := range list {
		if _, ok := e.(*ast.SpreadElement); ok {
			return true
		}
	}
	return false
}

// concatArgs renders list as arguments to [].concat, spreading the
// SpreadElement entries.
func (l *lowerer) concatArgs(list []ast.Expression) (string, bool) {
	var parts, run []string
	flush := func() {
		if len(run) > 0 {
			parts = append(parts, "["+strings.Join(run, ", ")+"]")
			run = nil
		}
	}
	for _, e := range list {
		switch e := e.(type) {
		case nil:
			return "", false
		case *ast.SpreadElement:
			flush()
			parts = append(parts, valuesHelperName+"("+l.text(e.Expression)+")")
		default:
			run = append(run, l.text(e))
		}
	}
	flush()
	return strings.Join(parts, ", "), true
}

func (l *lowerer) arraySpread(a *ast.ArrayLiteral) {
	if !hasSpread(a.Value) {
		return
	}
	args, ok := l.concatArgs(a.Value)
	if !ok {
		return
	}
	l.add(edit{pos(a.LeftBracket), pos(a.RightBracket) + 1, "[].concat(" + args + ")"})
}

func (l *lowerer) callSpread(c *ast.CallExpression) {
	if !hasSpread(c.ArgumentList) {
		return
	}
	var this string
	switch callee := c.Callee.(type) {
	case *ast.Identifier:
		this = "void 0"
	case *ast.DotExpression:
		switch callee.Left.(type) {
		case *ast.Identifier, *ast.ThisExpression:
			this = l.text(callee.Left)
		default:
			return
		}
	default:
		return
	}
	args, ok := l.concatArgs(c.ArgumentList)
	if !ok {
		return
	}
	s, e := l.balance(pos(c.Callee.Idx0()), pos(c.RightParenthesis)+1)
	l.add(edit{s, e, fmt.Sprintf("%s.apply(%s, [].concat(%s))", l.text(c.Callee), this, args)})
}

func simpleParams(pl *ast.ParameterList) bool {
	if pl == nil {
		return true
	}
	if pl.Rest != nil {
		return false
	}
	for _, b := range pl.List {
		if _, ok := b.Target.(*ast.Identifier); !ok || b.Initializer != nil {
			return false
		}
	}
	return true
}

// params renders a plain parameter list for pl and the statements that
// recreate its defaults, patterns and rest binding.
func (l *lowerer) params(pl *ast.ParameterList) (string, string) {
	names := make([]string, 0, len(pl.List))
	var pre strings.Builder
	for _, b := range pl.List {
		if id, ok := b.Target.(*ast.Identifier); ok {
			names = append(names, string(id.Name))
			if b.Initializer != nil {
				fmt.Fprintf(&pre, " if (%s === void 0) %s = %s;", id.Name, id.Name, l.paren(b.Initializer))
			}
			continue
		}
		ref := l.temp("ref")
		names = append(names, ref)
		value := ref
		if b.Initializer != nil {
			value = fmt.Sprintf("%s === void 0 ? %s : %s", ref, l.paren(b.Initializer), ref)
		}
		fmt.Fprintf(&pre, " var %s = %s;", l.text(b.Target), value)
	}
	if pl.Rest != nil {
		fmt.Fprintf(&pre, " var %s = Array.prototype.slice.call(arguments, %d);", l.text(pl.Rest), len(pl.List))
	}
	return "(" + strings.Join(names, ", ") + ")", pre.String()
}

func (l *lowerer) functionParams(fn *ast.FunctionLiteral) {
	if simpleParams(fn.ParameterList) || fn.Body == nil {
		return
	}
	list, prelude := l.params(fn.ParameterList)
	lb := pos(fn.Body.LeftBrace) + 1
	l.add(
		edit{pos(fn.ParameterList.Opening), pos(fn.ParameterList.Closing) + 1, list},
		edit{lb, lb, prelude},
	)
}

// arrowParams handles arrows with non-simple parameters. goja does not keep
// the parenthesis positions of every arrow parameter list, so they are
// located from the last parameter and the arrow token.
func (l *lowerer) arrowParams(fn *ast.ArrowFunctionLiteral) {
	pl := fn.ParameterList
	if simpleParams(pl) || pl.Rest != nil || fn.Async || len(pl.List) == 0 {
		return
	}
	open := pos(fn.Start)
	if l.src[open] != '(' {
		return
	}
	_, after := l.balance(open+1, pos(pl.List[len(pl.List)-1].Idx1()))
	bodyStart := pos(fn.Body.Idx0())
	if after > bodyStart {
		return
	}
	region := l.src[after:bodyStart]
	arrow := strings.LastIndex(region, "=>")
	if arrow < 0 {
		return
	}
	closeRel := strings.LastIndexByte(region[:arrow], ')')
	if closeRel < 0 {
		return
	}
	closing := after + closeRel
	arrowEnd := after + arrow + len("=>")

	list, prelude := l.params(pl)
	head := edit{open, closing + 1, list}
	switch body := fn.Body.(type) {
	case *ast.BlockStatement:
		lb := pos(body.LeftBrace) + 1
		l.add(head, edit{lb, lb, prelude})
	case *ast.ExpressionBody:
		exprStart := l.skipFwd(arrowEnd)
		_, exprEnd := l.balance(arrowEnd, pos(body.Idx1()))
		l.add(head, edit{arrowEnd, exprStart, " {" + prelude + " return "}, edit{exprEnd, exprEnd, "; }"})
	}
}

package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/aggql/internal/ir"
	"github.com/roach88/aggql/internal/queryir"
)

// fieldFunc renders the left-hand side of a predicate.
type fieldFunc func(p *queryir.Predicate) (string, error)

// leafFunc renders a whole predicate.
type leafFunc func(p *queryir.Predicate) (string, []any, error)

func fieldLeaf(field fieldFunc) leafFunc {
	return func(p *queryir.Predicate) (string, []any, error) {
		return predicate(p, field)
	}
}

// renderFilter converts a filter tree to SQL with ? placeholders. Values
// are never interpolated.
func renderFilter(f queryir.FilterExpression, leaf leafFunc) (string, []any, error) {
	if f == nil {
		return "", nil, nil
	}
	return render(f, leaf, true)
}

func render(f queryir.FilterExpression, leaf leafFunc, top bool) (string, []any, error) {
	switch e := f.(type) {
	case *queryir.Predicate:
		return leaf(e)
	case *queryir.Not:
		sql, params, err := render(e.Operand, leaf, false)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + sql + ")", params, nil
	case *queryir.And:
		return combine(e.Operands, " AND ", leaf, top)
	case *queryir.Or:
		return combine(e.Operands, " OR ", leaf, false)
	default:
		return "", nil, fmt.Errorf("unsupported filter expression: %T", f)
	}
}

func combine(ops []queryir.FilterExpression, sep string, leaf leafFunc, top bool) (string, []any, error) {
	if len(ops) == 0 {
		return "(1 = 1)", nil, nil
	}
	parts := make([]string, 0, len(ops))
	var params []any
	for _, op := range ops {
		sql, p, err := render(op, leaf, false)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, p...)
	}
	sql := strings.Join(parts, sep)
	if len(parts) > 1 && !top {
		sql = "(" + sql + ")"
	}
	return sql, params, nil
}

func predicate(p *queryir.Predicate, field fieldFunc) (string, []any, error) {
	lhs, err := field(p)
	if err != nil {
		return "", nil, err
	}

	params := make([]any, 0, len(p.Values))
	for _, v := range p.Values {
		param, err := ir.ToParam(v)
		if err != nil {
			return "", nil, fmt.Errorf("filter on %s: %w", p.Field, err)
		}
		params = append(params, param)
	}

	switch p.Operator {
	case queryir.OpIn:
		return lhs + " IN (" + placeholders(len(params)) + ")", params, nil
	case queryir.OpNotIn:
		return lhs + " NOT IN (" + placeholders(len(params)) + ")", params, nil
	case queryir.OpLT:
		return lhs + " < ?", params, nil
	case queryir.OpLE:
		return lhs + " <= ?", params, nil
	case queryir.OpGT:
		return lhs + " > ?", params, nil
	case queryir.OpGE:
		return lhs + " >= ?", params, nil
	case queryir.OpBetween:
		return lhs + " BETWEEN ? AND ?", params, nil
	case queryir.OpPrefix:
		return like(lhs, "", p.Values[0], "%")
	case queryir.OpInfix:
		return like(lhs, "%", p.Values[0], "%")
	case queryir.OpPostfix:
		return like(lhs, "%", p.Values[0], "")
	case queryir.OpIsNull:
		return lhs + " IS NULL", nil, nil
	case queryir.OpNotNull:
		return lhs + " IS NOT NULL", nil, nil
	case queryir.OpTrue:
		return "(1 = 1)", nil, nil
	case queryir.OpFalse:
		return "(1 = 0)", nil, nil
	default:
		return "", nil, invalidf("Unsupported operator %s", p.Operator)
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func like(lhs, before string, v ir.IRValue, after string) (string, []any, error) {
	pattern := before + likeEscaper.Replace(ir.Text(v)) + after
	return lhs + " LIKE ? ESCAPE '!'", []any{pattern}, nil
}

package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/queryir"
)

// SQLCompiler compiles resolved query paths to parameterized SQL for SQLite.
//
// Every query orders by the primary key of every vertex (after any explicit
// ordering) so results and pages are deterministic. All values, including
// JSON paths, are parameters; only validated identifiers reach the SQL text.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Column describes one projected result column.
type Column struct {
	Tag   string
	Kind  ir.EntityKind
	Field queryir.Field
	// Edge marks a link column of the vertex's join.
	Edge bool
	// Width is the number of SQL columns: the entity column count for a
	// star projection, 1 otherwise.
	Width int
}

// IsStar reports whether the column projects the whole entity.
func (c Column) IsStar() bool {
	return c.Field.Column == queryir.Star
}

// Key is the display name of the column, "tag.field".
func (c Column) Key() string {
	if c.Edge {
		return c.Tag + ".edge." + c.Field.String()
	}
	return c.Tag + "." + c.Field.String()
}

// Compiled is an executable query. SQL has no LIMIT or OFFSET; apply Page.
type Compiled struct {
	SQL     string
	Args    []any
	Columns []Column

	// CountSQL counts every row of SQL, ignoring limit and offset.
	CountSQL  string
	CountArgs []any

	Limit  int
	Offset int
}

// closureCTE is the transitive closure of the link table.
const closureCTE = `WITH RECURSIVE lineage_tc(src, dst) AS (
	SELECT input_id, output_id FROM links
	UNION
	SELECT tc.src, l.output_id FROM lineage_tc tc JOIN links l ON l.input_id = tc.dst
) `

// Compile converts a resolved path to SQL.
func (c *SQLCompiler) Compile(r *queryir.Resolved) (*Compiled, error) {
	if r == nil || len(r.Vertices) == 0 {
		return nil, fmt.Errorf("cannot compile empty query")
	}

	out := &Compiled{Limit: r.Limit, Offset: r.Offset}

	// SELECT list
	var selects []string
	var selectArgs []any
	for i, v := range r.Vertices {
		alias := vertexAlias(i)
		for _, f := range v.Fields {
			if f.Column == queryir.Star {
				cols := queryir.EntityColumns(v.Kind)
				for _, col := range cols {
					selects = append(selects, alias+"."+col)
				}
				out.Columns = append(out.Columns, Column{Tag: v.Tag, Kind: v.Kind, Field: f, Width: len(cols)})
				continue
			}
			expr, args := projectExpr(alias, f)
			selects = append(selects, expr)
			selectArgs = append(selectArgs, args...)
			out.Columns = append(out.Columns, Column{Tag: v.Tag, Kind: v.Kind, Field: f, Width: 1})
		}
		for _, f := range v.EdgeFields {
			selects = append(selects, edgeAlias(i)+"."+f.Column)
			out.Columns = append(out.Columns, Column{Tag: v.Tag, Kind: v.Kind, Field: f, Edge: true, Width: 1})
		}
	}
	if len(selects) == 0 {
		return nil, fmt.Errorf("query projects nothing")
	}

	// FROM and joins
	needsClosure := false
	var from strings.Builder
	from.WriteString(" FROM " + queryir.Table(r.Vertices[0].Kind) + " " + vertexAlias(0))
	for i := 1; i < len(r.Vertices); i++ {
		v := r.Vertices[i]
		join, err := compileJoin(i, v)
		if err != nil {
			return nil, err
		}
		if v.Relation.IsTransitive() {
			needsClosure = true
		}
		from.WriteString(join)
	}

	// WHERE
	var conds []string
	var whereArgs []any
	for i, v := range r.Vertices {
		alias := vertexAlias(i)
		if v.NodeType != "" {
			conds = append(conds, alias+".node_type = ?")
			whereArgs = append(whereArgs, string(v.NodeType))
		}
		if len(v.Subtypes) > 0 {
			var ors []string
			for _, s := range v.Subtypes {
				ors = append(ors, fmt.Sprintf("(%s.subtype = ? OR substr(%s.subtype, 1, ?) = ?)", alias, alias))
				whereArgs = append(whereArgs, s, len(s)+1, s+".")
			}
			conds = append(conds, "("+strings.Join(ors, " OR ")+")")
		}
		if v.Filters != nil {
			kind := v.Kind
			sql, args, err := c.compilePredicate(v.Filters, alias, func(s string) (queryir.Field, error) {
				return queryir.ParseField(kind, s)
			})
			if err != nil {
				return nil, fmt.Errorf("compile filters of %q: %w", v.Tag, err)
			}
			conds = append(conds, sql)
			whereArgs = append(whereArgs, args...)
		}
		if v.EdgeFilters != nil {
			sql, args, err := c.compilePredicate(v.EdgeFilters, edgeAlias(i), queryir.ParseEdgeField)
			if err != nil {
				return nil, fmt.Errorf("compile edge filters of %q: %w", v.Tag, err)
			}
			conds = append(conds, sql)
			whereArgs = append(whereArgs, args...)
		}
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	// ORDER BY
	order, orderArgs, err := c.stableOrderKey(r, len(selects))
	if err != nil {
		return nil, err
	}

	prefix := ""
	if needsClosure {
		prefix = closureCTE
	}
	distinct := ""
	if r.Distinct {
		distinct = "DISTINCT "
	}
	body := "SELECT " + distinct + strings.Join(selects, ", ") + from.String() + where

	out.SQL = prefix + body + " ORDER BY " + order
	out.Args = concatArgs(selectArgs, whereArgs, orderArgs)
	out.CountSQL = prefix + "SELECT COUNT(*) FROM (" + body + ")"
	out.CountArgs = concatArgs(selectArgs, whereArgs)
	return out, nil
}

// Page appends LIMIT and OFFSET to a compiled query.
func Page(sql string, args []any, limit, offset int) (string, []any) {
	return sql + " LIMIT ? OFFSET ?", concatArgs(args, []any{limit, offset})
}

func vertexAlias(i int) string { return fmt.Sprintf("v%d", i) }
func edgeAlias(i int) string   { return fmt.Sprintf("e%d", i) }

func compileJoin(i int, v queryir.ResolvedVertex) (string, error) {
	self := vertexAlias(i)
	other := vertexAlias(v.Join)
	table := queryir.Table(v.Kind) + " " + self
	link := edgeAlias(i)

	switch v.Relation {
	case queryir.InputOf:
		return fmt.Sprintf(" JOIN links %s ON %s.output_id = %s.id JOIN %s ON %s.id = %s.input_id",
			link, link, other, table, self, link), nil
	case queryir.OutputOf:
		return fmt.Sprintf(" JOIN links %s ON %s.input_id = %s.id JOIN %s ON %s.id = %s.output_id",
			link, link, other, table, self, link), nil
	case queryir.AncestorOf:
		tc := fmt.Sprintf("t%d", i)
		return fmt.Sprintf(" JOIN lineage_tc %s ON %s.dst = %s.id JOIN %s ON %s.id = %s.src",
			tc, tc, other, table, self, tc), nil
	case queryir.DescendantOf:
		tc := fmt.Sprintf("t%d", i)
		return fmt.Sprintf(" JOIN lineage_tc %s ON %s.src = %s.id JOIN %s ON %s.id = %s.dst",
			tc, tc, other, table, self, tc), nil
	case queryir.MemberOf:
		m := fmt.Sprintf("m%d", i)
		return fmt.Sprintf(" JOIN group_nodes %s ON %s.group_id = %s.id JOIN %s ON %s.id = %s.node_id",
			m, m, other, table, self, m), nil
	case queryir.GroupOf:
		m := fmt.Sprintf("m%d", i)
		return fmt.Sprintf(" JOIN group_nodes %s ON %s.node_id = %s.id JOIN %s ON %s.id = %s.group_id",
			m, m, other, table, self, m), nil
	case queryir.CommentOf:
		return fmt.Sprintf(" JOIN %s ON %s.node_id = %s.id", table, self, other), nil
	case queryir.WithComment:
		return fmt.Sprintf(" JOIN %s ON %s.id = %s.node_id", table, self, other), nil
	case queryir.ComputerOf:
		return fmt.Sprintf(" JOIN %s ON %s.id = %s.computer_id", table, self, other), nil
	case queryir.WithComputer:
		return fmt.Sprintf(" JOIN %s ON %s.computer_id = %s.id", table, self, other), nil
	case queryir.UserOf:
		return fmt.Sprintf(" JOIN %s ON %s.id = %s.user_id", table, self, other), nil
	case queryir.WithUser:
		return fmt.Sprintf(" JOIN %s ON %s.user_id = %s.id", table, self, other), nil
	default:
		return "", fmt.Errorf("unsupported relation %q", v.Relation)
	}
}

// stableOrderKey returns the ORDER BY clause: explicit orderings first,
// then every vertex and edge primary key as a deterministic tiebreaker.
// DISTINCT queries break ties on the projected columns instead.
func (c *SQLCompiler) stableOrderKey(r *queryir.Resolved, width int) (string, []any, error) {
	var parts []string
	var args []any
	index := make(map[string]int, len(r.Vertices))
	for i, v := range r.Vertices {
		index[v.Tag] = i
	}
	for _, o := range r.Order {
		i, ok := index[o.Tag]
		if !ok {
			return "", nil, fmt.Errorf("order by unknown tag %q", o.Tag)
		}
		f, err := queryir.ParseField(r.Vertices[i].Kind, o.Field)
		if err != nil {
			return "", nil, err
		}
		expr, exprArgs := valueExpr(vertexAlias(i), f)
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		parts = append(parts, expr+" "+dir)
		args = append(args, exprArgs...)
	}

	if r.Distinct {
		for i := 1; i <= width; i++ {
			parts = append(parts, fmt.Sprintf("%d ASC", i))
		}
		return strings.Join(parts, ", "), args, nil
	}
	for i, v := range r.Vertices {
		parts = append(parts, vertexAlias(i)+".id ASC")
		if i > 0 && v.Relation.HasEdge() {
			parts = append(parts, edgeAlias(i)+".id ASC")
		}
	}
	return strings.Join(parts, ", "), args, nil
}

// projectExpr returns the SELECT expression for a projected field. JSON
// paths come back as JSON text so the value type survives.
func projectExpr(alias string, f queryir.Field) (string, []any) {
	if len(f.Path) == 0 {
		return alias + "." + f.Column, nil
	}
	return fmt.Sprintf("json_quote(json_extract(%s.%s, ?))", alias, f.Column), []any{jsonPath(f.Path)}
}

// valueExpr returns an expression yielding the SQL value of a field.
func valueExpr(alias string, f queryir.Field) (string, []any) {
	if len(f.Path) == 0 {
		return alias + "." + f.Column, nil
	}
	return fmt.Sprintf("json_extract(%s.%s, ?)", alias, f.Column), []any{jsonPath(f.Path)}
}

// jsonPath renders keys as a SQLite JSON path with every key quoted.
func jsonPath(keys []string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, k := range keys {
		b.WriteString(`."`)
		b.WriteString(k)
		b.WriteString(`"`)
	}
	return b.String()
}

// compilePredicate compiles a filter to a WHERE fragment.
// Values are never interpolated.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate, alias string, parse func(string) (queryir.Field, error)) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil, nil
	case queryir.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1", alias, parse)
	case queryir.Or:
		return c.compileJunction(pred.Predicates, " OR ", "1 = 0", alias, parse)
	case queryir.Not:
		sql, args, err := c.compilePredicate(pred.Predicate, alias, parse)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + sql + ")", args, nil
	case queryir.Compare:
		f, err := parse(pred.Field)
		if err != nil {
			return "", nil, err
		}
		return c.compileCompare(alias, f, pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileJunction(preds []queryir.Predicate, sep, empty, alias string, parse func(string) (queryir.Field, error)) (string, []any, error) {
	if len(preds) == 0 {
		return empty, nil, nil
	}
	parts := make([]string, 0, len(preds))
	var args []any
	for _, p := range preds {
		sql, pArgs, err := c.compilePredicate(p, alias, parse)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		args = append(args, pArgs...)
	}
	return strings.Join(parts, sep), args, nil
}

func (c *SQLCompiler) compileCompare(alias string, f queryir.Field, cmp queryir.Compare) (string, []any, error) {
	col := alias + "." + f.Column
	path := jsonPath(f.Path)
	expr, exprArgs := valueExpr(alias, f)

	switch cmp.Op {
	case queryir.OpEq:
		switch v := cmp.Value.(type) {
		case ir.IRNull:
			return expr + " IS NULL", exprArgs, nil
		case ir.IRArray, ir.IRObject:
			data, err := ir.MarshalCanonical(v)
			if err != nil {
				return "", nil, fmt.Errorf("convert value: %w", err)
			}
			if !f.IsJSON() {
				return "", nil, fmt.Errorf("field %s cannot equal a list or map", f)
			}
			if len(f.Path) == 0 {
				return col + " = ?", []any{string(data)}, nil
			}
			return fmt.Sprintf("json_quote(json_extract(%s, ?)) = ?", col), []any{path, string(data)}, nil
		}
		param, err := irValueToParam(cmp.Value)
		if err != nil {
			return "", nil, fmt.Errorf("convert value: %w", err)
		}
		return expr + " = ?", concatArgs(exprArgs, []any{param}), nil

	case queryir.OpGt, queryir.OpLt, queryir.OpGte, queryir.OpLte:
		param, err := irValueToParam(cmp.Value)
		if err != nil {
			return "", nil, fmt.Errorf("convert value: %w", err)
		}
		return fmt.Sprintf("%s %s ?", expr, cmp.Op), concatArgs(exprArgs, []any{param}), nil

	case queryir.OpIn:
		arr, ok := cmp.Value.(ir.IRArray)
		if !ok || len(arr) == 0 {
			return "", nil, fmt.Errorf("in expects a non-empty list")
		}
		params := make([]any, 0, len(arr))
		for _, elem := range arr {
			param, err := irValueToParam(elem)
			if err != nil {
				return "", nil, fmt.Errorf("convert value: %w", err)
			}
			params = append(params, param)
		}
		return fmt.Sprintf("%s IN (%s)", expr, placeholders(len(params))), concatArgs(exprArgs, params), nil

	case queryir.OpLike, queryir.OpILike:
		s, ok := cmp.Value.(ir.IRString)
		if !ok {
			return "", nil, fmt.Errorf("%s expects a string pattern", cmp.Op)
		}
		if cmp.Op == queryir.OpILike {
			return fmt.Sprintf("lower(%s) LIKE lower(?)", expr), concatArgs(exprArgs, []any{string(s)}), nil
		}
		return expr + " LIKE ?", concatArgs(exprArgs, []any{string(s)}), nil

	case queryir.OpContains:
		arr, ok := cmp.Value.(ir.IRArray)
		if !ok {
			return "", nil, fmt.Errorf("contains expects a list")
		}
		if len(arr) == 0 {
			return "1 = 1", nil, nil
		}
		parts := make([]string, 0, len(arr))
		var args []any
		for _, elem := range arr {
			param, err := irValueToParam(elem)
			if err != nil {
				return "", nil, fmt.Errorf("convert value: %w", err)
			}
			parts = append(parts, fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s, ?) je WHERE je.value = ?)", col))
			args = append(args, path, param)
		}
		return strings.Join(parts, " AND "), args, nil

	case queryir.OpHasKey:
		key, ok := cmp.Value.(ir.IRString)
		if !ok || strings.ContainsAny(string(key), `"\`) {
			return "", nil, fmt.Errorf("has_key expects a plain string key")
		}
		keyPath := jsonPath(append(append([]string(nil), f.Path...), string(key)))
		return fmt.Sprintf("json_type(%s, ?) IS NOT NULL", col), []any{keyPath}, nil

	case queryir.OpOfLength, queryir.OpLonger, queryir.OpShorter:
		n, ok := cmp.Value.(ir.IRInt)
		if !ok {
			return "", nil, fmt.Errorf("%s expects an integer", cmp.Op)
		}
		op := map[queryir.Operator]string{queryir.OpOfLength: "=", queryir.OpLonger: ">", queryir.OpShorter: "<"}[cmp.Op]
		return fmt.Sprintf("json_array_length(%s, ?) %s ?", col, op), []any{path, int64(n)}, nil

	default:
		return "", nil, fmt.Errorf("unsupported operator %q", cmp.Op)
	}
}

// irValueToParam converts a scalar ir.IRValue to a SQL parameter.
func irValueToParam(v ir.IRValue) (any, error) {
	switch val := v.(type) {
	case ir.IRString:
		return string(val), nil
	case ir.IRInt:
		return int64(val), nil
	case ir.IRFloat:
		return float64(val), nil
	case ir.IRBool:
		return bool(val), nil
	case ir.IRNull:
		return nil, nil
	case ir.IRArray:
		return nil, fmt.Errorf("IRArray cannot be used as SQL parameter directly")
	case ir.IRObject:
		return nil, fmt.Errorf("IRObject cannot be used as SQL parameter directly")
	default:
		return nil, fmt.Errorf("unsupported IRValue type for SQL parameter: %T", v)
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func concatArgs(lists ...[]any) []any {
	var out []any
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

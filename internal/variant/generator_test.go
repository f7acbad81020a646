package variant

import (
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sql-guard/internal/template"
)

func mustParse(t *testing.T, markup string) *template.Template {
	t.Helper()
	tpl, err := template.Parse(markup)
	require.NoError(t, err)
	return tpl
}

func sqls(vs []ConcreteVariant) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.SQL
	}
	return out
}

func TestGenerate_WhereWithSingleIf(t *testing.T) {
	g := NewGenerator(nil)
	tpl := mustParse(t, `SELECT * FROM users <where><if test="name != null">name = #{name}</if></where>`)

	vs := g.Generate(tpl)
	require.Len(t, vs, 2)
	assert.Equal(t, "SELECT * FROM users WHERE name = ?", vs[0].SQL)
	assert.Equal(t, "SELECT * FROM users", vs[1].SQL)
	for _, v := range vs {
		assert.True(t, v.Valid, "variant %q should parse: %v", v.SQL, v.Err)
	}
	assert.Equal(t, []string{"if[name != null]=included"}, vs[0].Labels)
	assert.Equal(t, []string{"if[name != null]=excluded"}, vs[1].Labels)
}

func TestGenerate_ChooseWithOtherwise(t *testing.T) {
	g := NewGenerator(nil)
	tpl := mustParse(t, `SELECT * FROM t <where><choose>
		<when test="a != null">a = #{a}</when>
		<when test="b != null">b = #{b}</when>
		<otherwise>1=1</otherwise>
	</choose></where>`)

	assert.Equal(t, []string{
		"SELECT * FROM t WHERE a = ?",
		"SELECT * FROM t WHERE 1=1",
		"SELECT * FROM t WHERE b = ?",
	}, sqls(g.Generate(tpl)))
}

func TestGenerate_ChooseWithoutDefaultHasNoneState(t *testing.T) {
	g := NewGenerator(nil)
	tpl := mustParse(t, `SELECT * FROM t <where><choose><when test="a">a = #{a}</when><when test="b"> </when></choose></where>`)
	// the empty <when> contributes no state
	assert.Equal(t, []string{"SELECT * FROM t WHERE a = ?", "SELECT * FROM t"}, sqls(g.Generate(tpl)))
}

func TestGenerate_ForeachCollapsedToZero(t *testing.T) {
	g := NewGenerator(nil)

	tests := []struct {
		name   string
		markup string
		want   []string
	}{
		{
			name:   "loop owns parentheses",
			markup: `SELECT * FROM orders WHERE status = #{status} AND id IN <foreach collection="ids" item="id" open="(" separator="," close=")">#{id}</foreach>`,
			want: []string{
				"SELECT * FROM orders WHERE status = ? AND id IN (?)",
				"SELECT * FROM orders WHERE status = ?",
				"SELECT * FROM orders WHERE status = ? AND id IN (?, ?)",
			},
		},
		{
			name:   "literal parentheses",
			markup: `SELECT * FROM orders WHERE id IN (<foreach collection="ids" item="id" separator=",">#{id}</foreach>) AND status = 1`,
			want: []string{
				"SELECT * FROM orders WHERE id IN (?) AND status = 1",
				"SELECT * FROM orders WHERE status = 1",
				"SELECT * FROM orders WHERE id IN (?, ?) AND status = 1",
			},
		},
		{
			name:   "only condition inside where",
			markup: `DELETE FROM orders <where><foreach collection="ids" item="id" open="id IN (" separator="," close=")">#{id}</foreach></where>`,
			want: []string{
				"DELETE FROM orders WHERE id IN (?)",
				"DELETE FROM orders",
				"DELETE FROM orders WHERE id IN (?, ?)",
			},
		},
		{
			name:   "or separated conditions",
			markup: `SELECT id FROM t WHERE a = 1 AND (<foreach collection="names" item="n" separator="OR">name = #{n}</foreach>)`,
			want: []string{
				"SELECT id FROM t WHERE a = 1 AND (name = ?)",
				"SELECT id FROM t WHERE a = 1",
				"SELECT id FROM t WHERE a = 1 AND (name = ? OR name = ?)",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs := g.Generate(mustParse(t, tt.markup))
			assert.Equal(t, tt.want, sqls(vs))
			for _, v := range vs {
				assert.NotContains(t, v.SQL, "IN ()")
				assert.True(t, v.Valid, "variant %q should parse: %v", v.SQL, v.Err)
			}
		})
	}
}

func TestGenerate_NoDirectives(t *testing.T) {
	g := NewGenerator(nil)
	tpl := mustParse(t, `SELECT id FROM t WHERE a = #{a}`)
	assert.Empty(t, g.Generate(tpl))

	v := g.Static(tpl)
	assert.True(t, v.Valid)
	assert.Equal(t, "SELECT id FROM t WHERE a = ?", v.SQL)
	assert.Equal(t, "static", v.Describe())
}

func TestGenerate_Bound(t *testing.T) {
	g := NewGenerator(nil)

	var b strings.Builder
	b.WriteString("SELECT * FROM t <where>")
	for i := 0; i < 15; i++ {
		fmt.Fprintf(&b, `<if test="p%d != null">AND c%d = #{p%d}</if>`, i, i, i)
	}
	b.WriteString("</where>")

	vs := g.Generate(mustParse(t, b.String()))
	assert.Len(t, vs, MaxVariants)
	assert.True(t, vs[0].Valid)
	assert.Equal(t, "SELECT * FROM t", vs[1].SQL, "all-excluded variant comes second")

	small := NewGenerator(nil, WithMaxVariants(3))
	assert.Len(t, small.Generate(mustParse(t, b.String())), 3)
}

func TestGenerate_DeepNestingIsFast(t *testing.T) {
	g := NewGenerator(nil)

	var b strings.Builder
	b.WriteString("SELECT * FROM t <where>")
	const depth = 40
	for i := 0; i < depth; i++ {
		fmt.Fprintf(&b, `<if test="p%d">AND c%d = #{p%d} <choose><when test="q%d">AND d%d IN <foreach collection="l%d" item="x" open="(" separator="," close=")">#{x}</foreach></when></choose>`, i, i, i, i, i, i)
	}
	for i := 0; i < depth; i++ {
		b.WriteString("</if>")
	}
	b.WriteString("</where>")
	tpl := mustParse(t, b.String())

	start := time.Now()
	vs := g.Generate(tpl)
	assert.Less(t, time.Since(start), time.Second)
	assert.LessOrEqual(t, len(vs), MaxVariants)
	assert.NotEmpty(t, ValidOnly(vs))
}

func TestGenerate_InvalidVariantIsFlagged(t *testing.T) {
	g := NewGenerator(nil)
	tpl := mustParse(t, `SELECT * FROM t WHERE <if test="a">a = #{a}</if> <if test="b">GARBAGE ((</if>`)

	vs := g.Generate(tpl)
	require.NotEmpty(t, vs)

	var valid, invalid int
	for _, v := range vs {
		if v.Valid {
			valid++
			assert.NoError(t, v.Err)
		} else {
			invalid++
			assert.Error(t, v.Err)
		}
	}
	assert.Positive(t, valid)
	assert.Positive(t, invalid)
	assert.Len(t, ValidOnly(vs), valid)
}

func TestGenerate_Idempotent(t *testing.T) {
	g := NewGenerator(nil)
	markup := `SELECT ${cols} FROM t <where>
		<if test="a">AND a = #{a}</if>
		<choose><when test="b">AND b = #{b}</when><otherwise>AND b IS NULL</otherwise></choose>
		<foreach collection="ids" item="id" open="AND id IN (" separator="," close=")">#{id}</foreach>
	</where> ORDER BY ${sort}`

	first := g.Generate(mustParse(t, markup))
	second := g.Generate(mustParse(t, markup))
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].SQL, second[i].SQL)
		assert.Equal(t, first[i].States, second[i].States)
		assert.Equal(t, first[i].Valid, second[i].Valid)
	}
}

var (
	danglingWhereRe = regexp.MustCompile(`(?i)\bWHERE\s*($|\)|\b(ORDER|GROUP|LIMIT)\b)`)
	whereAndOrRe    = regexp.MustCompile(`(?i)\bWHERE\s+(AND|OR)\b`)
	emptyInRe       = regexp.MustCompile(`(?i)\bIN\s*\(\s*\)`)
)

func TestGenerate_WhereSafety(t *testing.T) {
	g := NewGenerator(nil)
	templates := []string{
		`SELECT * FROM t WHERE <if test="a">a = #{a}</if>`,
		`SELECT * FROM t WHERE <if test="a">AND a = #{a}</if> <if test="b">OR b = #{b}</if> ORDER BY id`,
		`SELECT * FROM t <where><if test="a">OR a = #{a}</if><if test="b">AND b = #{b}</if></where> LIMIT 10`,
		`UPDATE t <set><if test="a">a = #{a},</if><if test="b">b = #{b},</if></set> WHERE id IN <foreach collection="ids" item="i" open="(" separator="," close=")">#{i}</foreach>`,
		`SELECT * FROM t WHERE id IN (SELECT x FROM u <where><if test="y">y = #{y}</if></where>)`,
	}
	for _, markup := range templates {
		for _, v := range g.Generate(mustParse(t, markup)) {
			assert.False(t, danglingWhereRe.MatchString(v.SQL), "dangling WHERE in %q", v.SQL)
			assert.False(t, whereAndOrRe.MatchString(v.SQL), "WHERE AND/OR in %q", v.SQL)
			assert.False(t, emptyInRe.MatchString(v.SQL), "IN () in %q", v.SQL)
		}
	}
}

func TestGenerate_RawSubstitutionPlaceholders(t *testing.T) {
	g := NewGenerator(nil)
	tpl := mustParse(t, `SELECT id FROM t <where><if test="a">a = #{a}</if></where> ORDER BY ${sort} LIMIT ${size}`)
	vs := g.Generate(tpl)
	require.NotEmpty(t, vs)
	assert.Equal(t, "SELECT id FROM t WHERE a = ? ORDER BY `sort` LIMIT ?", vs[0].SQL)
	assert.True(t, vs[0].Valid, "%v", vs[0].Err)
}

func TestGenerate_RawSortDirection(t *testing.T) {
	g := NewGenerator(nil)
	tpl := mustParse(t, `SELECT id FROM t <where><if test="a != null">a = #{a}</if></where> ORDER BY ${sort} ${dir} LIMIT 10`)
	vs := g.Generate(tpl)
	require.Len(t, vs, 2)
	for _, v := range vs {
		assert.True(t, v.Valid, "%s: %v", v.SQL, v.Err)
	}
	assert.Equal(t, "SELECT id FROM t WHERE a = ? ORDER BY `sort` ASC LIMIT 10", vs[0].SQL)
	assert.Equal(t, "SELECT id FROM t ORDER BY `sort` ASC LIMIT 10", vs[1].SQL)

	tpl = mustParse(t, `SELECT id FROM t WHERE b = #{b} ORDER BY ${col} ${dir}, id <if test="x">LIMIT 5</if>`)
	valid := ValidOnly(g.Generate(tpl))
	require.NotEmpty(t, valid)
	assert.Equal(t, "SELECT id FROM t WHERE b = ? ORDER BY `col` ASC, id LIMIT 5", valid[0].SQL)
}

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT * FROM users WHERE", "SELECT * FROM users"},
		{"SELECT * FROM users WHERE   AND a = 1", "SELECT * FROM users WHERE a = 1"},
		{"SELECT * FROM users WHERE OR a = 1", "SELECT * FROM users WHERE a = 1"},
		{"SELECT * FROM t WHERE a = 1 AND id IN ()", "SELECT * FROM t WHERE a = 1"},
		{"SELECT * FROM t WHERE id IN () AND a = 1", "SELECT * FROM t WHERE a = 1"},
		{"SELECT * FROM t WHERE a = 1 AND id IN", "SELECT * FROM t WHERE a = 1"},
		{"SELECT * FROM t WHERE id NOT IN ( ) ORDER BY id", "SELECT * FROM t ORDER BY id"},
		{"SELECT NOW() FROM t WHERE a = 1 AND", "SELECT NOW() FROM t WHERE a = 1"},
		{"SELECT * FROM t WHERE (a = 1 OR ()) AND b = 2", "SELECT * FROM t WHERE (a = 1) AND b = 2"},
		{"UPDATE t SET a = ?, WHERE id = ?", "UPDATE t SET a = ? WHERE id = ?"},
		{"SELECT * FROM t WHERE a = 1 AND ORDER BY a", "SELECT * FROM t WHERE a = 1 ORDER BY a"},
		{"SELECT * FROM t WHERE status = AND a = 1", "SELECT * FROM t WHERE a = 1"},
		{"SELECT a,\n\tb FROM t", "SELECT a, b FROM t"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

package queries

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"sync"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Dialect selects placeholder syntax for rendered statements.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Tables names the metadata tables; both are operator configurable.
type Tables struct {
	Items          string
	Collaborations string
}

// DefaultTables returns the stock metadata table names.
func DefaultTables() Tables {
	return Tables{Items: "items", Collaborations: "collaborations"}
}

func New(db DBTX, dialect Dialect, tables Tables) *Queries {
	if tables.Items == "" {
		tables.Items = "items"
	}
	if tables.Collaborations == "" {
		tables.Collaborations = "collaborations"
	}
	return &Queries{db: db, r: newRenderer(dialect, tables)}
}

type Queries struct {
	db DBTX
	r  *renderer
}

func (q *Queries) WithTx(tx DBTX) *Queries {
	return &Queries{
		db: tx,
		r:  q.r,
	}
}

type renderer struct {
	dialect  Dialect
	replacer *strings.Replacer
	cache    sync.Map
}

func newRenderer(dialect Dialect, tables Tables) *renderer {
	return &renderer{
		dialect: dialect,
		replacer: strings.NewReplacer(
			"{{items}}", tables.Items,
			"{{collaborations}}", tables.Collaborations,
		),
	}
}

// render substitutes table names and rewrites ? placeholders to $N for postgres.
func (r *renderer) render(query string) string {
	if cached, ok := r.cache.Load(query); ok {
		return cached.(string)
	}
	out := r.replacer.Replace(query)
	if r.dialect == DialectPostgres {
		out = rebind(out)
	}
	r.cache.Store(query, out)
	return out
}

func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

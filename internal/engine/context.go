package engine

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/factrule/internal/ast"
	"github.com/roach88/factrule/internal/ir"
)

// DefaultMaxCallDepth bounds the nesting of user function calls.
const DefaultMaxCallDepth = 64

// Env is the read-only state shared by every Context of a run.
type Env struct {
	Rules         *ast.RuleSet
	Registry      *Registry
	Index         FactIndex
	Constants     *ConstantTable
	Logger        *slog.Logger
	IncludeNils   bool
	MaxIterations int
	MaxCallDepth  int
}

// Stats counts the work done by one Context.
type Stats struct {
	Evaluations int // evaluator calls for mounted nodes
	CacheHits   int
	Iterations  int // table advances, all scopes
	Realigns    int
}

// frame binds parameters and where-clause items by declaration id.
type frame map[ir.NodeID]ir.Value

// pendingAlignment is a factset waiting to learn whether the alignment of
// its table changes while its where clause runs.
type pendingAlignment struct {
	factset ir.NodeID
	table   TableHandle
}

// ambientFilter is a with-filter applied to every factset evaluated inside
// the with body.
type ambientFilter struct {
	key    ir.AspectKey
	match  ast.MatchKind
	values []string
}

// Context is the evaluation state of one rule or constant: the iteration
// table, the cache, variable frames, ambient filters and the factsets
// waiting for alignment. A Context belongs to one goroutine and is thrown
// away when its rule is done.
type Context struct {
	ctx   context.Context
	env   *Env
	owner string

	tables  *IterationTable
	cache   map[string]*ir.ValueSet
	frames  []frame
	pending []pendingAlignment
	ambient []ambientFilter
	path    []ir.NodeID
	quota   *IterationQuota
	stats   Stats
}

// NewContext returns a fresh evaluation context for owner (a rule or
// constant name).
func NewContext(ctx context.Context, env *Env, owner string) *Context {
	if env.Registry == nil {
		env.Registry = NewRegistry()
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	if env.Constants == nil {
		env.Constants = NewConstantTable()
	}
	return &Context{
		ctx:    ctx,
		env:    env,
		owner:  owner,
		tables: NewIterationTable(),
		cache:  make(map[string]*ir.ValueSet),
		quota:  NewIterationQuota(env.MaxIterations),
	}
}

// Tables exposes the iteration table.
func (c *Context) Tables() *IterationTable {
	return c.tables
}

// Stats returns the work counters.
func (c *Context) Stats() Stats {
	return c.stats
}

func (c *Context) logger() *slog.Logger {
	return c.env.Logger
}

// step counts one table advance against the quota.
func (c *Context) step() error {
	c.stats.Iterations++
	return c.quota.Check(c.owner)
}

// binding returns the innermost value bound to decl.
func (c *Context) binding(decl ir.NodeID) (ir.Value, bool) {
	for i := len(c.frames) - 1; i >= 0; i-- {
		if v, ok := c.frames[i][decl]; ok {
			return v, true
		}
	}
	return ir.Value{}, false
}

func (c *Context) pushFrame(f frame) func() {
	c.frames = append(c.frames, f)
	n := len(c.frames)
	return func() { c.frames = c.frames[:n-1] }
}

// tableFor returns the table that holds n's column.
func (c *Context) tableFor(n *ast.Node) (TableHandle, error) {
	if h, ok := c.tables.ForScope(n.Ann.ScopeID); ok {
		return h, nil
	}
	return noTable, newError(ErrCodeUnknownTable, n.ID, "no active table for scope %d", n.Ann.ScopeID)
}

// pathKey identifies the chain of user-function call sites being evaluated.
func (c *Context) pathKey() string {
	if len(c.path) == 0 {
		return ""
	}
	parts := make([]string, len(c.path))
	for i, id := range c.path {
		parts[i] = strconv.Itoa(int(id))
	}
	return strings.Join(parts, "/")
}

// filterKey identifies the ambient filters in force.
func (c *Context) filterKey() string {
	if len(c.ambient) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range c.ambient {
		b.WriteString(f.key.String())
		b.WriteString(f.match.String())
		b.WriteString(strconv.Quote(strings.Join(f.values, "\x00")))
		b.WriteByte(';')
	}
	return b.String()
}

// enter opens a table for scope under the current call path and returns a
// function that removes it again.
func (c *Context) enter(scope ir.NodeID) (TableHandle, func(), error) {
	h, err := c.tables.AddTable(TableKey{Scope: scope, Path: c.pathKey()})
	if err != nil {
		return noTable, nil, err
	}
	return h, func() { c.tables.Remove(h) }, nil
}

package engine

import (
	"slices"

	"github.com/roach88/factrule/internal/ir"
)

// TableHandle references a sub-table of an IterationTable.
type TableHandle int

// noTable is the parent handle of a root sub-table.
const noTable TableHandle = -1

// TableKey identifies a sub-table: the scope-opening node plus the
// processing path (the chain of user-function call sites) that reached it.
type TableKey struct {
	Scope ir.NodeID
	Path  string
}

// column is one mounted node: its value set and the row being iterated.
type column struct {
	node      ir.NodeID
	set       *ir.ValueSet
	row       int
	dependent bool // follows the table's alignment; dropped on every switch
	used      bool // read during the current iteration
	live      bool
}

// accumulator collects per-iteration provenance for the scope.
type accumulator struct {
	facts       []ir.FactID
	tags        map[string]ir.Value
	alignedOnly bool
}

func (a *accumulator) merge(v ir.Value) {
	a.facts = ir.MergeFacts(a.facts, v.Facts)
	for k, t := range v.Tags {
		a.tag(k, t)
	}
}

func (a *accumulator) tag(name string, v ir.Value) {
	if a.tags == nil {
		a.tags = make(map[string]ir.Value)
	}
	a.tags[name] = v
}

type subTable struct {
	key    TableKey
	parent TableHandle
	live   bool

	cols       []column
	free       []int
	byNode     map[ir.NodeID]int
	order      []int // live column indexes, oldest first
	dependents map[ir.NodeID][]ir.NodeID

	current        ir.Alignment
	queue          []ir.Alignment
	seen           map[string]bool
	nonePending    bool
	dependentAlign ir.Alignment
	exhausted      bool
	iterations     int

	acc accumulator
}

// IterationTable is a stack of scoped sub-tables. Each sub-table iterates
// the cross product of its columns one alignment at a time, concrete
// alignments first and the none alignment last.
//
// Sub-tables and columns live in slices and are referenced by index; a
// removed sub-table's slot is reused.
type IterationTable struct {
	subs  []subTable
	free  []TableHandle
	stack []TableHandle
}

// NewIterationTable returns an empty table stack.
func NewIterationTable() *IterationTable {
	return &IterationTable{}
}

func (t *IterationTable) sub(h TableHandle) (*subTable, error) {
	if h < 0 || int(h) >= len(t.subs) || !t.subs[h].live {
		return nil, newError(ErrCodeUnknownTable, 0, "table %d is not active", h)
	}
	return &t.subs[h], nil
}

// AddTable pushes a sub-table for key. The new table inherits the
// enclosing alignment of the current top as its dependent alignment.
func (t *IterationTable) AddTable(key TableKey) (TableHandle, error) {
	for _, h := range t.stack {
		if t.subs[h].key == key {
			return noTable, newError(ErrCodeInternal, key.Scope, "scope %d already has an active table (path %q)", key.Scope, key.Path)
		}
	}
	parent := noTable
	if n := len(t.stack); n > 0 {
		parent = t.stack[n-1]
	}
	st := subTable{
		key:        key,
		parent:     parent,
		live:       true,
		byNode:     make(map[ir.NodeID]int),
		dependents: make(map[ir.NodeID][]ir.NodeID),
		seen:       make(map[string]bool),
	}
	if parent != noTable {
		st.dependentAlign = t.EnclosingAlignment(parent)
	}

	var h TableHandle
	if n := len(t.free); n > 0 {
		h = t.free[n-1]
		t.free = t.free[:n-1]
		t.subs[h] = st
	} else {
		h = TableHandle(len(t.subs))
		t.subs = append(t.subs, st)
	}
	t.stack = append(t.stack, h)
	return h, nil
}

// Remove drops h and every table pushed after it.
func (t *IterationTable) Remove(h TableHandle) {
	i := slices.Index(t.stack, h)
	if i < 0 {
		return
	}
	for _, gone := range t.stack[i:] {
		t.subs[gone] = subTable{}
		t.free = append(t.free, gone)
	}
	t.stack = t.stack[:i]
}

// Depth is the number of active sub-tables.
func (t *IterationTable) Depth() int {
	return len(t.stack)
}

// Top returns the innermost active sub-table.
func (t *IterationTable) Top() (TableHandle, bool) {
	if len(t.stack) == 0 {
		return noTable, false
	}
	return t.stack[len(t.stack)-1], true
}

// ForScope returns the innermost active sub-table opened by scope.
func (t *IterationTable) ForScope(scope ir.NodeID) (TableHandle, bool) {
	for i := len(t.stack) - 1; i >= 0; i-- {
		if t.subs[t.stack[i]].key.Scope == scope {
			return t.stack[i], true
		}
	}
	return noTable, false
}

// AddColumn mounts set for node in h. deps are the nodes whose current
// values node was computed from; advancing any of them unmounts node.
func (t *IterationTable) AddColumn(h TableHandle, node ir.NodeID, deps []ir.NodeID, set *ir.ValueSet, dependent bool) error {
	st, err := t.sub(h)
	if err != nil {
		return err
	}
	if _, ok := st.byNode[node]; ok {
		return newError(ErrCodeColumnExists, node, "node %d is already mounted in table %d", node, h)
	}
	if set == nil {
		set = ir.NewValueSet()
	}

	c := column{node: node, set: set, dependent: dependent, live: true}
	var ci int
	if n := len(st.free); n > 0 {
		ci = st.free[n-1]
		st.free = st.free[:n-1]
		st.cols[ci] = c
	} else {
		ci = len(st.cols)
		st.cols = append(st.cols, c)
	}
	st.byNode[node] = ci
	st.order = append(st.order, ci)

	for _, d := range deps {
		if _, ok := st.byNode[d]; ok && d != node && !slices.Contains(st.dependents[d], node) {
			st.dependents[d] = append(st.dependents[d], node)
		}
	}

	for _, a := range set.Concrete() {
		if st.seen[a.Key()] {
			continue
		}
		st.seen[a.Key()] = true
		st.queue = append(st.queue, a)
	}
	// Switching is only safe on the first row of the none phase: the
	// concrete pass then starts from the combination being evaluated and
	// the none group has not been visited yet. Past that row the queued
	// alignments wait for the none phase to finish and are walked in full.
	if st.current.IsNone() && len(st.queue) > 0 && st.atFirstRow(ci) {
		st.current, st.queue = st.queue[0], st.queue[1:]
		st.nonePending = true
	}
	return nil
}

// atFirstRow reports whether every column other than skip sits at row 0.
func (st *subTable) atFirstRow(skip int) bool {
	for _, ci := range st.order {
		if ci != skip && st.cols[ci].row != 0 {
			return false
		}
	}
	return true
}

// Mounted reports whether node has a column in h.
func (t *IterationTable) Mounted(h TableHandle, node ir.NodeID) bool {
	st, err := t.sub(h)
	if err != nil {
		return false
	}
	_, ok := st.byNode[node]
	return ok
}

// Current returns node's value under the current row and alignment,
// falling back to the column's none group, and marks the column used.
// mounted is false when node has no column in h.
func (t *IterationTable) Current(h TableHandle, node ir.NodeID) (v ir.Value, ok bool, mounted bool) {
	st, err := t.sub(h)
	if err != nil {
		return ir.Value{}, false, false
	}
	return st.currentValue(node, true)
}

// Lookup finds node's current value in the innermost table that mounts it.
func (t *IterationTable) Lookup(node ir.NodeID, markUsed bool) (v ir.Value, ok bool, mounted bool) {
	for i := len(t.stack) - 1; i >= 0; i-- {
		if v, ok, mounted := t.subs[t.stack[i]].currentValue(node, markUsed); mounted {
			return v, ok, true
		}
	}
	return ir.Value{}, false, false
}

func (st *subTable) currentValue(node ir.NodeID, markUsed bool) (ir.Value, bool, bool) {
	ci, ok := st.byNode[node]
	if !ok {
		return ir.Value{}, false, false
	}
	c := &st.cols[ci]
	if markUsed {
		c.used = true
	}
	vals := st.values(c)
	if c.row >= len(vals) {
		return ir.Value{}, false, true
	}
	return vals[c.row], true, true
}

// values returns the column's rows under the current alignment.
func (st *subTable) values(c *column) []ir.Value {
	if !st.current.IsNone() {
		if vs := c.set.Values(st.current); len(vs) > 0 {
			return vs
		}
	}
	return c.set.Values(ir.NoAlignment)
}

// Next advances h to its next row combination. Used columns are advanced
// newest first like an odometer; when every column has carried, the next
// queued alignment becomes current.
func (t *IterationTable) Next(h TableHandle) error {
	st, err := t.sub(h)
	if err != nil {
		return err
	}
	if st.exhausted {
		return nil
	}
	st.iterations++
	st.acc = accumulator{}

	advanced := false
	order := slices.Clone(st.order)
	for i := len(order) - 1; i >= 0 && !advanced; i-- {
		c := &st.cols[order[i]]
		if !c.live {
			continue
		}
		if !c.used {
			c.row = 0
			continue
		}
		vals := st.values(c)
		if len(vals) == 0 {
			continue
		}
		if c.row < len(vals)-1 {
			c.row++
			advanced = true
		} else {
			c.row = 0
		}
		st.removeDependents(c.node)
	}
	for _, ci := range st.order {
		st.cols[ci].used = false
	}
	if !advanced {
		st.switchAlignment()
	}
	return nil
}

// switchAlignment moves to the next queued alignment, or exhausts the table.
func (st *subTable) switchAlignment() {
	for {
		switch {
		case len(st.queue) > 0:
			st.current, st.queue = st.queue[0], st.queue[1:]
		case st.nonePending && !st.current.IsNone():
			st.nonePending = false
			st.current = ir.NoAlignment
		default:
			st.exhausted = true
			return
		}

		for _, node := range st.liveNodes() {
			ci, ok := st.byNode[node]
			if !ok {
				continue
			}
			st.cols[ci].row = 0
			if st.cols[ci].dependent {
				st.remove(node)
			} else {
				st.removeDependents(node)
			}
		}

		if st.current.IsNone() && !st.hasNoneRows() {
			continue
		}
		return
	}
}

// hasNoneRows reports whether the none alignment can yield anything: some
// live column has none-aligned rows, or nothing is mounted to tell.
func (st *subTable) hasNoneRows() bool {
	if len(st.order) == 0 {
		return true
	}
	for _, ci := range st.order {
		if len(st.cols[ci].set.Values(ir.NoAlignment)) > 0 {
			return true
		}
	}
	return false
}

func (st *subTable) liveNodes() []ir.NodeID {
	nodes := make([]ir.NodeID, 0, len(st.order))
	for _, ci := range st.order {
		nodes = append(nodes, st.cols[ci].node)
	}
	return nodes
}

func (st *subTable) remove(node ir.NodeID) {
	ci, ok := st.byNode[node]
	if !ok {
		return
	}
	delete(st.byNode, node)
	st.cols[ci] = column{}
	st.free = append(st.free, ci)
	if i := slices.Index(st.order, ci); i >= 0 {
		st.order = slices.Delete(st.order, i, i+1)
	}
	st.removeDependents(node)
}

func (st *subTable) removeDependents(node ir.NodeID) {
	deps := st.dependents[node]
	delete(st.dependents, node)
	for _, d := range deps {
		st.remove(d)
	}
}

// Exhausted reports whether h has no further rows.
func (t *IterationTable) Exhausted(h TableHandle) bool {
	st, err := t.sub(h)
	return err != nil || st.exhausted
}

// Iterations counts Next calls on h.
func (t *IterationTable) Iterations(h TableHandle) int {
	st, err := t.sub(h)
	if err != nil {
		return 0
	}
	return st.iterations
}

// CurrentAlignment returns the alignment h is iterating.
func (t *IterationTable) CurrentAlignment(h TableHandle) ir.Alignment {
	st, err := t.sub(h)
	if err != nil {
		return ir.NoAlignment
	}
	return st.current
}

// EnclosingAlignment walks from h outwards and returns the first concrete
// alignment: a table's current one, else the one it inherited.
func (t *IterationTable) EnclosingAlignment(h TableHandle) ir.Alignment {
	for h != noTable {
		st, err := t.sub(h)
		if err != nil {
			return ir.NoAlignment
		}
		if !st.current.IsNone() {
			return st.current
		}
		if !st.dependentAlign.IsNone() {
			return st.dependentAlign
		}
		h = st.parent
	}
	return ir.NoAlignment
}

// acc returns the per-iteration accumulator of h.
func (t *IterationTable) acc(h TableHandle) *accumulator {
	st, err := t.sub(h)
	if err != nil {
		return &accumulator{}
	}
	return &st.acc
}

// inherit replaces the alignment h took over from its parent.
func (t *IterationTable) inherit(h TableHandle, a ir.Alignment) {
	if st, err := t.sub(h); err == nil {
		st.dependentAlign = a
	}
}

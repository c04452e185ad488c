package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/factrule/internal/ir"
	"github.com/roach88/factrule/internal/queryir"
	"github.com/roach88/factrule/internal/querysql"
)

// Index answers fact index lookups from the store's fact_aspects posting
// table. Every lookup is built as QueryIR and compiled by querysql.
//
// Thread-safety: Index is safe for concurrent use. Facts read by id are
// cached for the lifetime of the Index; create a new Index after writing
// facts.
type Index struct {
	store    *Store
	compiler *querysql.SQLCompiler
	logger   *slog.Logger

	mu    sync.RWMutex
	facts map[ir.FactID]*ir.Fact
}

// NewIndex returns an index over s.
func NewIndex(s *Store) *Index {
	return &Index{
		store:    s,
		compiler: querysql.NewSQLCompiler(),
		logger:   slog.Default(),
		facts:    make(map[ir.FactID]*ir.Fact),
	}
}

func allFactsQuery() queryir.Select {
	return queryir.Select{From: "facts", Fields: []string{"id"}}
}

func postingQuery(key ir.AspectKey) queryir.Select {
	return queryir.Select{
		From:    "fact_aspects",
		Fields:  []string{"fact_id"},
		Filter:  queryir.Equals{Field: "aspect", Value: queryir.String(key.String())},
		OrderBy: "fact_id",
	}
}

func lookupQuery(key ir.AspectKey, value string) queryir.Select {
	return queryir.Select{
		From:   "fact_aspects",
		Fields: []string{"fact_id"},
		Filter: queryir.And{Predicates: []queryir.Predicate{
			queryir.Equals{Field: "aspect", Value: queryir.String(key.String())},
			queryir.Equals{Field: "value", Value: queryir.String(value)},
		}},
		OrderBy: "fact_id",
	}
}

func missingQuery(key ir.AspectKey) queryir.Select {
	return queryir.Select{
		From:   "facts",
		Fields: []string{"id"},
		Filter: queryir.NotIn{Field: "id", Query: postingQuery(key)},
	}
}

func factQuery(id ir.FactID) queryir.Select {
	return queryir.Select{
		From:   "facts",
		Fields: factColumns,
		Filter: queryir.Equals{Field: "id", Value: queryir.Int(id)},
	}
}

func (ix *Index) All(ctx context.Context) (ir.FactSet, error) {
	return ix.ids(ctx, allFactsQuery())
}

func (ix *Index) Lookup(ctx context.Context, key ir.AspectKey, value string) (ir.FactSet, error) {
	return ix.ids(ctx, lookupQuery(key, value))
}

func (ix *Index) Missing(ctx context.Context, key ir.AspectKey) (ir.FactSet, error) {
	return ix.ids(ctx, missingQuery(key))
}

func (ix *Index) Fact(ctx context.Context, id ir.FactID) (*ir.Fact, error) {
	ix.mu.RLock()
	f, ok := ix.facts[id]
	ix.mu.RUnlock()
	if ok {
		return f, nil
	}

	sql, params, err := ix.compile(factQuery(id))
	if err != nil {
		return nil, err
	}
	rows, err := ix.store.Query(ctx, sql, params...)
	if err != nil {
		return nil, fmt.Errorf("query fact %d: %w", id, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query fact %d: %w", id, err)
		}
		return nil, fmt.Errorf("fact %d not found", id)
	}
	fact, err := scanFact(rows)
	if err != nil {
		return nil, err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if cached, ok := ix.facts[id]; ok {
		return cached, nil
	}
	ix.facts[id] = &fact
	return &fact, nil
}

func (ix *Index) compile(q queryir.Select) (string, []any, error) {
	if res := queryir.Validate(q); !res.Valid {
		return "", nil, fmt.Errorf("invalid index query: %s", strings.Join(res.Warnings, "; "))
	}
	sql, params, err := ix.compiler.Compile(q)
	if err != nil {
		return "", nil, fmt.Errorf("compile index query: %w", err)
	}
	return sql, params, nil
}

// ids runs a one-column query and collects the fact ids it returns.
func (ix *Index) ids(ctx context.Context, q queryir.Select) (ir.FactSet, error) {
	sql, params, err := ix.compile(q)
	if err != nil {
		return nil, err
	}
	rows, err := ix.store.Query(ctx, sql, params...)
	if err != nil {
		return nil, fmt.Errorf("index query: %w", err)
	}
	defer rows.Close()

	var ids []ir.FactID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan fact id: %w", err)
		}
		ids = append(ids, ir.FactID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fact ids: %w", err)
	}
	ix.logger.Debug("index query", "sql", sql, "facts", len(ids))
	return ir.NewFactSet(ids...), nil
}

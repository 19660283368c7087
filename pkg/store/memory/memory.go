// Package memory is an in-process Store used by tests and the CLI demo mode.
// It mirrors the Postgres store's matching semantics.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/David-Botos/lexicon-migrate/pkg/model"
	"github.com/David-Botos/lexicon-migrate/pkg/store"
)

// QueryFunc answers a raw query or procedure call
type QueryFunc func(s *Store) ([]model.Record, error)

// ExecFunc applies a raw statement
type ExecFunc func(s *Store) (store.Result, error)

type backup struct {
	table string
	rows  []model.Record
}

// Store keeps tables as slices of records guarded by one lock
type Store struct {
	mu         sync.RWMutex
	tables     map[string][]model.Record
	backups    map[string]backup
	procedures map[string]QueryFunc
	queries    map[string]QueryFunc
	execs      map[string]ExecFunc
	applyHook  func(model.Operation) error
	findHook   func(store.Filter) error
}

var _ store.Store = (*Store)(nil)

// New creates an empty memory store
func New() *Store {
	return &Store{
		tables:     make(map[string][]model.Record),
		backups:    make(map[string]backup),
		procedures: make(map[string]QueryFunc),
		queries:    make(map[string]QueryFunc),
		execs:      make(map[string]ExecFunc),
	}
}

// Insert adds rows to a table. Rows without an id get a generated one and
// []any array values are normalized to []string.
func (s *Store) Insert(table string, rows ...model.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		row := r.Clone()
		if row.ID() == "" {
			row["id"] = uuid.NewString()
		}
		for k, v := range row {
			if list, ok := v.([]any); ok {
				row[k] = toStrings(list)
			}
		}
		s.tables[table] = append(s.tables[table], row)
	}
}

// Rows returns a copy of every row in a table
func (s *Store) Rows(table string) []model.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRows(s.tables[table])
}

// Mutate replaces a table's rows with the result of fn
func (s *Store) Mutate(table string, fn func([]model.Record) []model.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = fn(cloneRows(s.tables[table]))
}

// HasBackup reports whether a backup table exists
func (s *Store) HasBackup(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.backups[name]
	return ok
}

// RegisterProcedure makes a procedure callable by name
func (s *Store) RegisterProcedure(name string, fn QueryFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procedures[name] = fn
}

// RegisterQuery answers QueryRaw for an exact query string
func (s *Store) RegisterQuery(query string, fn QueryFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[query] = fn
}

// RegisterExec handles raw operations for an exact query string
func (s *Store) RegisterExec(query string, fn ExecFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs[query] = fn
}

// OnApply installs a hook run before every operation; a non-nil error aborts
// the operation without mutating anything.
func (s *Store) OnApply(fn func(model.Operation) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyHook = fn
}

// OnFind installs a hook run before every Find and Count
func (s *Store) OnFind(fn func(store.Filter) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findHook = fn
}

// Find returns matching rows
func (s *Store) Find(ctx context.Context, f store.Filter) ([]model.Record, error) {
	rows, err := s.match(ctx, f)
	if err != nil {
		return nil, err
	}
	if f.Limit > 0 && len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	return rows, nil
}

// Count returns the number of matching rows
func (s *Store) Count(ctx context.Context, f store.Filter) (int, error) {
	rows, err := s.match(ctx, f)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *Store) match(ctx context.Context, f store.Filter) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	hook := s.findHook
	s.mu.RUnlock()
	if hook != nil {
		if err := hook(f); err != nil {
			return nil, err
		}
	}

	matchers := make([]func(model.Record) bool, 0, len(f.Conditions))
	for _, c := range f.Conditions {
		if c.Empty() {
			return []model.Record{}, nil
		}
		m, err := compile(c)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Record, 0)
rows:
	for _, r := range s.tables[f.Table] {
		for _, m := range matchers {
			if !m(r) {
				continue rows
			}
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

func compile(c store.Condition) (func(model.Record) bool, error) {
	switch c.Op {
	case store.OpArrayOverlaps:
		want := make(map[string]struct{}, len(c.Values))
		for _, v := range c.Values {
			want[fmt.Sprint(v)] = struct{}{}
		}
		return func(r model.Record) bool {
			for _, tag := range stringsOf(r[c.Column]) {
				if _, ok := want[tag]; ok {
					return true
				}
			}
			return false
		}, nil
	case store.OpJSONKeyMissing:
		return func(r model.Record) bool {
			m, ok := r[c.Column].(map[string]any)
			if !ok || m == nil {
				return true
			}
			v, present := m[c.Key]
			return !present || v == nil
		}, nil
	case store.OpEquals:
		want := fmt.Sprint(c.Values[0])
		return func(r model.Record) bool {
			v := r[c.Column]
			return v != nil && fmt.Sprint(v) == want
		}, nil
	case store.OpRegex:
		re, err := regexp.Compile(fmt.Sprint(c.Values[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid regular expression: %w", err)
		}
		return func(r model.Record) bool {
			v := r[c.Column]
			return v != nil && re.MatchString(textOf(v))
		}, nil
	default:
		return nil, fmt.Errorf("%w: filter op %q", store.ErrUnsupportedOperation, c.Op)
	}
}

// Apply runs one operation atomically
func (s *Store) Apply(ctx context.Context, op model.Operation) (store.Result, error) {
	if err := ctx.Err(); err != nil {
		return store.Result{}, err
	}

	s.mu.RLock()
	hook := s.applyHook
	exec := s.execs[op.Query]
	s.mu.RUnlock()
	if hook != nil {
		if err := hook(op); err != nil {
			return store.Result{}, err
		}
	}

	if op.Kind == model.OpRaw {
		if exec == nil {
			return store.Result{}, fmt.Errorf("%w: raw statement %q", store.ErrUnsupportedOperation, op.Query)
		}
		return exec(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch op.Kind {
	case model.OpArrayReplace:
		return s.update(op, true, func(r model.Record) bool {
			tags := stringsOf(r[op.Column])
			if !contains(tags, op.From) {
				return false
			}
			replaced := make([]string, len(tags))
			for i, tag := range tags {
				if tag == op.From {
					tag = op.To
				}
				replaced[i] = tag
			}
			r[op.Column] = replaced
			return true
		}), nil
	case model.OpJSONMerge:
		return s.update(op, false, func(r model.Record) bool {
			m, _ := r[op.Column].(map[string]any)
			if op.MissingKey != "" {
				if v, present := m[op.MissingKey]; present && v != nil {
					return false
				}
			} else if m == nil {
				return false
			}
			merged := make(map[string]any, len(m)+len(op.Patch))
			for k, v := range op.Patch {
				merged[k] = v
			}
			for k, v := range m {
				if _, patched := op.Patch[k]; patched && !op.KeepExisting {
					continue
				}
				merged[k] = v
			}
			r[op.Column] = merged
			return true
		}), nil
	case model.OpValueReplace:
		return s.update(op, true, func(r model.Record) bool {
			v := r[op.Column]
			if v == nil || fmt.Sprint(v) != op.From {
				return false
			}
			r[op.Column] = op.To
			return true
		}), nil
	case model.OpRestoreBackup:
		b, ok := s.backups[op.Backup]
		if !ok {
			return store.Result{}, fmt.Errorf("%w: %s", store.ErrBackupNotFound, op.Backup)
		}
		target := op.Table
		if target == "" {
			target = b.table
		}
		s.tables[target] = cloneRows(b.rows)
		return store.Result{RowsAffected: len(b.rows)}, nil
	case model.OpRestoreValues:
		return s.update(op, false, func(r model.Record) bool {
			v, ok := op.Values[r.ID()]
			if !ok {
				return false
			}
			r[op.Column] = restored(v)
			return true
		}), nil
	default:
		return store.Result{}, fmt.Errorf("%w: %q", store.ErrUnsupportedOperation, op.Kind)
	}
}

// update applies fn to every in-scope row; fn reports whether it changed the row.
// With capture the replaced column value of each changed row is kept.
func (s *Store) update(op model.Operation, capture bool, fn func(model.Record) bool) store.Result {
	var scope map[string]struct{}
	if len(op.RowIDs) > 0 {
		scope = make(map[string]struct{}, len(op.RowIDs))
		for _, id := range op.RowIDs {
			scope[id] = struct{}{}
		}
	}

	var res store.Result
	for _, r := range s.tables[op.Table] {
		if scope != nil {
			if _, ok := scope[r.ID()]; !ok {
				continue
			}
		}
		id, before := r.ID(), restored(r[op.Column])
		if !fn(r) {
			continue
		}
		res.RowsAffected++
		res.RowIDs = append(res.RowIDs, id)
		if capture {
			if res.Before == nil {
				res.Before = make(map[string]any)
			}
			res.Before[id] = before
		}
	}
	return res
}

// restored copies a column value, turning decoded JSON arrays back into []string
func restored(v any) any {
	switch val := v.(type) {
	case []string:
		return append([]string(nil), val...)
	case []any:
		return toStrings(val)
	default:
		return val
	}
}

// QueryRaw answers a registered query
func (s *Store) QueryRaw(ctx context.Context, query string) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	fn, ok := s.queries[query]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: query %q", store.ErrUnsupportedOperation, query)
	}
	return fn(s)
}

// CallProcedure calls a registered procedure
func (s *Store) CallProcedure(ctx context.Context, name string) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	fn, ok := s.procedures[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrProcedureUnavailable, name)
	}
	return fn(s)
}

// CreateBackup snapshots a table under a new name
func (s *Store) CreateBackup(ctx context.Context, table, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.backups[name]; exists {
		return fmt.Errorf("backup %s already exists", name)
	}
	s.backups[name] = backup{table: table, rows: cloneRows(s.tables[table])}
	return nil
}

// DropBackup removes a backup
func (s *Store) DropBackup(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.backups, name)
	return nil
}

func cloneRows(rows []model.Record) []model.Record {
	out := make([]model.Record, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

func stringsOf(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		return toStrings(val)
	default:
		return nil
	}
}

func toStrings(list []any) []string {
	out := make([]string, len(list))
	for i, item := range list {
		out[i] = fmt.Sprint(item)
	}
	return out
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}

// textOf renders a value the way Postgres casts it to text
func textOf(v any) string {
	switch val := v.(type) {
	case []string:
		return "{" + strings.Join(val, ",") + "}"
	case map[string]any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}

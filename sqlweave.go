// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlweave

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
)

var ErrNoRows = sql.ErrNoRows
var ErrTXDone = sql.ErrTxDone

// ErrCircularDependency is reported by [SortDependencies] when a relation
// transitively depends on itself. A graph with a cycle has no topological
// order and cannot be rendered with CTEs.
var ErrCircularDependency = errors.New("circular relation dependency")

// ErrMissingAlias is reported by [RenderNamed] when a dependency has no
// entry in the alias map. The alias map must be built from the full
// dependency closure of the relation being rendered.
var ErrMissingAlias = errors.New("no alias for relation")

// ErrNameCollision is reported when a placeholder name is bound by more
// than one source, for example by both a dependency and an extra value.
var ErrNameCollision = errors.New("placeholder name collision")

// stmtCache stores the driver prepared statements associated to the
// rendered Statement objects.
var stmtCache = newStatementCache()

// Statement is a fully rendered query ready to be run on a database. A
// statement can be used with any [DB].
type Statement struct {
	// cacheID is used to look up the driver prepared statements associated
	// with this statement.
	cacheID int64
	// sql is the rendered query text.
	sql string
}

// SQL returns the rendered query text of the statement.
func (s *Statement) SQL() string {
	return s.sql
}

// DB wraps a database handle that rendered statements are run on.
type DB struct {
	// cacheID is used to look up the cached driver prepared statements
	// prepared on this database.
	cacheID int64
	// sqldb is the underlying database/sql DB object.
	sqldb *sql.DB
}

// NewDB creates a new [DB] from a [sql.DB].
func NewDB(sqldb *sql.DB) *DB {
	if sqldb == nil {
		return nil
	}
	return stmtCache.newDB(sqldb)
}

// PlainDB returns the underlying database object.
func (db *DB) PlainDB() *sql.DB {
	return db.sqldb
}

// Query represents a query on a database. It is designed to be run once.
type Query struct {
	// run executes the Query against the DB or the TX. wantRows selects
	// between the driver's query and exec paths.
	run func(ctx context.Context, wantRows bool) (*sql.Rows, sql.Result, error)
	ctx context.Context
	err error
}

// Iterator is used to iterate over the results of the query.
type Iterator struct {
	rows    *sql.Rows
	err     error
	result  sql.Result
	started bool
}

// Query builds a new query from a context, a [Statement] and optional
// positional driver arguments. The composer only substitutes named {...}
// placeholders; ? parameters in the template pass through to the driver
// untouched. The query is run on the database when one of [Query.Iter],
// [Query.Run] or [Query.Get] is executed.
func (db *DB) Query(ctx context.Context, s *Statement, args ...any) *Query {
	if ctx == nil {
		ctx = context.Background()
	}

	run := func(innerCtx context.Context, wantRows bool) (rows *sql.Rows, result sql.Result, err error) {
		sqlstmt, err := stmtCache.prepareStmt(innerCtx, db, db.sqldb, s)
		if err != nil {
			return nil, nil, err
		}
		if wantRows {
			rows, err = sqlstmt.QueryContext(innerCtx, args...)
		} else {
			result, err = sqlstmt.ExecContext(innerCtx, args...)
		}
		return rows, result, err
	}

	return &Query{run: run, ctx: ctx, err: nil}
}

// Run executes the query and disregards any rows it returns.
func (q *Query) Run() error {
	return q.Get()
}

// Get runs the query and decodes the first row returned into the provided
// output arguments, which must be pointers as accepted by [sql.Rows.Scan].
// It returns [ErrNoRows] if output arguments were provided but no results
// were found.
//
// A pointer to an empty [Outcome] struct may be provided as the first output
// variable to fill it with information about query execution.
func (q *Query) Get(outputArgs ...any) error {
	if q.err != nil {
		return q.err
	}
	var outcome *Outcome
	if len(outputArgs) > 0 {
		if oc, ok := outputArgs[0].(*Outcome); ok {
			outcome = oc
			outputArgs = outputArgs[1:]
		}
	}
	if len(outputArgs) == 0 {
		// No rows wanted, run on the driver's exec path.
		_, result, err := q.run(q.ctx, false)
		if err != nil {
			return err
		}
		if outcome != nil {
			outcome.result = result
		}
		return nil
	}

	iter := q.Iter()
	var err error
	if outcome != nil {
		err = iter.Get(outcome)
	}
	if err == nil && !iter.Next() {
		err = iter.Close()
		if err == nil {
			err = ErrNoRows
		}
		return err
	}
	if err == nil {
		err = iter.Get(outputArgs...)
	}
	if cerr := iter.Close(); err == nil {
		err = cerr
	}
	return err
}

// Iter returns an [Iterator] to iterate through the results row by row.
// [Iterator.Close] must be run once iteration is finished.
func (q *Query) Iter() *Iterator {
	if q.err != nil {
		return &Iterator{err: q.err}
	}

	rows, result, err := q.run(q.ctx, true)
	if err != nil {
		return &Iterator{err: err}
	}
	return &Iterator{rows: rows, result: result}
}

// Next prepares the next row for [Iterator.Get]. If an error occurs during
// iteration it will be returned with [Iterator.Close].
func (iter *Iterator) Next() bool {
	iter.started = true
	if iter.err != nil || iter.rows == nil {
		return false
	}
	return iter.rows.Next()
}

// Get decodes the result from the previous [Iterator.Next] call into the
// provided output arguments, which are passed through to [sql.Rows.Scan].
//
// Before the first call of [Iterator.Next] a pointer to an empty [Outcome]
// struct may be passed to Get as the only argument to fill it with
// information about query execution.
func (iter *Iterator) Get(outputArgs ...any) (err error) {
	if iter.err != nil {
		return iter.err
	}
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot get result: %s", err)
		}
	}()

	if !iter.started {
		if len(outputArgs) == 1 {
			if oc, ok := outputArgs[0].(*Outcome); ok {
				oc.result = iter.result
				return nil
			}
		}
		return fmt.Errorf("cannot call Get before Next unless getting outcome")
	}

	if iter.rows == nil {
		return fmt.Errorf("iteration ended")
	}
	return iter.rows.Scan(outputArgs...)
}

// Close finishes the iteration and returns any errors encountered. Close can
// be called multiple times on the [Iterator] and the same error will be
// returned.
func (iter *Iterator) Close() error {
	iter.started = true
	if iter.rows == nil {
		return iter.err
	}
	err := iter.rows.Close()
	iter.rows = nil
	if iter.err != nil {
		return iter.err
	}
	return err
}

// Outcome holds metadata about executed queries, and can be provided as the
// first output argument to any of the Get methods to populate it with
// information about the query execution.
type Outcome struct {
	result sql.Result
}

// Result returns a [sql.Result] containing information about the query
// execution. If no result is set then Result returns nil.
func (o *Outcome) Result() sql.Result {
	return o.result
}

// GetAll iterates over the query and scans all rows into the provided
// slices. sliceArgs must contain pointers to slices of driver-scannable
// values, one per projected column. A pointer to an empty [Outcome] struct
// may be provided as the first argument.
//
// [ErrNoRows] will be returned if no rows are found.
func (q *Query) GetAll(sliceArgs ...any) (err error) {
	if q.err != nil {
		return q.err
	}
	if len(sliceArgs) > 0 {
		if outcome, ok := sliceArgs[0].(*Outcome); ok {
			outcome.result = nil
			sliceArgs = sliceArgs[1:]
		}
	}

	// Check slice inputs are valid using reflection.
	var slicePtrVals = []reflect.Value{}
	var sliceVals = []reflect.Value{}
	for _, ptr := range sliceArgs {
		ptrVal := reflect.ValueOf(ptr)
		if ptrVal.Kind() != reflect.Pointer {
			return fmt.Errorf("need pointer to slice, got %s", ptrVal.Kind())
		}
		if ptrVal.IsNil() {
			return fmt.Errorf("need pointer to slice, got nil")
		}
		slicePtrVals = append(slicePtrVals, ptrVal)
		sliceVal := ptrVal.Elem()
		if sliceVal.Kind() != reflect.Slice {
			return fmt.Errorf("need pointer to slice, got pointer to %s", sliceVal.Kind())
		}
		sliceVals = append(sliceVals, sliceVal)
	}

	// Iterate over the query results.
	rowsReturned := false
	iter := q.Iter()
	for iter.Next() {
		rowsReturned = true
		var outputArgs = []any{}
		for _, sliceVal := range sliceVals {
			outputArgs = append(outputArgs, reflect.New(sliceVal.Type().Elem()).Interface())
		}
		if err := iter.Get(outputArgs...); err != nil {
			iter.Close()
			return err
		}
		for i, outputArg := range outputArgs {
			sliceVals[i] = reflect.Append(sliceVals[i], reflect.ValueOf(outputArg).Elem())
		}
	}
	err = iter.Close()
	if err != nil {
		return err
	} else if !rowsReturned && len(sliceVals) > 0 {
		return ErrNoRows
	}

	for i, ptrVal := range slicePtrVals {
		ptrVal.Elem().Set(sliceVals[i])
	}
	return nil
}

// TX represents a transaction on the database.
type TX struct {
	sqltx *sql.Tx
	db    *DB
	done  int32
}

func (tx *TX) isDone() bool {
	return atomic.LoadInt32(&tx.done) == 1
}

func (tx *TX) setDone() error {
	if !atomic.CompareAndSwapInt32(&tx.done, 0, 1) {
		return ErrTXDone
	}
	return nil
}

// Begin starts a transaction. A transaction must be ended with a [TX.Commit]
// or [TX.Rollback].
func (db *DB) Begin(ctx context.Context, opts *TXOptions) (*TX, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sqltx, err := db.sqldb.BeginTx(ctx, opts.plainTXOptions())
	if err != nil {
		return nil, err
	}
	return &TX{sqltx: sqltx, db: db}, nil
}

// Commit commits the transaction.
func (tx *TX) Commit() error {
	err := tx.setDone()
	if err == nil {
		err = tx.sqltx.Commit()
	}
	return err
}

// Rollback aborts the transaction.
func (tx *TX) Rollback() error {
	err := tx.setDone()
	if err == nil {
		err = tx.sqltx.Rollback()
	}
	return err
}

// TXOptions holds the transaction options to be used in [DB.Begin].
type TXOptions struct {
	// Isolation is the transaction isolation level.
	// If zero, the driver or database's default level is used.
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

func (txopts *TXOptions) plainTXOptions() *sql.TxOptions {
	if txopts == nil {
		return nil
	}
	return &sql.TxOptions{Isolation: txopts.Isolation, ReadOnly: txopts.ReadOnly}
}

// Query builds a new query on the transaction from a context, a [Statement]
// and optional positional driver arguments. The query is run when one of
// [Query.Iter], [Query.Run] or [Query.Get] is executed.
func (tx *TX) Query(ctx context.Context, s *Statement, args ...any) *Query {
	if ctx == nil {
		ctx = context.Background()
	}
	if tx.isDone() {
		return &Query{ctx: ctx, err: ErrTXDone}
	}

	run := func(innerCtx context.Context, wantRows bool) (rows *sql.Rows, result sql.Result, err error) {
		sqlstmt, ok := stmtCache.lookupStmt(tx.db, s)
		if ok {
			// Register the prepared statement on the transaction. Note that
			// this does not re-prepare the statement on the driver. The
			// txstmt is closed by database/sql when the transaction is
			// committed or rolled back.
			txstmt := tx.sqltx.Stmt(sqlstmt)
			if wantRows {
				rows, err = txstmt.QueryContext(innerCtx, args...)
			} else {
				result, err = txstmt.ExecContext(innerCtx, args...)
			}
			return rows, result, err
		}

		if wantRows {
			rows, err = tx.sqltx.QueryContext(innerCtx, s.sql, args...)
		} else {
			result, err = tx.sqltx.ExecContext(innerCtx, s.sql, args...)
		}
		return rows, result, err
	}

	return &Query{run: run, ctx: ctx, err: nil}
}

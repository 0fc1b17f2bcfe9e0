// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"context"
	"sync"
)

// fakeDriver is an in-memory Driver double used to exercise router.go and
// query.go without a real database connection.
type fakeDriver struct {
	mu      sync.Mutex
	dialect Dialect
	name    string // distinguishes reader/writer instances in assertions.

	execCalls     []fakeCall
	executeResult Rows
	executeErr    error
	writeResult   fakeWriteResult
	writeErr      error
	connections   []*fakeConnHandle
	getConnErr    error
}

type fakeCall struct {
	on     string // "driver" or "conn"
	query  string
	params []interface{}
}

type fakeWriteResult struct {
	rowCount     int64
	lastInsertID int64
}

func newFakeDriver(name string, dialect Dialect) *fakeDriver {
	return &fakeDriver{name: name, dialect: dialect}
}

func (d *fakeDriver) Execute(ctx context.Context, query string, params []interface{}) (Rows, error) {
	d.mu.Lock()
	d.execCalls = append(d.execCalls, fakeCall{on: "driver:" + d.name, query: query, params: params})
	d.mu.Unlock()
	return d.executeResult, d.executeErr
}

func (d *fakeDriver) ExecuteWrite(ctx context.Context, query string, params []interface{}) (int64, int64, error) {
	d.mu.Lock()
	d.execCalls = append(d.execCalls, fakeCall{on: "driver:" + d.name, query: query, params: params})
	d.mu.Unlock()
	return d.writeResult.rowCount, d.writeResult.lastInsertID, d.writeErr
}

func (d *fakeDriver) GetConnection(ctx context.Context) (ConnHandle, error) {
	if d.getConnErr != nil {
		return nil, d.getConnErr
	}
	conn := &fakeConnHandle{owner: d}
	d.mu.Lock()
	d.connections = append(d.connections, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDriver) Close() error     { return nil }
func (d *fakeDriver) Dialect() Dialect { return d.dialect }

func (d *fakeDriver) calls() []fakeCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]fakeCall, len(d.execCalls))
	copy(out, d.execCalls)
	return out
}

// fakeConnHandle is the ConnHandle a fakeDriver.GetConnection hands back.
type fakeConnHandle struct {
	owner      *fakeDriver
	began      bool
	committed  bool
	rolledBack bool
	released   bool

	executeResult Rows
	executeErr    error
	writeResult   fakeWriteResult
	writeErr      error
}

func (c *fakeConnHandle) Execute(ctx context.Context, query string, params []interface{}) (Rows, error) {
	c.owner.mu.Lock()
	c.owner.execCalls = append(c.owner.execCalls, fakeCall{on: "conn", query: query, params: params})
	c.owner.mu.Unlock()
	return c.executeResult, c.executeErr
}

func (c *fakeConnHandle) ExecuteWrite(ctx context.Context, query string, params []interface{}) (int64, int64, error) {
	c.owner.mu.Lock()
	c.owner.execCalls = append(c.owner.execCalls, fakeCall{on: "conn", query: query, params: params})
	c.owner.mu.Unlock()
	return c.writeResult.rowCount, c.writeResult.lastInsertID, c.writeErr
}

func (c *fakeConnHandle) Begin(ctx context.Context) error {
	c.began = true
	return nil
}

func (c *fakeConnHandle) Commit() error {
	c.committed = true
	return nil
}

func (c *fakeConnHandle) Rollback() error {
	c.rolledBack = true
	return nil
}

func (c *fakeConnHandle) Release() {
	c.released = true
}

var (
	_ Driver     = (*fakeDriver)(nil)
	_ ConnHandle = (*fakeConnHandle)(nil)
)

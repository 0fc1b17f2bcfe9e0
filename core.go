// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"context"
	"fmt"
	"time"

	"github.com/gogf/gf/container/gtype"
	"github.com/gogf/gf/errors/gerror"
	"github.com/gogf/gf/os/gcache"
	"github.com/gogf/gf/os/glog"
	"github.com/gogf/gf/os/gtime"
)

// Core wraps a Driver with the logging, tracing, debug, and query-result
// caching concerns every statement passes through, keeping cross-cutting
// concerns out of the dialect builders and the driver adapters.
type Core struct {
	driver Driver
	group  string
	logger *glog.Logger
	cache  *gcache.Cache
	debug  *gtype.Bool
}

// NewCore builds a Core over a driver for the named config group.
func NewCore(group string, driver Driver) *Core {
	return &Core{
		driver: driver,
		group:  group,
		logger: glog.New(),
		cache:  gcache.New(),
		debug:  gtype.NewBool(),
	}
}

// SetDebug enables/disables statement logging, backed by gtype.Bool for
// lock-free reads.
func (c *Core) SetDebug(enabled bool) { c.debug.Set(enabled) }
func (c *Core) GetDebug() bool        { return c.debug.Val() }

// SetLogger swaps the glog.Logger instance used for statement logging.
func (c *Core) SetLogger(logger *glog.Logger) { c.logger = logger }
func (c *Core) GetLogger() *glog.Logger       { return c.logger }

// Cache returns the query-result cache consulted by find()'s optional
// cache knobs.
func (c *Core) Cache() *gcache.Cache { return c.cache }

// Query runs a read statement through the driver, timing, tracing, and
// logging it.
func (c *Core) Query(ctx context.Context, query string, args []interface{}) (Rows, error) {
	start := gtime.Now().Time
	rows, err := c.driver.Execute(ctx, query, args)
	end := gtime.Now().Time
	c.trace(ctx, query, args, err, start, end)
	if err != nil {
		return nil, c.wrapError(err, query, args)
	}
	return rows, nil
}

// Exec runs a write statement through the driver, same timing/logging
// treatment as Query.
func (c *Core) Exec(ctx context.Context, query string, args []interface{}) (rowCount, lastInsertID int64, err error) {
	start := gtime.Now().Time
	rowCount, lastInsertID, err = c.driver.ExecuteWrite(ctx, query, args)
	end := gtime.Now().Time
	c.trace(ctx, query, args, err, start, end)
	if err != nil {
		return 0, 0, c.wrapError(err, query, args)
	}
	return rowCount, lastInsertID, nil
}

// writeUnsafeDriver is implemented by a Core's driver when it exposes an
// ungated write path for the raw execute() DDL escape hatch;
// *Router is the only production implementation.
type writeUnsafeDriver interface {
	ExecuteWriteUnsafe(ctx context.Context, query string, params []interface{}) (int64, int64, error)
}

// ExecRaw runs a write statement bypassing the router's transaction-mode
// gate, for DDL and other statements the caller explicitly wants exempt from
// write-context guards. Falls back to the gated Exec if the underlying
// driver doesn't support the unsafe path (e.g. a bare driver under test).
func (c *Core) ExecRaw(ctx context.Context, query string, args []interface{}) (rowCount, lastInsertID int64, err error) {
	start := gtime.Now().Time
	if unsafe, ok := c.driver.(writeUnsafeDriver); ok {
		rowCount, lastInsertID, err = unsafe.ExecuteWriteUnsafe(ctx, query, args)
	} else {
		rowCount, lastInsertID, err = c.driver.ExecuteWrite(ctx, query, args)
	}
	end := gtime.Now().Time
	c.trace(ctx, query, args, err, start, end)
	if err != nil {
		return 0, 0, c.wrapError(err, query, args)
	}
	return rowCount, lastInsertID, nil
}

func (c *Core) trace(ctx context.Context, query string, args []interface{}, err error, start, end time.Time) {
	s := &Sql{Text: query, Args: args, Error: err, Start: start, End: end, Database: c.group}
	addSqlToTracing(ctx, c.group, s)
	if c.GetDebug() {
		c.writeSqlToLogger(ctx, s)
	}
}

// writeSqlToLogger logs one statement line at Debug or Error level through
// glog's Ctx(ctx) chain.
func (c *Core) writeSqlToLogger(ctx context.Context, s *Sql) {
	elapsed := s.End.Sub(s.Start)
	line := fmt.Sprintf("[%v] [%s] %s", elapsed, s.Database, formatSqlWithArgs(s.Text, s.Args))
	if s.Error != nil {
		c.logger.Ctx(ctx).Error(line + "\nerror: " + s.Error.Error())
	} else {
		c.logger.Ctx(ctx).Debug(line)
	}
}

func (c *Core) wrapError(err error, query string, args []interface{}) error {
	return gerror.Wrapf(err, "relo: statement failed: %s %v", query, args)
}

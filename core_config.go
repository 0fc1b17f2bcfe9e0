// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"fmt"
	"time"
)

// DefaultGroupName is the config group name used when a base is assembled
// without an explicit group.
const DefaultGroupName = "default"

// ConfigNode describes one physical connection endpoint, grouped by Role
// into reader/writer pools.
type ConfigNode struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Pass     string `json:"pass"`
	Name     string `json:"name"`
	Type     string `json:"type"` // "postgres", "mysql", "sqlite".
	Role     string `json:"role"` // "writer" (default) or "reader".
	Weight   int    `json:"weight"`
	Charset  string `json:"charset"`
	LinkInfo string `json:"link"`

	MaxIdleConnCount int           `json:"maxIdle"`
	MaxOpenConnCount int           `json:"maxOpen"`
	MaxConnLifetime  time.Duration `json:"maxLifetime"`
	QueryTimeout     time.Duration `json:"queryTimeout"`
	ExecTimeout      time.Duration `json:"execTimeout"`
	TranTimeout      time.Duration `json:"tranTimeout"`
}

func (n ConfigNode) String() string {
	return fmt.Sprintf("%s@%s:%s,%s,%s,%s,weight=%d", n.User, n.Host, n.Port, n.Name, n.Type, n.Role, n.Weight)
}

// ConfigGroup is the set of nodes backing one logical database.
type ConfigGroup []ConfigNode

// Config maps group name to its node set.
type Config map[string]ConfigGroup

// RouterConfig carries the connection-router knobs: how long a
// transaction's writer stickiness survives the transaction itself, and the
// hard-limit safety ceilings.
type RouterConfig struct {
	// WriterStickyDuration is how long reads route to the writer pool after
	// a transaction commits (only when UseWriterAfterTransaction is true).
	WriterStickyDuration time.Duration
	// UseWriterAfterTransaction, when true, keeps routing reads to the
	// writer for WriterStickyDuration after a transaction commits, so a
	// caller's immediate read-your-write sees its own commit even against a
	// lagging replica.
	UseWriterAfterTransaction bool
	// FindHardLimit bounds find()'s returned row count; exceeding it raises
	// LimitExceededError instead of silently truncating.
	FindHardLimit int
	// HasManyHardLimit bounds the total row count of one relation batch
	// fetch, across all parents in the batch.
	HasManyHardLimit int
	// DeadlockRetries is how many times a transaction retries after the
	// DeadlockClassifier reports a retryable error.
	DeadlockRetries int
}

// DefaultRouterConfig returns the configuration a base is assembled with
// unless the caller overrides it.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		WriterStickyDuration:      5 * time.Second,
		UseWriterAfterTransaction: true,
		FindHardLimit:             1000,
		HasManyHardLimit:          1000,
		DeadlockRetries:           3,
	}
}

// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"sync"

	"github.com/gogf/gf/errors/gerror"
)

// instances holds every assembled Base keyed by group name, so repeated
// calls for the same group return the same Base rather than re-dialing
// connections.
var instances = make(map[string]*Base)

// DriverFactory constructs a dialect-specific Driver for one ConfigNode,
// supplied by the drivers/{postgres,mysql,sqlite} subpackages so this
// package never imports a concrete database/sql driver itself.
type DriverFactory func(node ConfigNode) (Driver, error)

// driverRegistry maps a ConfigNode.Type string ("postgres"/"mysql"/"sqlite")
// to the factory that dials it. drivers/{postgres,mysql,sqlite} call
// RegisterDriver from an init() so importing one for its side effect is
// enough to make New recognize that dialect.
var (
	driverRegistryMu sync.RWMutex
	driverRegistry   = make(map[Dialect]DriverFactory)

	globalConfigMu sync.RWMutex
	globalConfig   Config
)

// RegisterDriver registers factory as the DriverFactory for dialect. Called
// by each drivers/{postgres,mysql,sqlite} package's init().
func RegisterDriver(dialect Dialect, factory DriverFactory) {
	driverRegistryMu.Lock()
	defer driverRegistryMu.Unlock()
	driverRegistry[dialect] = factory
}

func lookupDriver(dialect Dialect) (DriverFactory, error) {
	driverRegistryMu.RLock()
	defer driverRegistryMu.RUnlock()
	f, ok := driverRegistry[dialect]
	if !ok {
		return nil, gerror.Newf("relo: no driver registered for dialect %q; import its drivers/ package for its side effect", dialect)
	}
	return f, nil
}

// SetConfig installs the process-wide Config that New/Instance resolve
// groups against.
func SetConfig(cfg Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// New assembles (or returns the already-assembled) Base for group, resolving
// its nodes from the process-wide Config installed via SetConfig and its
// driver from the node's Type via RegisterDriver.
func New(group string, opts BaseOptions) (*Base, error) {
	if group == "" {
		group = DefaultGroupName
	}
	if existing := Instance(group); existing != nil {
		return existing, nil
	}
	globalConfigMu.RLock()
	nodes, ok := globalConfig[group]
	globalConfigMu.RUnlock()
	if !ok {
		return nil, gerror.Newf("relo: config group %q is not registered; call SetConfig first", group)
	}
	if len(nodes) == 0 {
		return nil, gerror.Newf("relo: config group %q has no nodes", group)
	}
	dialect := Dialect(nodes[0].Type)
	factory, err := lookupDriver(dialect)
	if err != nil {
		return nil, err
	}
	return createDBBase(group, nodes, factory, opts)
}

// BaseOptions configures createDBBase.
type BaseOptions struct {
	Group      string         // defaults to the group argument.
	Registry   *ModelRegistry // defaults to DefaultRegistry().
	Router     RouterConfig   // defaults to DefaultRouterConfig().
	Classifier DeadlockClassifier
	Middleware *MiddlewarePipeline // defaults to a fresh, empty pipeline.
}

// NewWithDriver assembles a Base directly from an explicit factory, bypassing
// the RegisterDriver/SetConfig registry New uses, so a driver can be wired
// in without registering it globally.
func NewWithDriver(group string, nodes ConfigGroup, factory DriverFactory, opts BaseOptions) (*Base, error) {
	return createDBBase(group, nodes, factory, opts)
}

// createDBBase assembles one logical database from a ConfigGroup: it splits
// nodes by Role into reader/writer pools via factory, builds the
// dialect-appropriate SqlBuilder, and wires the router, core, and middleware
// pipeline around them.
func createDBBase(group string, nodes ConfigGroup, factory DriverFactory, opts BaseOptions) (*Base, error) {
	if len(nodes) == 0 {
		return nil, gerror.Newf("relo: config group %q has no nodes", group)
	}
	if opts.Group == "" {
		opts.Group = group
	}
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}
	if (opts.Router == RouterConfig{}) {
		opts.Router = DefaultRouterConfig()
	}
	if opts.Middleware == nil {
		opts.Middleware = NewMiddlewarePipeline()
	}

	var writerNode *ConfigNode
	var readerNode *ConfigNode
	for i := range nodes {
		n := nodes[i]
		if n.Role == "reader" {
			if readerNode == nil {
				readerNode = &n
			}
			continue
		}
		if writerNode == nil {
			writerNode = &n
		}
	}
	if writerNode == nil {
		return nil, gerror.Newf("relo: config group %q has no writer node", group)
	}

	writerDriver, err := factory(*writerNode)
	if err != nil {
		return nil, gerror.Wrapf(err, "relo: dial writer for group %q", group)
	}
	var readerDriver Driver
	if readerNode != nil {
		readerDriver, err = factory(*readerNode)
		if err != nil {
			return nil, gerror.Wrapf(err, "relo: dial reader for group %q", group)
		}
	}

	builder, err := builderForDialect(writerDriver.Dialect())
	if err != nil {
		return nil, err
	}

	router := NewRouter(readerDriver, writerDriver, opts.Router)
	core := NewCore(opts.Group, router)

	base := &Base{
		group:      opts.Group,
		registry:   opts.Registry,
		router:     router,
		core:       core,
		builder:    builder,
		middleware: opts.Middleware,
		cfg:        opts.Router,
		classifier: opts.Classifier,
	}
	instances[opts.Group] = base
	return base, nil
}

// Instance returns the previously assembled Base for group, or nil if none
// was assembled.
func Instance(group string) *Base {
	return instances[group]
}

func builderForDialect(d Dialect) (SqlBuilder, error) {
	switch d {
	case DialectPostgres:
		return &PostgresBuilder{}, nil
	case DialectMySQL:
		return &MysqlBuilder{}, nil
	case DialectSQLite:
		return &SqliteBuilder{}, nil
	default:
		return nil, gerror.Newf("relo: unsupported dialect %q", d)
	}
}

// Package bundler keeps one long-lived engine session per build identity and
// hands it out to every client and HTTP request asking for that identity.
package bundler

import (
	"context"
	"sort"
	"sync"

	"github.com/conneroisu/hotswap/internal/engine"
	"github.com/conneroisu/hotswap/internal/errors"
	"github.com/conneroisu/hotswap/internal/identity"
	"github.com/conneroisu/hotswap/internal/logging"
	"github.com/conneroisu/hotswap/internal/reporting"
)

// Pool maps bundleName-fingerprint to an Instance. Entries live for the
// lifetime of the pool.
type Pool struct {
	engine   engine.Engine
	logger   logging.Logger
	reporter reporting.Reporter

	mutex     sync.Mutex
	instances map[string]*Instance
	closed    bool
}

// NewPool creates an empty pool backed by eng.
func NewPool(eng engine.Engine, logger logging.Logger, reporter reporting.Reporter) *Pool {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pool{
		engine:    eng,
		logger:    logger.WithComponent("bundler-pool"),
		reporter:  reporting.Safe(reporter),
		instances: make(map[string]*Instance),
	}
}

// Get returns the instance for bundleName under opts, creating it on first
// use. The new instance is registered before its initialization starts, so
// concurrent callers always share one instance. Get does not wait for
// initialization; use Instance.WaitReady or Instance.Bundle for that.
func (p *Pool) Get(ctx context.Context, bundleName string, opts identity.Options) (*Instance, error) {
	if err := identity.ValidateBundleName(bundleName); err != nil {
		return nil, err
	}
	if err := identity.ValidatePlatform(opts.Target.Platform); err != nil {
		return nil, err
	}

	fingerprint := opts.Fingerprint()
	key := bundleName + "-" + fingerprint

	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return nil, errors.NewInternalError(errors.ErrCodeBundleUnavailable, "bundler pool is closed", nil)
	}
	if inst, ok := p.instances[key]; ok {
		p.mutex.Unlock()
		return inst, nil
	}

	inst := newInstance(key, bundleName, fingerprint, opts, p.engine, p.logger, p.reporter)
	p.instances[key] = inst
	p.mutex.Unlock()

	p.logger.Info(ctx, "Created bundler instance",
		"bundle", bundleName,
		"platform", opts.Target.Platform,
		"dev", opts.Target.Dev,
		"fingerprint", fingerprint)

	// Initialization outlives the request that triggered it.
	go inst.initialize(context.WithoutCancel(ctx))

	return inst, nil
}

// Lookup returns an existing instance without creating one.
func (p *Pool) Lookup(key string) (*Instance, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	inst, ok := p.instances[key]
	return inst, ok
}

// Instances returns every instance ordered by key.
func (p *Pool) Instances() []*Instance {
	p.mutex.Lock()
	out := make([]*Instance, 0, len(p.instances))
	for _, inst := range p.instances {
		out = append(out, inst)
	}
	p.mutex.Unlock()

	sort.Slice(out, func(a, b int) bool { return out[a].key < out[b].key })
	return out
}

// Len returns the number of instances.
func (p *Pool) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.instances)
}

// Close waits for in-flight initializations and closes every session.
func (p *Pool) Close(ctx context.Context) error {
	p.mutex.Lock()
	p.closed = true
	p.mutex.Unlock()

	var firstErr error
	for _, inst := range p.Instances() {
		if err := inst.WaitReady(ctx); err != nil {
			return err
		}
		if err := inst.close(); err != nil {
			p.logger.Warn(ctx, err, "Failed to close engine session", "key", inst.key)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/logging"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/types"
)

// =============================================================================
// AGENT REGISTRY
// =============================================================================

// Provider supplies one injectable dependency instance on demand. A
// provider that errors is skipped, never fatal: the capability runs with
// that dependency absent.
type Provider func() (interface{}, error)

// Instance is a loaded, callable capability. Loading is memoized, so
// repeated lookups of the same name return the identical instance until
// Unload or Reload evicts it.
type Instance struct {
	desc      *Descriptor
	execute   CapabilityFunc
	bootstrap CapabilityFunc
	extras    map[string]CapabilityFunc
	deps      map[string]interface{}

	// compileErr marks a failure stub: the descriptor's source did not
	// compile and every call reports that instead of running.
	compileErr error

	bootMu       sync.Mutex
	bootstrapped bool
	loadedAt     time.Time
}

// Descriptor returns the descriptor this instance was loaded from.
func (in *Instance) Descriptor() *Descriptor { return in.desc }

// Registry resolves, loads, and invokes capabilities. Resolution checks
// in-process registrations first, then the persistent catalog.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*Descriptor
	instances   map[string]*Instance

	catalog  *Catalog
	compiler *scriptedCompiler

	builtins  map[string]Provider
	providers map[string]Provider

	globalConfig map[string]interface{}
	timeout      time.Duration
}

// Options configures a Registry.
type Options struct {
	// Catalog persists descriptors across restarts. Nil means memory-only.
	Catalog *Catalog
	// GlobalConfig is merged under each descriptor's own config and
	// handed to bootstrap.
	GlobalConfig map[string]interface{}
	// Timeout bounds a single capability call. Zero means 30s.
	Timeout time.Duration
}

// NewRegistry creates a registry with the built-in dependency providers
// installed. External providers are added with RegisterProvider.
func NewRegistry(opts Options) *Registry {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	r := &Registry{
		descriptors:  make(map[string]*Descriptor),
		instances:    make(map[string]*Instance),
		catalog:      opts.Catalog,
		compiler:     newScriptedCompiler(),
		builtins:     make(map[string]Provider),
		providers:    make(map[string]Provider),
		globalConfig: opts.GlobalConfig,
		timeout:      opts.Timeout,
	}
	r.installBuiltins()
	return r
}

// RegisterProvider installs a named dependency provider. Capabilities
// listing name in their dependencies receive whatever the provider
// returns, keyed by name, in the call context.
func (r *Registry) RegisterProvider(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Register adds or replaces a descriptor and persists it when a catalog
// is attached. Any cached instance for the name is evicted so the next
// load picks up the new definition.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil || d.Name == "" {
		return fmt.Errorf("descriptor must have a name")
	}
	if d.Shape() == ShapeScripted && d.Source == "" {
		return fmt.Errorf("scripted agent %s has no source", d.Name)
	}

	r.mu.Lock()
	r.descriptors[d.Name] = d
	delete(r.instances, d.Name)
	r.mu.Unlock()

	if d.Shape() == ShapeScripted {
		if err := r.catalog.Upsert(d); err != nil {
			return err
		}
	}
	logging.Agents("registered agent %s (%s)", d.Name, d.Shape())
	return nil
}

// Load resolves name to a ready instance, compiling scripted source on
// first use. The result is cached: two loads of the same name return the
// same *Instance.
func (r *Registry) Load(name string) (*Instance, error) {
	r.mu.RLock()
	if inst, ok := r.instances[name]; ok {
		r.mu.RUnlock()
		return inst, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check under the write lock; another goroutine may have loaded
	// it between the two lock acquisitions.
	if inst, ok := r.instances[name]; ok {
		return inst, nil
	}

	desc, err := r.resolveLocked(name)
	if err != nil {
		return nil, err
	}

	inst := r.buildInstance(desc)
	r.instances[name] = inst
	return inst, nil
}

// Unload evicts the cached instance so the next load rebuilds it. The
// bootstrap state dies with the instance.
func (r *Registry) Unload(name string) {
	r.mu.Lock()
	delete(r.instances, name)
	r.mu.Unlock()
	logging.AgentsDebug("unloaded agent %s", name)
}

// Reload evicts and immediately rebuilds the instance, re-reading the
// catalog row for scripted capabilities.
func (r *Registry) Reload(name string) (*Instance, error) {
	r.Unload(name)
	return r.Load(name)
}

// List returns every known descriptor name: in-process registrations
// merged with catalog rows.
func (r *Registry) List() ([]*Descriptor, error) {
	seen := make(map[string]bool)
	var out []*Descriptor

	r.mu.RLock()
	for _, d := range r.descriptors {
		seen[d.Name] = true
		out = append(out, d)
	}
	r.mu.RUnlock()

	persisted, err := r.catalog.List()
	if err != nil {
		return out, err
	}
	for _, d := range persisted {
		if !seen[d.Name] {
			out = append(out, d)
		}
	}
	return out, nil
}

// Invoke loads the capability, runs its one-time bootstrap if it has not
// run yet, and executes it. The result is always a populated envelope:
// resolution failures, compile failures, bootstrap failures, and
// execution errors all surface as Success=false with the error message,
// never as a panic or a bare error.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]interface{}, callCtx map[string]interface{}) *types.InvocationResult {
	action := "execute"
	if params != nil {
		if a, ok := params["action"].(string); ok && a != "" {
			action = a
		}
	}
	res := &types.InvocationResult{
		Agent:     name,
		Action:    action,
		Timestamp: time.Now().UTC(),
	}

	inst, err := r.Load(name)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if inst.compileErr != nil {
		res.Error = compileFailureMessage
		return res
	}

	merged := r.mergeCallContext(inst, callCtx)
	merged["ctx"] = ctx

	if err := r.ensureBootstrapped(ctx, inst, merged); err != nil {
		res.Error = fmt.Sprintf("bootstrap failed: %v", err)
		return res
	}

	out, err := r.callWithTimeout(ctx, inst.execute, params, merged)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Result = out
	return res
}

// InvokeFunction calls an auxiliary named function on a loaded
// capability, with the same envelope semantics as Invoke.
func (r *Registry) InvokeFunction(ctx context.Context, name, fn string, params map[string]interface{}, callCtx map[string]interface{}) *types.InvocationResult {
	res := &types.InvocationResult{
		Agent:     name,
		Action:    fn,
		Timestamp: time.Now().UTC(),
	}

	inst, err := r.Load(name)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if inst.compileErr != nil {
		res.Error = compileFailureMessage
		return res
	}
	f, ok := inst.extras[fn]
	if !ok {
		res.Error = fmt.Sprintf("agent %s has no function %s", name, fn)
		return res
	}

	merged := r.mergeCallContext(inst, callCtx)
	merged["ctx"] = ctx
	if err := r.ensureBootstrapped(ctx, inst, merged); err != nil {
		res.Error = fmt.Sprintf("bootstrap failed: %v", err)
		return res
	}

	out, err := r.callWithTimeout(ctx, f, params, merged)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Result = out
	return res
}

// Close releases the catalog handle.
func (r *Registry) Close() error {
	return r.catalog.Close()
}

// resolveLocked finds a descriptor by name. Caller holds the write lock.
func (r *Registry) resolveLocked(name string) (*Descriptor, error) {
	if d, ok := r.descriptors[name]; ok {
		return d, nil
	}
	d, err := r.catalog.Get(name)
	if err == nil {
		return d, nil
	}
	if err == ErrNoCatalog || err == ErrNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil, err
}

// buildInstance compiles or binds the descriptor. Compile failures
// produce a stub instead of an error so the registry stays consistent
// and the failure reports through the invocation envelope.
func (r *Registry) buildInstance(desc *Descriptor) *Instance {
	inst := &Instance{desc: desc, loadedAt: time.Now()}

	switch desc.Shape() {
	case ShapeNative:
		inst.execute = desc.Native.Execute
		inst.bootstrap = desc.Native.Bootstrap
		inst.extras = desc.Native.Extras
	case ShapeScripted:
		execute, bootstrap, extras, err := r.compiler.compile(desc)
		if err != nil {
			logging.Get(logging.CategoryAgents).Warnw("agent source failed to compile",
				"agent", desc.Name, "error", err)
			inst.compileErr = err
			return inst
		}
		inst.execute = execute
		inst.bootstrap = bootstrap
		inst.extras = extras
	}

	inst.deps = r.resolveDependencies(desc)
	return inst
}

// resolveDependencies builds the injection map for a descriptor. Each
// listed dependency is looked up among built-ins first, then registered
// providers; anything unresolvable is skipped with a warning.
func (r *Registry) resolveDependencies(desc *Descriptor) map[string]interface{} {
	if len(desc.Dependencies) == 0 {
		return nil
	}
	deps := make(map[string]interface{}, len(desc.Dependencies))
	for _, name := range desc.Dependencies {
		p, ok := r.builtins[name]
		if !ok {
			p, ok = r.providers[name]
		}
		if !ok {
			logging.Get(logging.CategoryAgents).Warnw("no provider for dependency, skipping",
				"agent", desc.Name, "dependency", name)
			continue
		}
		v, err := p()
		if err != nil {
			logging.Get(logging.CategoryAgents).Warnw("dependency provider failed, skipping",
				"agent", desc.Name, "dependency", name, "error", err)
			continue
		}
		deps[name] = v
	}
	return deps
}

// mergeCallContext copies the caller's context and layers in the
// injected dependencies and per-agent config without mutating the
// caller's map.
func (r *Registry) mergeCallContext(inst *Instance, callCtx map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(callCtx)+3)
	for k, v := range callCtx {
		merged[k] = v
	}
	if len(inst.deps) > 0 {
		merged["deps"] = inst.deps
	}
	if len(inst.desc.Config) > 0 {
		merged["config"] = inst.desc.Config
	}
	if len(inst.desc.Secrets) > 0 {
		merged["secrets"] = inst.desc.Secrets
	}
	return merged
}

// ensureBootstrapped runs the capability's bootstrap exactly once per
// loaded instance. Concurrent invocations of the same agent serialize
// here; a failed bootstrap is retried on the next invocation.
func (r *Registry) ensureBootstrapped(ctx context.Context, inst *Instance, callCtx map[string]interface{}) error {
	if inst.bootstrap == nil {
		return nil
	}
	inst.bootMu.Lock()
	defer inst.bootMu.Unlock()
	if inst.bootstrapped {
		return nil
	}

	cfg := make(map[string]interface{}, len(r.globalConfig)+len(inst.desc.Config))
	for k, v := range r.globalConfig {
		cfg[k] = v
	}
	for k, v := range inst.desc.Config {
		cfg[k] = v
	}

	if _, err := r.callWithTimeout(ctx, inst.bootstrap, cfg, callCtx); err != nil {
		return err
	}
	inst.bootstrapped = true
	logging.AgentsDebug("bootstrapped agent %s", inst.desc.Name)
	return nil
}

// callWithTimeout runs fn under the registry timeout. Interpreted code
// cannot be preempted, so the call runs in its own goroutine and the
// caller stops waiting on expiry.
func (r *Registry) callWithTimeout(ctx context.Context, fn CapabilityFunc, params, callCtx map[string]interface{}) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- outcome{err: fmt.Errorf("capability panicked: %v", rec)}
			}
		}()
		v, err := fn(params, callCtx)
		ch <- outcome{value: v, err: err}
	}()

	select {
	case out := <-ch:
		return out.value, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("capability call timed out: %w", ctx.Err())
	}
}

// Package compiler turns game-object source into cached modules.
//
// Source is interpreted with yaegi. Each compile scans the source for its
// imports and //mud:require directives, loads required modules through the
// cache (compiling them on a miss), evaluates the source and builds sealed
// types from the definitions its Types function returns. A successful
// compile swaps the cached module atomically; a failed one leaves the cache
// untouched.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/traefik/yaegi/interp"

	"mudcore/internal/logging"
	"mudcore/internal/module"
	"mudcore/internal/object"
	"mudcore/internal/storage"
	"mudcore/pkg/api"
)

// Compiles slower than this are logged as warnings.
const slowCompile = 2 * time.Second

// Config configures a Compiler.
type Config struct {
	Source Source
	// AllowedImports lists the packages source may import besides the api
	// package. Nil selects DefaultAllowedImports.
	AllowedImports []string
	// Timeout bounds one Compile call including its dependency loads and
	// recursive recompiles. Zero disables the bound.
	Timeout time.Duration
}

// Options describe one compile request.
type Options struct {
	// Path may be relative to From and may use aliases.
	Path string
	From string
	// Args are the constructor properties of the instance a default compile
	// creates.
	Args  map[string]any
	Flags module.Flags
	// Reload migrates the live instances of the previous module onto the
	// new one.
	Reload bool
}

// Result describes a finished compile.
type Result struct {
	// Module is the module now cached for the requested path.
	Module *module.Module
	// Replaced is the module that was swapped out, if any.
	Replaced *module.Module
	// Object is the instance created by a default compile.
	Object *object.Object
	// Migrated lists the instances moved onto new types.
	Migrated []storage.ID
	// Migration lists the instances that could not be moved.
	Migration []*MigrationError
	// Batch has one entry per compiled path, the target first.
	Batch []BatchEntry
}

// Err joins every failure recorded in the result.
func (r *Result) Err() error {
	var errs []error
	for _, b := range r.Batch {
		if b.Err != nil {
			errs = append(errs, b.Err)
		}
	}
	for _, m := range r.Migration {
		errs = append(errs, m)
	}
	return errors.Join(errs...)
}

// Failed lists the batch entries that did not compile.
func (r *Result) Failed() []BatchEntry {
	var out []BatchEntry
	for _, b := range r.Batch {
		if b.Err != nil {
			out = append(out, b)
		}
	}
	return out
}

// Compiler compiles game-object source into the module cache.
type Compiler struct {
	source  Source
	allowed whitelist
	symbols interp.Exports
	timeout time.Duration

	cache   *module.Cache
	objects *object.Table
	locks   *pathLocks
}

// New creates a compiler and installs it as the loader of cache.
func New(cfg Config, cache *module.Cache, objects *object.Table) *Compiler {
	allowed := cfg.AllowedImports
	if allowed == nil {
		allowed = DefaultAllowedImports
	}
	w := newWhitelist(allowed)
	c := &Compiler{
		source:  cfg.Source,
		allowed: w,
		symbols: w.exports(),
		timeout: cfg.Timeout,
		cache:   cache,
		objects: objects,
		locks:   newPathLocks(),
	}
	cache.SetLoader(c.load)
	return c
}

func (c *Compiler) Cache() *module.Cache   { return c.cache }
func (c *Compiler) Objects() *object.Table { return c.objects }

// load is the cache loader used for required modules: compile only.
func (c *Compiler) load(ctx context.Context, path string) (*module.Module, error) {
	out, err := c.compileOne(ctx, path, compileOpts{flags: module.CompileOnly, ifMissing: true})
	if err != nil {
		return nil, err
	}
	return out.module, nil
}

// Compile compiles the requested path. The returned error is the failure of
// the target path itself; failures of recursively recompiled dependents are
// reported in Result.Batch and the compile rolls forward past them.
func (c *Compiler) Compile(ctx context.Context, opts Options) (*Result, error) {
	p, err := c.cache.Canonical(opts.Path, opts.From)
	if err != nil {
		return nil, compileErr(opts.Path, err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	timer := logging.StartTimer(logging.CategoryCompiler, "compile "+p)
	defer timer.StopWithThreshold(slowCompile)

	res := &Result{}
	if opts.Flags.Has(module.OnlyCompileDependents) {
		m, err := c.cache.Get(p)
		if err != nil {
			return res, err
		}
		res.Module = m
	} else {
		out, err := c.compileOne(ctx, p, compileOpts{flags: opts.Flags, reload: opts.Reload, args: opts.Args})
		err = timeoutErr(err)
		res.Batch = append(res.Batch, BatchEntry{Path: p, Err: err})
		if err != nil {
			logging.CompilerWarn("compile %s failed: %v", p, err)
			return res, err
		}
		res.Module = out.module
		res.Replaced = out.replaced
		res.Object = out.object
		res.Migrated = out.migrated
		res.Migration = out.migration
	}

	if opts.Flags&(module.Recursive|module.OnlyCompileDependents) != 0 {
		c.compileDependents(ctx, p, opts.Flags, res)
	}
	logging.Compiler("compiled %s (flags %s, %d paths, %d migrated, %d failures)",
		p, opts.Flags, len(res.Batch), len(res.Migrated), len(res.Failed())+len(res.Migration))
	return res, nil
}

func timeoutErr(err error) error {
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

type compileOpts struct {
	flags  module.Flags
	reload bool
	args   map[string]any
	// ifMissing returns the cached module when one appeared while waiting
	// for the path lock.
	ifMissing bool
}

type outcome struct {
	module    *module.Module
	replaced  *module.Module
	object    *object.Object
	migrated  []storage.ID
	migration []*MigrationError
}

func (c *Compiler) compileOne(ctx context.Context, p string, o compileOpts) (*outcome, error) {
	ctx, err := enterLoad(ctx, p)
	if err != nil {
		return nil, err
	}
	src, err := c.source.ReadSource(p)
	if err != nil {
		return nil, compileErr(p, err)
	}
	u, err := scan(src)
	if err != nil {
		return nil, compileErr(p, err)
	}
	if err := c.allowed.validate(u.imports); err != nil {
		return nil, compileErr(p, err)
	}

	deps, depPaths, err := c.loadDependencies(ctx, p, u.requires)
	if err != nil {
		return nil, compileErr(p, err)
	}

	unlock, err := c.locks.lock(ctx, p)
	if err != nil {
		return nil, compileErr(p, err)
	}
	defer unlock()

	old, _ := c.cache.Get(p)
	if old != nil && o.ifMissing {
		return &outcome{module: old}, nil
	}
	if old != nil && !o.reload && !o.flags.Has(module.CompileOnly) {
		if n := old.InstanceCount(); n > 0 {
			return nil, compileErr(p, fmt.Errorf("%w: %d live instances, compile with reload", module.ErrInUse, n))
		}
	}

	logging.CompilerDebug("evaluating %s (package %s, requires %v)", p, u.pkg, depPaths)
	defs, err := evaluate(ctx, u, c.symbols)
	if err != nil {
		return nil, compileErr(p, err)
	}
	types, err := c.buildTypes(p, defs, deps)
	if err != nil {
		return nil, compileErr(p, err)
	}
	if !o.flags.Has(module.NoSeal) {
		for _, t := range types {
			t.Seal()
		}
	}
	m, err := module.New(p, types, depPaths, o.flags, u.digest)
	if err != nil {
		return nil, compileErr(p, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, compileErr(p, err)
	}

	out := &outcome{module: m}
	if old != nil {
		carryInstances(old, m)
	}
	out.replaced = c.cache.Replace(m)
	if out.replaced != nil {
		out.replaced.Retire()
		carryInstances(out.replaced, m)
	}

	switch {
	case o.flags.Has(module.CompileOnly):
	case o.reload && out.replaced != nil:
		out.migrated, out.migration = c.migrate(m)
	default:
		out.object, err = c.instantiate(m, o.args)
		if err != nil {
			return out, compileErr(p, err)
		}
	}
	return out, nil
}

// carryInstances moves instance membership from a replaced module so the
// instances stay visible to later reloads and deletes.
func carryInstances(from, to *module.Module) {
	for _, id := range from.Instances() {
		_ = to.AddInstance(id)
	}
}

func (c *Compiler) instantiate(m *module.Module, args map[string]any) (*object.Object, error) {
	typ, ok := m.Type("")
	if !ok {
		logging.CompilerDebug("module %s exports no types, nothing to instantiate", m.Path())
		return nil, nil
	}
	return c.objects.Create(m, typ, args)
}

// migrate moves every instance recorded on m onto the type of m with the
// same name. Instances that cannot move keep their previous type.
func (c *Compiler) migrate(m *module.Module) ([]storage.ID, []*MigrationError) {
	var migrated []storage.ID
	var failures []*MigrationError
	for _, id := range m.Instances() {
		obj, err := c.objects.Get(id)
		if err != nil {
			m.RemoveInstance(id)
			failures = append(failures, &MigrationError{Path: m.Path(), ID: id, Err: err})
			continue
		}
		prev := obj.Type()
		typ, ok := m.Type(prev.Name())
		if !ok {
			failures = append(failures, &MigrationError{
				Path: m.Path(), ID: id, Type: prev.Ref(),
				Err: fmt.Errorf("type %q no longer exported: %w", prev.Name(), module.ErrNotFound),
			})
			continue
		}
		if typ == prev {
			continue
		}
		if _, err := c.objects.Migrate(id, typ); err != nil {
			if errors.Is(err, storage.ErrNotFound) || errors.Is(err, object.ErrNotFound) {
				m.RemoveInstance(id)
			}
			failures = append(failures, &MigrationError{Path: m.Path(), ID: id, Type: prev.Ref(), Err: err})
			continue
		}
		migrated = append(migrated, id)
	}
	for _, f := range failures {
		logging.CompilerWarn("%v", f)
	}
	logging.CompilerDebug("migrated %d instances of %s", len(migrated), m.Path())
	return migrated, failures
}

func (c *Compiler) loadDependencies(ctx context.Context, p string, requires []string) (map[string]*module.Module, []string, error) {
	mods := make(map[string]*module.Module, len(requires))
	var paths []string
	stack := loadStack(ctx)
	for _, req := range requires {
		dp, err := c.cache.Canonical(req, p)
		if err != nil {
			return nil, nil, fmt.Errorf("require %q: %w", req, err)
		}
		if _, seen := mods[dp]; seen {
			continue
		}
		if i := indexOf(stack, dp); i >= 0 {
			return nil, nil, &CyclicDependencyError{Cycle: append(append([]string(nil), stack[i:]...), dp)}
		}
		if back := c.reaches(dp, p); back != nil {
			return nil, nil, &CyclicDependencyError{Cycle: append([]string{p}, back...)}
		}
		m, err := c.cache.GetOrCreate(ctx, dp)
		if err != nil {
			return nil, nil, fmt.Errorf("require %s: %w", dp, err)
		}
		mods[dp] = m
		paths = append(paths, dp)
	}
	return mods, paths, nil
}

// reaches returns the dependency path from one cached module to target, or
// nil when target is not among its transitive dependencies.
func (c *Compiler) reaches(from, target string) []string {
	visited := make(map[string]bool)
	var walk func(p string, trail []string) []string
	walk = func(p string, trail []string) []string {
		if visited[p] {
			return nil
		}
		visited[p] = true
		m, err := c.cache.Get(p)
		if err != nil {
			return nil
		}
		for _, dep := range m.Dependencies() {
			next := append(append([]string(nil), trail...), dep)
			if dep == target {
				return next
			}
			if found := walk(dep, next); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(from, []string{from})
}

func (c *Compiler) buildTypes(p string, defs []api.TypeDef, deps map[string]*module.Module) ([]*module.Type, error) {
	local := make(map[string]*module.Type, len(defs))
	types := make([]*module.Type, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			return nil, errors.New("type definition without a name")
		}
		if _, dup := local[def.Name]; dup {
			return nil, fmt.Errorf("duplicate type %q", def.Name)
		}
		var parent *module.Type
		if def.Inherits != "" {
			var err error
			if parent, err = c.resolveParent(p, def.Inherits, local, deps); err != nil {
				return nil, fmt.Errorf("type %s: %w", def.Name, err)
			}
		}
		t := module.NewType(p, def, parent)
		local[def.Name] = t
		types = append(types, t)
	}
	return types, nil
}

func (c *Compiler) resolveParent(p, ref string, local map[string]*module.Type, deps map[string]*module.Module) (*module.Type, error) {
	pp, name := module.SplitRef(ref)
	if pp == "" {
		pp = p
	}
	cp, err := c.cache.Canonical(pp, p)
	if err != nil {
		return nil, fmt.Errorf("inherits %q: %w", ref, err)
	}
	if cp == p {
		if t, ok := local[name]; ok && name != "" {
			return t, nil
		}
		return nil, fmt.Errorf("inherits %q: type must be declared earlier in the module", ref)
	}
	dm, ok := deps[cp]
	if !ok {
		return nil, fmt.Errorf("inherits %q: %s is not required", ref, cp)
	}
	t, ok := dm.Type(name)
	if !ok {
		return nil, fmt.Errorf("inherits %q: %w", ref, module.ErrNotFound)
	}
	return t, nil
}

// compileDependents recompiles every module that transitively depends on
// root. Modules are compiled in dependency order, so each binds to the
// freshly compiled types of the modules it requires. A failed module is
// recorded and the modules depending on it are skipped; the rest continue.
func (c *Compiler) compileDependents(ctx context.Context, root string, flags module.Flags, res *Result) {
	flags &^= module.Recursive | module.OnlyCompileDependents

	set := c.dependentSet(root)
	if len(set) == 0 {
		return
	}
	// pending counts, per module, the requirements inside the batch that
	// have not been compiled yet.
	pending := make(map[string]int, len(set))
	users := make(map[string][]string, len(set))
	for p, deps := range set {
		pending[p] += 0
		for _, dep := range deps {
			if _, in := set[dep]; in {
				pending[p]++
				users[dep] = append(users[dep], p)
			}
		}
	}
	var ready []string
	for p, n := range pending {
		if n == 0 {
			ready = append(ready, p)
		}
	}

	failed := make(map[string]string)
	for len(ready) > 0 {
		sort.Strings(ready)
		p := ready[0]
		ready = ready[1:]
		delete(pending, p)
		for _, u := range users[p] {
			if pending[u]--; pending[u] == 0 {
				ready = append(ready, u)
			}
		}

		if cause := failedDependency(set[p], failed); cause != "" {
			failed[p] = cause
			res.Batch = append(res.Batch, BatchEntry{Path: p, Err: compileErr(p, fmt.Errorf("requires %s: %w", cause, ErrDependencyFailed))})
			continue
		}
		if err := ctx.Err(); err != nil {
			failed[p] = p
			res.Batch = append(res.Batch, BatchEntry{Path: p, Err: timeoutErr(compileErr(p, err))})
			continue
		}
		out, err := c.compileOne(ctx, p, compileOpts{flags: flags, reload: true})
		err = timeoutErr(err)
		res.Batch = append(res.Batch, BatchEntry{Path: p, Err: err})
		if err != nil {
			logging.CompilerWarn("recompile of dependent %s failed: %v", p, err)
			failed[p] = p
			continue
		}
		res.Migrated = append(res.Migrated, out.migrated...)
		res.Migration = append(res.Migration, out.migration...)
	}

	// Whatever is left waits on itself.
	if len(pending) > 0 {
		left := make([]string, 0, len(pending))
		for p := range pending {
			left = append(left, p)
		}
		sort.Strings(left)
		cycle := findCycle(left[0], set, pending)
		for _, p := range left {
			res.Batch = append(res.Batch, BatchEntry{Path: p, Err: compileErr(p, &CyclicDependencyError{Cycle: cycle})})
		}
	}
}

// dependentSet returns every cached module depending, directly or not, on
// root, mapped to its dependencies.
func (c *Compiler) dependentSet(root string) map[string][]string {
	set := make(map[string][]string)
	queue := []string{root}
	for len(queue) > 0 {
		m, err := c.cache.Get(queue[0])
		queue = queue[1:]
		if err != nil {
			continue
		}
		for _, d := range m.Dependents() {
			if _, seen := set[d]; seen || d == root {
				continue
			}
			dm, err := c.cache.Get(d)
			if err != nil {
				continue
			}
			set[d] = dm.Dependencies()
			queue = append(queue, d)
		}
	}
	return set
}

func failedDependency(deps []string, failed map[string]string) string {
	for _, dep := range deps {
		if _, ok := failed[dep]; ok {
			return dep
		}
	}
	return ""
}

// findCycle follows unresolved requirements from start until a module
// repeats.
func findCycle(start string, set map[string][]string, pending map[string]int) []string {
	trail := []string{start}
	for {
		cur := trail[len(trail)-1]
		next := ""
		deps := append([]string(nil), set[cur]...)
		sort.Strings(deps)
		for _, dep := range deps {
			if _, ok := pending[dep]; ok {
				next = dep
				break
			}
		}
		if next == "" {
			return trail
		}
		if i := indexOf(trail, next); i >= 0 {
			return append(trail[i:], next)
		}
		trail = append(trail, next)
	}
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

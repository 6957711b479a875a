// Package driver runs the world: it wires the module cache, compiler,
// storage container and object table together and dispatches verb calls
// through the execution context stack.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"mudcore/internal/compiler"
	"mudcore/internal/logging"
	"mudcore/internal/module"
	"mudcore/internal/mxc"
	"mudcore/internal/object"
	"mudcore/internal/pathutil"
	"mudcore/internal/storage"
	"mudcore/pkg/api"
)

var (
	// ErrPermission is returned when the acting identity lacks privilege.
	ErrPermission = errors.New("permission denied")
	// ErrNoVerb is returned for calls to verbs a type does not define.
	ErrNoVerb = errors.New("no such verb")
)

// Config configures a Driver.
type Config struct {
	Source         compiler.Source
	Aliases        map[string]string
	AllowedImports []string
	CompileTimeout time.Duration
	// PreloadWorkers bounds concurrent compiles during Preload.
	PreloadWorkers int
}

// Driver owns the runtime state of one world.
type Driver struct {
	cache    *module.Cache
	records  *storage.Container
	objects  *object.Table
	compiler *compiler.Compiler
	workers  int
}

// New creates a driver with an empty world.
func New(cfg Config) *Driver {
	cache := module.NewCache(pathutil.NewResolver(cfg.Aliases))
	records := storage.New()
	objects := object.NewTable(records, cache)
	workers := cfg.PreloadWorkers
	if workers <= 0 {
		workers = 4
	}
	return &Driver{
		cache:   cache,
		records: records,
		objects: objects,
		compiler: compiler.New(compiler.Config{
			Source:         cfg.Source,
			AllowedImports: cfg.AllowedImports,
			Timeout:        cfg.CompileTimeout,
		}, cache, objects),
		workers: workers,
	}
}

func (d *Driver) Cache() *module.Cache         { return d.cache }
func (d *Driver) Records() *storage.Container  { return d.records }
func (d *Driver) Objects() *object.Table       { return d.objects }
func (d *Driver) Compiler() *compiler.Compiler { return d.compiler }

// Compile compiles through the driver's compiler.
func (d *Driver) Compile(ctx context.Context, opts compiler.Options) (*compiler.Result, error) {
	return d.compiler.Compile(ctx, opts)
}

// Clone creates an instance of ref ("path" or "path:Type"), compiling the
// module if it is not cached.
func (d *Driver) Clone(ctx context.Context, ref string, props map[string]any) (*object.Object, error) {
	p, name := module.SplitRef(ref)
	for attempt := 0; ; attempt++ {
		m, err := d.cache.GetOrCreate(ctx, p)
		if err != nil {
			return nil, err
		}
		typ, ok := m.Type(name)
		if !ok {
			return nil, fmt.Errorf("clone %s: %w", ref, module.ErrNotFound)
		}
		obj, err := d.objects.Create(m, typ, props)
		// The module may be swapped between lookup and creation.
		if errors.Is(err, module.ErrRetired) && attempt == 0 {
			continue
		}
		return obj, err
	}
}

// Destruct removes an object and its storage record.
func (d *Driver) Destruct(id storage.ID) error {
	return d.objects.Destruct(id)
}

// Unload removes a module from the cache; see module.Cache.Delete.
func (d *Driver) Unload(path string) error {
	return d.cache.Delete(path)
}

// Call runs verb on target. Without a chain in ctx it starts one acting as
// player; inside a chain it is a nested call, and player, if set,
// establishes a new acting identity for the nested frames.
func (d *Driver) Call(ctx context.Context, player string, target storage.ID, verb string, args ...any) (any, error) {
	ctx, _ = mxc.Ensure(ctx)
	return d.invoke(ctx, player, target, verb, args)
}

// Command parses "verb arg..." and runs it on the player's own object as a
// new call chain.
func (d *Driver) Command(ctx context.Context, player storage.ID, line string) (any, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command: %w", ErrNoVerb)
	}
	args := make([]any, 0, len(fields)-1)
	for _, f := range fields[1:] {
		args = append(args, f)
	}
	ctx = mxc.With(ctx, mxc.New())
	logging.DriverDebug("command from %s: %q", player, line)
	return d.invoke(ctx, string(player), player, fields[0], args)
}

// Force runs verb on target acting as player. The current acting identity
// must be privileged; TruePlayer is unchanged.
func (d *Driver) Force(ctx context.Context, player string, target storage.ID, verb string, args ...any) (any, error) {
	if !d.Privileged(ctx) {
		return nil, fmt.Errorf("%s cannot force %s to %s: %w", mxc.ThisPlayer(ctx), player, verb, ErrPermission)
	}
	ctx, _ = mxc.Ensure(ctx)
	return d.invoke(ctx, player, target, verb, args)
}

// Privileged reports whether the acting identity of the chain in ctx is a
// live object carrying the wizard flag.
func (d *Driver) Privileged(ctx context.Context) bool {
	p := mxc.ThisPlayer(ctx)
	if p == "" {
		return false
	}
	rec, err := d.records.Get(storage.ID(p))
	if err != nil {
		return false
	}
	return rec.HasFlag(storage.FlagWizard)
}

// Await runs fn as the continuation of the chain in ctx, off the chain's
// goroutine, with the chain's execution context restored.
func (d *Driver) Await(ctx context.Context, fn func(ctx context.Context) error) error {
	return mxc.Await(ctx, fn)
}

func (d *Driver) invoke(ctx context.Context, player string, target storage.ID, verb string, args []any) (out any, err error) {
	obj, err := d.objects.Get(target)
	if err != nil {
		return nil, err
	}
	if err := obj.Check(); err != nil {
		return nil, err
	}
	typ := obj.Type()
	v, ok := typ.Verb(verb)
	if !ok {
		return nil, fmt.Errorf("%s on %s: %w", verb, typ.Ref(), ErrNoVerb)
	}

	stack := mxc.From(ctx)
	leave, err := stack.Enter(mxc.Frame{
		File:   typ.Path(),
		Func:   verb,
		Object: string(target),
		Player: player,
		Verb:   verb,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if lerr := leave(); lerr != nil && err == nil {
			err = lerr
		}
	}()

	h := &host{d: d, obj: obj, ctx: ctx}
	return runVerb(v, api.NewCall(h, args), typ.Ref(), verb)
}

func runVerb(v api.Verb, c *api.Call, ref, verb string) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("verb %s on %s panicked: %v", verb, ref, r)
			logging.DriverWarn("%v", err)
		}
	}()
	return v(c)
}

// Preload compiles the given paths into the cache concurrently.
func (d *Driver) Preload(ctx context.Context, paths []string) error {
	timer := logging.StartTimer(logging.CategoryDriver, "preload")
	defer timer.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			_, err := d.cache.GetOrCreate(gctx, p)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("preload: %w", err)
	}
	logging.Driver("preloaded %d modules", len(paths))
	return nil
}

// Restore recreates records from persisted states and adopts each into its
// bound type, compiling modules as needed. States whose type cannot be
// resolved are dropped and reported.
func (d *Driver) Restore(ctx context.Context, states []storage.State) ([]storage.ID, error) {
	if err := d.records.Restore(states); err != nil {
		return nil, err
	}
	var restored []storage.ID
	var errs []error
	for _, st := range states {
		if err := d.adopt(ctx, st); err != nil {
			_ = d.records.Destroy(st.ID)
			errs = append(errs, fmt.Errorf("restore %s: %w", st.ID, err))
			continue
		}
		restored = append(restored, st.ID)
	}
	logging.Driver("restored %d of %d objects", len(restored), len(states))
	return restored, errors.Join(errs...)
}

func (d *Driver) adopt(ctx context.Context, st storage.State) error {
	p, name := module.SplitRef(st.Binding)
	m, err := d.cache.GetOrCreate(ctx, p)
	if err != nil {
		return err
	}
	typ, ok := m.Type(name)
	if !ok {
		return fmt.Errorf("type %s: %w", st.Binding, module.ErrNotFound)
	}
	_, err = d.objects.Adopt(st.ID, m, typ)
	return err
}

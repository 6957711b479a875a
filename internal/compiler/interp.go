package compiler

import (
	"context"
	"fmt"

	"github.com/traefik/yaegi/interp"

	"mudcore/pkg/api"
)

// TypesFunc is the entry point every game-object source exports.
const TypesFunc = "Types"

// evaluate interprets the source of one module against symbols and returns
// its type definitions. Each module gets its own interpreter; verbs keep it
// alive.
func evaluate(ctx context.Context, u *unit, symbols interp.Exports) (defs []api.TypeDef, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluation panicked: %v", r)
		}
	}()

	i := interp.New(interp.Options{})
	if err := i.Use(symbols); err != nil {
		return nil, fmt.Errorf("failed to load symbols: %w", err)
	}

	if _, err := i.EvalWithContext(ctx, u.code); err != nil {
		return nil, fmt.Errorf("code evaluation failed: %w", err)
	}

	v, err := i.EvalWithContext(ctx, u.pkg+"."+TypesFunc)
	if err != nil {
		return nil, fmt.Errorf("%s function not found: %w", TypesFunc, err)
	}
	typesFn, ok := v.Interface().(func() []api.TypeDef)
	if !ok {
		return nil, fmt.Errorf("%s has incorrect signature (expected: func() []api.TypeDef)", TypesFunc)
	}

	type result struct {
		defs []api.TypeDef
		err  error
	}
	out := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				out <- result{err: fmt.Errorf("%s panicked: %v", TypesFunc, r)}
			}
		}()
		out <- result{defs: typesFn()}
	}()
	select {
	case r := <-out:
		return r.defs, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%s did not return: %w", TypesFunc, ctx.Err())
	}
}

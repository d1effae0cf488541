// Package resolver computes stack inheritance: for every stack declared
// in config, the full set of processes it pulls in transitively through
// its "inherits" chain.
package resolver

import (
	"github.com/cuemby/paddock/pkg/config"
	"github.com/cuemby/paddock/pkg/paddockerr"
	"github.com/cuemby/paddock/pkg/types"
)

// MaxRecursionDepth bounds how many inheritance hops a stack may chain
// through before resolution gives up and reports RecursionDepthExceeded.
const MaxRecursionDepth = 10

// Resolve builds a types.Stack for every stack in stacks, with Inherited
// populated by walking each stack's "inherits" list. It fails with
// paddockerr.RecursionLoop if a stack's ancestry revisits itself, and with
// paddockerr.RecursionDepthExceeded past MaxRecursionDepth hops.
func Resolve(stacks map[string]config.Stack) (map[string]types.Stack, error) {
	out := make(map[string]types.Stack, len(stacks))
	for name, cs := range stacks {
		inherited := map[string]struct{}{}
		browsed := map[string]struct{}{name: {}}
		if err := recurse(1, cs.Inherits, stacks, browsed, inherited); err != nil {
			return nil, err
		}

		direct := map[string]struct{}{}
		for _, p := range cs.Processes {
			direct[p] = struct{}{}
		}

		out[name] = types.Stack{Name: name, Direct: direct, Inherited: inherited}
	}
	return out, nil
}

// recurse walks one level of an inheritance chain, unioning every
// ancestor's direct processes into inherited. browsed tracks every stack
// name visited anywhere in the current chain so a cycle is caught
// regardless of which ancestor reintroduces it.
func recurse(depth int, stackNames []string, stacks map[string]config.Stack, browsed map[string]struct{}, inherited map[string]struct{}) error {
	if len(stackNames) == 0 {
		return nil
	}
	if depth > MaxRecursionDepth {
		return paddockerr.NewRecursionDepthExceeded(currentStack(browsed), MaxRecursionDepth)
	}

	for _, name := range stackNames {
		if _, seen := browsed[name]; seen {
			return paddockerr.NewRecursionLoop(name)
		}
		cs, ok := stacks[name]
		if !ok {
			return paddockerr.NewStackNotFound(name)
		}
		browsed[name] = struct{}{}

		for _, p := range cs.Processes {
			inherited[p] = struct{}{}
		}

		if err := recurse(depth+1, cs.Inherits, stacks, browsed, inherited); err != nil {
			return err
		}
	}
	return nil
}

// currentStack is a best-effort label for depth-exceeded errors: any
// entry works since the error only needs to point at the offending chain.
func currentStack(browsed map[string]struct{}) string {
	for name := range browsed {
		return name
	}
	return ""
}

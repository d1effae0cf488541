/*
Package resolver computes each stack's Inherited process set by walking
its "inherits" chain.

Resolution is pure: it takes the full config.Stack map and returns a
types.Stack map, with no I/O and no dependency on the store. The
reconciler calls it once per config refresh and persists the result via
store.Store.SetStacks.

Cycle detection tracks every stack name visited anywhere in the current
chain (not just the current path), so a stack that inherits itself
directly, or two stacks that inherit each other, are both reported as
paddockerr.RecursionLoop. A chain deeper than resolver.MaxRecursionDepth
hops is reported as paddockerr.RecursionDepthExceeded instead of resolved
partially.
*/
package resolver

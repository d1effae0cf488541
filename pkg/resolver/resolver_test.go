package resolver

import (
	"fmt"
	"testing"

	"github.com/cuemby/paddock/pkg/config"
	"github.com/cuemby/paddock/pkg/paddockerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveNoInheritance(t *testing.T) {
	stacks := map[string]config.Stack{
		"dev": {Processes: []string{"api", "worker"}},
	}

	out, err := Resolve(stacks)

	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"api": {}, "worker": {}}, out["dev"].Direct)
	assert.Empty(t, out["dev"].Inherited)
}

func TestResolveSingleLevelInheritance(t *testing.T) {
	stacks := map[string]config.Stack{
		"foo": {Processes: []string{"bar"}},
		"baz": {Inherits: []string{"foo"}, Processes: []string{"foo"}},
	}

	out, err := Resolve(stacks)

	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"bar": {}}, out["baz"].Inherited)
	assert.Equal(t, map[string]struct{}{"foo": {}}, out["baz"].Direct)
}

func TestResolveTransitiveInheritance(t *testing.T) {
	stacks := map[string]config.Stack{
		"a": {Processes: []string{"p1"}},
		"b": {Inherits: []string{"a"}, Processes: []string{"p2"}},
		"c": {Inherits: []string{"b"}, Processes: []string{"p3"}},
	}

	out, err := Resolve(stacks)

	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"p1": {}, "p2": {}}, out["c"].Inherited)
}

func TestResolveSelfInheritanceIsLoop(t *testing.T) {
	stacks := map[string]config.Stack{
		"a": {Inherits: []string{"a"}},
	}

	_, err := Resolve(stacks)

	require.Error(t, err)
	assert.True(t, paddockerr.Is(err, paddockerr.RecursionLoop))
}

func TestResolveMutualCycleIsLoop(t *testing.T) {
	stacks := map[string]config.Stack{
		"a": {Inherits: []string{"b"}},
		"b": {Inherits: []string{"a"}},
	}

	_, err := Resolve(stacks)

	require.Error(t, err)
	assert.True(t, paddockerr.Is(err, paddockerr.RecursionLoop))
}

func TestResolveMissingAncestorIsStackNotFound(t *testing.T) {
	stacks := map[string]config.Stack{
		"a": {Inherits: []string{"ghost"}},
	}

	_, err := Resolve(stacks)

	require.Error(t, err)
	assert.True(t, paddockerr.Is(err, paddockerr.StackNotFound))
}

func TestResolveDepthWithinLimitSucceeds(t *testing.T) {
	stacks := chainOfDepth(MaxRecursionDepth)

	_, err := Resolve(stacks)

	require.NoError(t, err)
}

func TestResolveDepthBeyondLimitFails(t *testing.T) {
	stacks := chainOfDepth(MaxRecursionDepth + 1)

	_, err := Resolve(stacks)

	require.Error(t, err)
	assert.True(t, paddockerr.Is(err, paddockerr.RecursionDepthExceeded))
}

// chainOfDepth builds a linear inheritance chain s0 <- s1 <- ... <- sN
// (N == depth) and resolves "sN", whose ancestry is exactly depth hops
// deep.
func chainOfDepth(depth int) map[string]config.Stack {
	stacks := map[string]config.Stack{
		"s0": {Processes: []string{"p0"}},
	}
	for i := 1; i <= depth; i++ {
		stacks[fmt.Sprintf("s%d", i)] = config.Stack{
			Inherits:  []string{fmt.Sprintf("s%d", i-1)},
			Processes: []string{fmt.Sprintf("p%d", i)},
		}
	}
	return stacks
}

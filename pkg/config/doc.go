/*
Package config loads paddock.yml, the optional declarative file that
names processes, their stack membership, and per-process overrides.

# Schema

	default:
	  stack: dev
	  process:
	    build_args: ["--locked"]
	stacks:
	  dev:
	    processes: [api, worker]
	  full:
	    inherits: [dev]
	    processes: [migrator]
	processes:
	  api:
	    args: ["--port", "${PORT:-8080}"]
	    env:
	      RUST_LOG: debug

Load returns (nil, nil) when paddock.yml is absent: every discovered
artifact becomes a process with no overrides and no stack membership in
that case.

# See Also

  - pkg/resolver for stack inheritance resolution
  - pkg/reconciler, which builds processes from this file when present
    and from discovered artifacts only when it is absent
*/
package config

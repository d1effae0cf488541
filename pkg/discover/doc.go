/*
Package discover finds the native binaries a Cargo workspace can build,
by shelling out to `cargo metadata --format-version=1`.

Only workspace-local packages (package id scheme "path+file", as opposed
to registry or git dependencies) with at least one `bin` target are
returned: these are the artifacts the reconciler turns into processes
when no declarative config names them explicitly.

Failures — cargo not on PATH, a malformed workspace, a metadata parse
error — are reported as paddockerr.ToolchainFailure, carrying cargo's
stderr where available.
*/
package discover

// Package meta provides the declarative construction API: the entire
// dependency graph is described up front as a Spec, statically validated,
// and compiled into the same graph structure the classic package builds
// incrementally.
//
// Compilation is atomic. Either the whole description installs into a
// fresh graph, or no graph is produced at all; a partially-built graph is
// never observable. Node specs may reference each other in any order;
// the compiler sorts them into dependency order before installing, and
// installation itself goes through the shared graph primitives so the two
// construction styles never duplicate validation logic.
package meta

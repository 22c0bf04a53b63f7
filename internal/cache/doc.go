// Package cache implements the local tier of the dependency-tree cache: a
// flat directory holding one immutable <platform>-<digest>.tgz archive per
// cache key. Writes go through the snapshot codec straight into the entry
// slot (partial files are removed on failure), and remote-tier payloads are
// spooled into the same slot via a temp file + rename so readers never see a
// half-written entry. No cross-process locking is performed; concurrent runs
// against the same key race and the last writer wins.
package cache

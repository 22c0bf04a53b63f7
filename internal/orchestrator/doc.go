// Package orchestrator is the decision engine of fast-install. It derives the
// cache key (platform id + manifest digest), then either adopts the tree that
// is already on disk into both cache tiers, or clears the working tree,
// performs a local-then-remote lookup, and falls back to the real install on
// a miss, repopulating both tiers afterwards. The key is derived exactly once
// per run; a corrupt-but-present cache entry aborts the run instead of being
// reinterpreted as a miss; remote reads are best-effort while remote writes
// are not.
package orchestrator

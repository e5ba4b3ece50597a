// Package cache deduplicates and memoizes bundle fetches.
//
// Each script id has at most one entry. The first Load for an id creates a
// pending entry and starts one transport call; every concurrent Load for the
// same id waits on that call and receives the same bytes. Success leaves the
// entry ready for the rest of the session. Failure and timeout evict the
// entry so the next Load starts fresh.
//
// Fetches run detached from the callers that triggered them. A caller whose
// context ends stops waiting, but the fetch still completes under its own
// deadline and populates the cache.
//
// Descriptors marked cacheable are also read from and written to an
// optional Store, such as DirStore, which survives process restarts.
package cache

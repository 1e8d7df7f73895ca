/*
Package cache provides the local file cache for downloaded payloads.

Entries are keyed by a SHA-256 of the lowercased "site:path" pair, so a
path read with different casing resolves to the same entry. Each entry is
two co-located files in the cache directory:

	<key>.bin        payload bytes
	<key>.meta.json  {"path", "site_id", "cached_at", "size"}

Both files are written through temp files and renamed into place, and are
always removed together.

# Expiration and Eviction

Expiration is lazy: TryGet compares the sidecar's cached_at with the
configured horizon and deletes stale entries before reporting a miss.

Eviction runs inside Store before the new payload is written. When the
directory plus the incoming payload would exceed MaxSizeBytes, payloads are
removed in ascending order of last access until it fits. The payload's
modification time is the access clock: Store and every TryGet hit set it
to the cache's current time, so eviction does not depend on filesystem
atime support.

A payload larger than MaxSizeBytes is never cached.

# Failure Policy

All operations on one directory share a single mutex. Disk errors, corrupt
metadata and size mismatches are logged and surface as a miss or a no-op;
callers always fall back to the remote store.

Example:

	fc := cache.NewFileCache(cache.Config{
		Enabled:      true,
		Directory:    "/var/cache/cloudfile/site-a",
		MaxSizeBytes: 500 * 1024 * 1024,
		Expiration:   24 * time.Hour,
	}, cache.WithLogger(logger))

	if data, ok := fc.TryGet("docs/readme.txt", "site-a"); ok {
		return data, nil
	}
	data, err := store.Download(ctx, "site-a", "docs/readme.txt")
	if err == nil {
		fc.Store("docs/readme.txt", "site-a", data)
	}
*/
package cache

/*
Package remote defines the document storage backends behind cloudfile.

Store is the contract every backend satisfies. Three implementations exist:

	remote.NewMemoryStore()   in-process, used by tests and backend "memory"
	httpapi.New(cfg)          HTTP+JSON document service with OAuth2 client credentials
	s3.New(ctx, cfg)          S3-compatible object storage

Backends return *errors.CloudFileError values. A missing path is always
FILE_NOT_FOUND; HTTP status codes appear in error messages so the retry
classifier can recognize throttling and server faults.

Instrument wraps any Store and reports call durations and outcomes to a
metrics observer.
*/
package remote

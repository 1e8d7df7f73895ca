/*
Package s3 implements remote.Store on S3-compatible object storage.

All sites share one bucket; a site's files live under "<site>/". Directories
are zero-length marker objects ending in "/", and a directory also exists
implicitly while any object sits below it. Move is a server-side copy
followed by a delete of the source.

The SDK's own retries are disabled. Transient failures surface as
CloudFileError values carrying the HTTP status so the retry executor can
decide.

	backend, err := s3.New(ctx, s3.Config{
		Bucket:         "documents",
		Region:         "us-east-1",
		Endpoint:       "http://localhost:9000",
		ForcePathStyle: true,
	}, s3.WithLogger(logger))
*/
package s3

/*
Package config provides configuration management for cloudfile.

Configuration is assembled from three sources, lowest priority first:

	1. Compiled-in defaults (NewDefault)
	2. A YAML file (LoadFromFile)
	3. CLOUDFILE_* environment variables (LoadFromEnv)

Load runs all three and then Validate.

# File Format

	global:
	  log_level: INFO          # DEBUG, INFO, WARN, ERROR
	  log_format: json         # json or console
	  metrics_port: 9090       # 0 disables /metrics

	remote:
	  backend: http            # http, s3 or memory
	  base_url: https://docs.example.com/api
	  token_url: https://login.example.com/oauth2/token
	  client_id: my-app
	  client_secret: ${SECRET}
	  scopes: [files.readwrite]
	  timeout: 100s
	  s3:
	    bucket: documents
	    region: us-east-1
	    endpoint: http://localhost:9000
	    force_path_style: true
	  circuit_breaker:
	    enabled: true
	    failure_threshold: 5   # consecutive transient failures per site
	    open_timeout: 30s
	    half_open_requests: 1

	sites:
	  - name: finance
	    site_id: contoso-finance
	    environment: production
	default_site: finance

	retry:
	  max_retries: 3
	  initial_delay: 2s
	  max_delay: 60s

	cache:
	  enabled: true
	  directory: /var/cache/cloudfile
	  max_size_mb: 500
	  expiration_hours: 24

	queue:
	  enabled: true
	  worker_count: 3
	  poll_interval: 100ms
	  retention: 5m
	  shutdown_timeout: 30s

	audit:
	  enabled: true

# Environment Variables

	CLOUDFILE_LOG_LEVEL, CLOUDFILE_LOG_FORMAT, CLOUDFILE_METRICS_PORT
	CLOUDFILE_BACKEND, CLOUDFILE_BASE_URL, CLOUDFILE_TOKEN_URL
	CLOUDFILE_CLIENT_ID, CLOUDFILE_CLIENT_SECRET, CLOUDFILE_SCOPES (comma separated)
	CLOUDFILE_REMOTE_TIMEOUT
	CLOUDFILE_S3_BUCKET, CLOUDFILE_S3_REGION, CLOUDFILE_S3_ENDPOINT
	CLOUDFILE_S3_FORCE_PATH_STYLE, CLOUDFILE_S3_ACCESS_KEY_ID, CLOUDFILE_S3_SECRET_ACCESS_KEY
	CLOUDFILE_CIRCUIT_BREAKER_ENABLED, CLOUDFILE_CIRCUIT_FAILURE_THRESHOLD, CLOUDFILE_CIRCUIT_OPEN_TIMEOUT
	CLOUDFILE_DEFAULT_SITE
	CLOUDFILE_MAX_RETRIES, CLOUDFILE_RETRY_INITIAL_DELAY, CLOUDFILE_RETRY_MAX_DELAY
	CLOUDFILE_CACHE_ENABLED, CLOUDFILE_CACHE_DIR
	CLOUDFILE_CACHE_MAX_SIZE_MB, CLOUDFILE_CACHE_EXPIRATION_HOURS
	CLOUDFILE_QUEUE_ENABLED, CLOUDFILE_QUEUE_WORKERS
	CLOUDFILE_AUDIT_ENABLED

Unparsable numeric or duration overrides are reported by LoadFromEnv and
leave the existing value untouched.

Each site gets its own cache subdirectory (see CacheConfig), so site names
are restricted to letters, digits, dot, underscore and dash.
*/
package config

/*
Package httpapi implements remote.Store against an HTTP+JSON document
service.

Endpoints, relative to the configured base URL:

	PUT    /sites/{site}/files/{path}      upload raw bytes
	GET    /sites/{site}/files/{path}      download raw bytes
	HEAD   /sites/{site}/files/{path}      existence check
	DELETE /sites/{site}/files/{path}      delete a file or folder
	POST   /sites/{site}/move              {"from": "...", "to": "..."}
	GET    /sites/{site}/children/{dir}    {"entries": [...]}
	POST   /sites/{site}/folders           {"path": "..."}

Requests are authenticated with a bearer token from the OAuth2
client-credentials grant when a token URL is configured.

A 404 maps to FILE_NOT_FOUND. Any other non-2xx response becomes a
CloudFileError whose message starts with "remote returned <status>", which
lets the retry executor treat 408, 429 and 5xx responses as transient.
*/
package httpapi

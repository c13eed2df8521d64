/*
Package api serves the provisioner and manage HTTP surfaces with chi.

# Provisioner surface

	POST   /provisioner/v1/wikis                    create a wiki (202 + task id)
	GET    /provisioner/v1/wikis                    list featured/public wikis
	GET    /provisioner/v1/wikis/public             list public wikis
	GET    /provisioner/v1/wikis/slug/{slug}/exists slug availability
	DELETE /provisioner/v1/wikis/{slug}             idempotent teardown
	GET    /provisioner/v1/users/{id}/wikis         list a user's wikis
	GET    /provisioner/v1/tasks/{id}/events        SSE progress stream
	GET    /provisioner/v1/health                   liveness
	GET    /metrics                                 prometheus metrics

# Manage surface

	GET/POST /manage/v1/wikis/{slug}/permissions    read/replace permissions
	POST     /manage/v1/wikis/{slug}/extensions/sync
	POST     /manage/v1/wikis/{slug}/skins/sync
	PUT      /manage/v1/wikis/{slug}/visibility
	POST     /manage/v1/wikis/{slug}/favicon
	GET      /manage/v1/visibility-check            forward-auth hook

# Event streaming

The task events endpoint implements the late-subscriber protocol: subscribe
to the task channel first, read the task row second. A task that is already
terminal yields exactly one synthesized status event; a live task yields the
cached progress snapshot (if any) followed by the pub/sub stream. Terminal
status events close the stream; clients must treat them idempotently since
the snapshot may duplicate the published one. Keep-alive comments flow
every 15 seconds.

# Errors

Every failure maps to the {error, message} envelope. Identity comes from
trusted upstream headers (X-Auth-User-Id, X-Auth-User); missing identity is
a 401 before any work happens.
*/
package api

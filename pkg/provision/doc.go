/*
Package provision implements the multi-phase wiki provisioning pipeline and
its bounded rollback.

A provisioning run touches four independent external systems: the host
filesystem (template materialization and rendered configuration), the shared
MySQL server (per-wiki database, user and grants), the Docker engine
(maintenance commands executed inside the long-running fleet container) and
the Redis bus (phase-by-phase progress events). None of these participate in
a shared transaction, so the orchestrator records every completed step on a
stack and compensates them in reverse order when a later phase fails.

# Pipeline

	dir_copy         symlink the template tree into the wiki directory
	render_ini       write pubwiki.ini with the bootstrap flag on
	db_provision     create database, user and grants
	(wiki row)       insert the handoff record
	(permissions)    apply the template permission set
	docker_install   run the preconfigured installer in the fleet container
	docker_index_cfg update the search index configuration
	flip_bootstrap   re-render pubwiki.ini with the bootstrap flag off
	index            two forced index passes plus a semantic data rebuild
	(owner groups)   enroll the owner as bureaucrat/translator/sysop

Steps with no listed compensation (docker phases, indexing, the bootstrap
flip) unwind silently: their effects either die with the wiki database and
directories or are idempotent on re-run.

# Rollback

Rollback pops the step stack and dispatches on the step tag. Every
compensating action is best-effort: failures are logged and never promoted,
so the original pipeline error always reaches the task row and the terminal
event unchanged.
*/
package provision

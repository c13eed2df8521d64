/*
Package queue adapts Redis into the two messaging primitives the provisioner
needs: a shared job list and a per-task pub/sub event bus.

# Job queue

Producers RPUSH JSON job payloads onto a single shared list; the worker
blocks on BLPOP with a short timeout so a shutdown signal is observable
between pops. Delivery is at-least-once: a crash between the pop and the
terminal task update loses the in-flight job (the task row keeps its last
written state).

# Event bus

Every task has a channel (wikifarm:tasks:<id>) carrying progress and status
events. Publish additionally caches the payload under a side key
(<channel>:last) with a bounded TTL so late subscribers can synthesize a
current-phase snapshot without replay. The cache write is best-effort and
never fails a publish.
*/
package queue

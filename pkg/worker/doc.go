/*
Package worker implements the single job-queue consumer of a provisioner
instance.

The worker blocks on the shared Redis list with a short pop timeout, so the
stop channel is observed between pops. Each popped payload is parsed as a
provisioning job; parse failures are logged and the message is dropped. For
each job the worker marks the task running, generates the per-wiki database
password, drives the provisioning orchestrator, and writes the terminal task
state. The terminal write and the terminal event publish belong to the
worker alone — the orchestrator publishes only progress.

On failure the worker rolls the run back (unless DISABLE_ROLLBACK is set)
before recording the failure message on the task row and the terminal event.

Delivery is at-least-once: a crash between pop and terminal update leaves
the task row in its last written state with no retry.
*/
package worker

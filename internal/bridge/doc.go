// Package bridge connects the host to one external worker process over
// newline-delimited JSON on the worker's stdin and stdout.
//
// Outbound, host producers call Submit. Events are encoded and appended to a
// mutex-guarded batch, which is flushed into a bounded send queue once it
// holds BatchSize events or BatchTimeout has passed since the last flush.
// A small pool of sender loops drains the queue into the worker's stdin,
// flushing the pipe immediately while the queue is short and coalescing
// writes while it is long.
//
// Inbound, a single receiver loop reads worker stdout line by line, decodes
// each line into a protocol.Message and dispatches it to the host's
// Recipients and CommandExecutor.
//
// Backpressure policy:
//   - Submit never blocks. With the queue full the event is dropped.
//   - A flushed batch is pushed only while the queue is below the high-water
//     mark (80% of capacity by default); otherwise the whole batch is dropped.
//   - Drops are logged at warn level and counted in Stats.
//
// Lifecycle:
//   - Start locates the executable, spawns it with stderr merged into stdout,
//     and starts the receiver, the senders and the batch flusher.
//   - Stop clears the queue, writes {"event":"shutdown"}, closes stdin, sends
//     SIGTERM, waits TerminateTimeout, kills, waits KillTimeout, then winds
//     the loops down. Every step runs even if an earlier one failed.
//   - Restart is Stop, RestartDelay, Start. Each Start opens a fresh session
//     with its own running flag and message counter.
//
// Nothing in this package panics into the caller: each loop iteration and
// each Stop step recovers and logs.
package bridge

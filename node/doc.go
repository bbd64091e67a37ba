// Package node implements the runtime core of an agentnode process.
//
// Four components cooperate here:
//
//   - ConnectionManager owns the node's liveness relationship with the
//     coordinator: initial registration, periodic heartbeats, and automatic
//     reconnection, exposed as a small state machine with observer callbacks.
//   - WorkflowTracker wraps unit-of-work invocations so each runs under a
//     correctly derived execution context and the coordinator receives
//     best-effort lifecycle events from which it rebuilds the workflow DAG.
//   - AsyncExecutionManager is the client side of dispatching work to remote
//     units: submission, background status polling, a bounded result cache,
//     and memory-bounded cleanup of finished work.
//   - Node wires those three together with the unit registry, the HTTP
//     surface, the event dispatcher, and the optional journal and status
//     stream, and owns their combined lifecycle.
//
// Construct a Node with New, register units, then Start:
//
//	n, err := node.New(cfg, logger)
//	if err != nil { ... }
//	n.MustRegister("summarize", summarize)
//	if err := n.Start(ctx); err != nil { ... }
//	defer n.Stop(context.Background())
package node

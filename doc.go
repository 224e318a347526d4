// Package flow is a workflow and approval engine for business documents.
// Workflow definitions are directed graphs of typed nodes routed by guarded
// edges; instances progress through them automatically, suspending at
// approval nodes until a human decision or a timeout escalation moves them
// on. Every transition is persisted with optimistic concurrency and emitted
// as an immutable audit event.
package flow

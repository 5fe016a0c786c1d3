// Package queue carries index maintenance tasks from writers to workers.
//
// Delivery is at-least-once: a task is removed only when a worker acks it,
// so handlers must be idempotent. Index upserts are keyed by record id and
// removing an absent document succeeds, which makes replays harmless.
//
// MemoryQueue keeps tasks in process and loses them on restart. SQLQueue
// stores them in the index_tasks table and hands each claimed task a lease;
// a task whose worker died becomes visible again once the lease expires.
//
// Pool runs the workers. Tasks for the same record always land on the same
// worker lane, so a single process applies them in dequeue order.
package queue

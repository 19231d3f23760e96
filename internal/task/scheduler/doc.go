// Package scheduler is the process-wide trigger registry (cron/interval/once).
//
// Execution is delegated to internal/task/engine. The scheduler is responsible only for:
//   - registering triggers by stable name (upsert)
//   - computing next trigger times
//   - enqueueing tasks into the task engine when a trigger fires
package scheduler

/*
Package audit keeps a trail of evaluation decisions.

Every evaluation yields a Record summarising what the pipeline decided:
the rule set version it ran against, which rules matched or failed, and
the aggregated verdict of each requested kind. The transaction itself is
never stored, only a SHA-256 hash of its canonical JSON encoding, so the
trail can prove which input produced a decision without retaining
payment data.

# Recording

Records are written asynchronously so evaluation latency does not depend
on the audit store:

	rec := audit.NewRecorder(storage, audit.RecorderConfig{Buffer: 1024}, collector, logger)
	defer rec.Close()

	rec.Record(audit.NewRecord(txn, kinds, decision))

When the queue is full the record is dropped and counted rather than
blocking the caller.

# Storage

Two backends implement Storage: MemoryStorage for tests and single
process deployments, and SQLiteStorage for durable trails. Both support
filtering by rule, time range and compliance outcome.

# Retention

A Pruner deletes records older than the retention period and trims the
trail to a maximum size. A Scheduler runs it on a cron schedule:

	pruner := audit.NewPruner(storage, 30*24*time.Hour, 0, collector, logger)
	sched := audit.NewScheduler(pruner, "@every 1h", logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()
*/
package audit

// Package schedule runs fetch runs in the background on a jittered interval.
//
// The scheduler sits on top of the orchestrator and handles:
//
//   - an initial run on start
//   - periodic runs on a time.Ticker whose period is re-jittered after every run
//   - reading the current source configuration before each run, so reloads
//     take effect on the next tick
//   - thread-safe access to the last run summary
//   - graceful shutdown
//
// # Usage Example
//
//	manager, _ := config.NewManager(config.WithConfigDir(dir))
//	sched := schedule.New(orch, manager, schedule.WithInterval(24*time.Hour))
//	go func() { _ = sched.Start(ctx) }()
//	defer sched.Stop()
package schedule

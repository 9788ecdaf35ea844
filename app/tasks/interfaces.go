package tasks

import "context"

// TaskSchedulerInterface is the background task queue used by main and the
// API.
//
//	scheduler := NewScheduler(refresher, interval, workerCount)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.EnqueueTask(NewRefreshRemoteDataTask(TriggerAPI, refresher))
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	RefreshNow(trigger string) error
}

// Refresher fetches remote data and dispatches new payloads. It returns the
// number of payloads dispatched.
type Refresher interface {
	Refresh(ctx context.Context) (int, error)
}

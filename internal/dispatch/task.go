package dispatch

// Task is one unit of deferred work. Execute runs on a worker goroutine and
// must not touch caller-owned state; Complete runs exactly once afterwards on
// the Loop with the error Execute returned.
type Task interface {
	// Kind labels the task in logs and metrics, e.g. "put" or "next".
	Kind() string
	Execute() error
	Complete(err error)
}

// Package dispatch moves accepted executions to workers and runs them there.
//
// The trigger side (Dispatcher) reads a buffered queue with a small sender
// pool and delivers each TriggerRequest through a Transport, retrying with
// exponential backoff and reusing the execution ID every time. The execution
// side (Executor) claims the record with a compare-and-set before doing any
// work, so duplicate or retried triggers collapse into at most one effective
// attempt. Workers either share the process (LocalTransport backed by a Pool)
// or sit behind HTTP (HTTPTransport talking to WorkerHandler).
package dispatch

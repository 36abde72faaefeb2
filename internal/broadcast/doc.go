// Package broadcast is the intake side of a broadcast: it validates a request,
// verifies the bot credential with the provider, claims the bot's job slot,
// forwards one representative message and stores the job for the fan-out
// worker.
//
// The steps run strictly in this order:
//
//	received -> validated -> credential verified -> claimed -> dispatched -> persisted
//
// Any failure stops the run and is returned as *Error tagged with the step
// that failed. A claim is never released by this package.
package broadcast

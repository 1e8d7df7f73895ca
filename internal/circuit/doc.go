/*
Package circuit stops calling a remote site that keeps failing.

Each site gets its own Breaker. Consecutive transient failures (as judged by
retry.IsTransient) open the circuit; while open, calls fail immediately with
REMOTE_CIRCUIT_OPEN, which the retry executor treats as permanent. After the
open timeout a limited number of probe calls are let through: a success
closes the circuit, a transient failure opens it again.

Not-found, permission and other permanent answers prove the remote is
reachable and count as successes. Calls canceled by the caller are ignored.

Guard wraps a remote.Store so every call goes through the breaker of its site:

	m := circuit.NewManager(circuit.Config{FailureThreshold: 5, OpenTimeout: 30 * time.Second})
	store = circuit.Guard(store, m)
*/
package circuit

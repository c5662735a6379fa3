/*
Package connection implements the per-connection state machine:

	Connecting -> Connected                (handshake)
	Connected  -> Reconnecting(1, b0)      (detected disconnect)
	Reconnecting(n, b) -> Reconnecting(n+1, backoff(n))  while n < max
	Reconnecting(n, b) -> Failed           when n >= max
	Reconnecting(*, *) -> Connected        (successful reconnect, triggers resync)
	any        -> Disconnected             (explicit close)

Backoff is exponential with jitter, capped at a configured ceiling, and
reconnect attempts are scheduled timers, never blocking sleeps. A
successful reconnect requests a full session snapshot rather than
replaying missed events, because the gap may be unbounded.

One Manager belongs to exactly one physical connection; Failed and
Disconnected are terminal for that instance.
*/
package connection

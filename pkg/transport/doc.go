/*
Package transport provides the in-memory transport used by the
simulation harness and tests.

Endpoints are addressed by connection id. Outbound frames pass through
an optional fault hook that can drop, duplicate, or delay them, which
is how the simulation injects network failures without touching any of
the components under test. Frames are copied on send, so a mutated
buffer never aliases a delivered one.
*/
package transport

/*
Package envelope implements the versioned message envelope every Accord
message travels in, transport-agnostic:

	{message_type, correlation_id, timestamp, schema_version, payload}

Correlation ids are globally unique per logical operation and serve as
the deduplication key for broadcast acknowledgment and exactly-once
command application.
*/
package envelope

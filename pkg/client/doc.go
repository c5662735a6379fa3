/*
Package client provides a WebSocket client for one participant in an
Accord session.

The client sends commands, acknowledges and folds incoming events into
a local session copy, and reconnects transparently. Events fold in
sequence order: duplicates are dropped, and a gap triggers a full
snapshot resync rather than waiting for redelivery. After every
reconnect the client requests a fresh snapshot, so its local state is
correct no matter how long the outage lasted.

	c, err := client.Dial(client.Config{
		URL:           "ws://localhost:8080/ws",
		SessionID:     "sprint-12",
		ParticipantID: "alice",
		Name:          "Alice",
	}, client.WithEventFunc(onEvent))
	if err != nil {
		return err
	}
	defer c.Close()

	c.Vote("5")
*/
package client

// Package natsclient wraps a NATS connection for the live beacon feed and the
// event publisher.
//
// The Client adds a circuit breaker in front of connection attempts and
// JetStream calls: after a threshold of consecutive failures the circuit
// opens and further calls fail fast with ErrCircuitOpen until the backoff
// expires. Backoff doubles on each reopening and is capped by WithMaxBackoff.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//		natsclient.WithName("thmmonitor"),
//		natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close(context.Background())
//
//	err = client.Subscribe(ctx, "thm.fm.>", func(ctx context.Context, subject string, data []byte) {
//		// subject carries the routing key in its last token
//	})
//
// Core subscriptions, JetStream consumers (ConsumeStream) and plain Publish
// are supported. NewTestClient starts a NATS container through
// testcontainers-go for integration tests.
package natsclient

/*
Package events provides an in-memory event broker for pub/sub messaging
between orchestration kernel components.

The events package implements a lightweight, non-blocking event bus:
publishers send events onto a buffered channel, a broadcast loop fans
each event out to every current subscriber's own buffered channel. A
slow subscriber's full buffer causes that subscriber to skip the event
rather than blocking the publisher.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("%s: %s\n", event.Type, event.Message)
		}
	}()

	broker.Publish(&events.Event{
		Type:       events.EventWorkItemCompleted,
		WorkItemID: "wi-123",
		Message:    "work item completed",
	})

# Limitations

In-memory only: no persistence, no replay, no delivery guarantee. The
HTTP API has no event stream endpoint; only in-process subscribers
receive events.
*/
package events

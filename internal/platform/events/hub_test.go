package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func newTestClient(topics ...string) *Client {
	return &Client{
		ID:     "test-client",
		Topics: topics,
		Send:   make(chan []byte, 8),
	}
}

func TestHub_RegisterAndBroadcast(t *testing.T) {
	hub := NewHub()
	client := newTestClient(EpisodeTopic("ep1"))
	hub.Register(client)

	hub.Broadcast(EpisodeTopic("ep1"), Event{
		Type:      "episode.transitioned",
		Topic:     EpisodeTopic("ep1"),
		EpisodeID: "ep1",
		Timestamp: time.Now(),
	})

	select {
	case raw := <-client.Send:
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if ev.Type != "episode.transitioned" {
			t.Errorf("unexpected type %s", ev.Type)
		}
	default:
		t.Fatal("expected event delivered to subscriber")
	}
}

func TestHub_PublishReachesFirehose(t *testing.T) {
	hub := NewHub()
	firehose := newTestClient(FirehoseTopic)
	hub.Register(firehose)

	err := hub.Publish(context.Background(), Event{
		Type:  "episode.finalized",
		Topic: EpisodeTopic("ep2"),
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-firehose.Send:
	default:
		t.Fatal("expected firehose subscriber to receive episode event")
	}
}

func TestHub_BroadcastSkipsOtherTopics(t *testing.T) {
	hub := NewHub()
	client := newTestClient(EpisodeTopic("ep1"))
	hub.Register(client)

	hub.Broadcast(EpisodeTopic("ep2"), Event{Type: "episode.transitioned"})

	select {
	case <-client.Send:
		t.Fatal("expected no event for a different episode topic")
	default:
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := NewHub()
	client := newTestClient(FirehoseTopic)
	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}

	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
	if _, open := <-client.Send; open {
		t.Error("expected Send channel to be closed")
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub()
	client := newTestClient()
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{EpisodeTopic("ep3")}})
	if hub.TopicCount(EpisodeTopic("ep3")) != 1 {
		t.Fatal("expected subscription to ep3")
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{EpisodeTopic("ep3")}})
	if hub.TopicCount(EpisodeTopic("ep3")) != 0 {
		t.Fatal("expected unsubscription from ep3")
	}
}

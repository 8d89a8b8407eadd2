package stream

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	client := hub.Register("session-1")
	defer hub.Unregister(client)

	payload := []byte("hello")
	hub.Broadcast("session-1", payload)

	select {
	case msg := <-client.Send:
		if string(msg) != "hello" {
			t.Fatalf("unexpected message")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timeout waiting for message")
	}
}

func TestHubHelpers(t *testing.T) {
	ch := redisChannel("abc")
	if ch != "mitr:session:abc:live" {
		t.Fatalf("unexpected channel %q", ch)
	}
	if sessionIDFromChannel(ch) != "abc" {
		t.Fatalf("unexpected session id")
	}
	if sessionIDFromChannel("bad") != "" || sessionIDFromChannel("mitr:session::live") != "" {
		t.Fatalf("expected empty session id")
	}
}

func TestUnregisterCloses(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("session-2")
	hub.Unregister(client)
	_, ok := <-client.Send
	if ok {
		t.Fatalf("expected channel closed")
	}
	// second unregister is a no-op
	hub.Unregister(client)
}

func TestHubRedisRelayAcrossInstances(t *testing.T) {
	s := miniredis.RunT(t)
	rdbA := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdbA.Close()
	rdbB := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdbB.Close()

	hubA := NewHub(rdbA)
	defer hubA.Close()
	hubB := NewHub(rdbB)
	defer hubB.Close()
	<-hubA.ready
	<-hubB.ready

	local := hubA.Register("session-redis")
	defer hubA.Unregister(local)
	remote := hubB.Register("session-redis")
	defer hubB.Unregister(remote)

	hubA.Broadcast("session-redis", []byte(`{"type":"coordinate"}`))

	select {
	case msg := <-remote.Send:
		if string(msg) != `{"type":"coordinate"}` {
			t.Fatalf("unexpected relayed message %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for relayed message")
	}

	select {
	case <-local.Send:
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("expected local delivery")
	}
	select {
	case msg := <-local.Send:
		t.Fatalf("publisher must not receive its own relay: %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubRedisPublishError(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	server.Close()
	defer client.Close()

	hub := NewHub(client)
	defer hub.Close()
	clientNode := hub.Register("session-bad")
	defer hub.Unregister(clientNode)

	hub.Broadcast("session-bad", []byte("ping"))
	select {
	case <-clientNode.Send:
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("local delivery must survive redis failure")
	}
}

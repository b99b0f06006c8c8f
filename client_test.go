package main

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestClientSessionIDConcurrentAccess(t *testing.T) {
	hub := NewHub(testConfig(), nil)
	go hub.Run()
	defer hub.Shutdown()

	sess, err := hub.sessions.CreateSession("race", testConfig())
	if err != nil {
		t.Fatal(err)
	}
	c := NewClient(hub, nil, "10.0.0.9")
	hub.register <- c
	join, _ := json.Marshal(JoinMsg{SessionID: sess.ID})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			c.handleJoin(join)
			c.handleLeave()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if sid := c.SessionID(); sid != "" && sid != sess.ID {
				t.Errorf("unexpected session %q", sid)
				return
			}
		}
	}()
	wg.Wait()

	c.handleJoin(join)
	if c.SessionID() != sess.ID || sess.World.ViewerCount() != 1 {
		t.Fatalf("join failed: sid %q, viewers %d", c.SessionID(), sess.World.ViewerCount())
	}

	// the hub drops the viewer when the client goes away
	hub.unregister <- c
	deadline := time.Now().Add(2 * time.Second)
	for sess.World.ViewerCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("viewer not removed on unregister")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

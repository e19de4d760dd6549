package ws

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testDemux(t *testing.T) *Demux {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	return NewDemux(logger)
}

func TestDispatchMessageFrame(t *testing.T) {
	d := testDemux(t)
	raw := []byte(`{
		"type": "MESSAGE",
		"message": {
			"id": 101, "conversationId": 7, "senderId": 42, "kind": "USER",
			"content": "hello", "createdAt": "2026-08-30T12:00:00Z"
		},
		"timestamp": "2026-08-30T12:00:00Z"
	}`)

	if err := d.Dispatch(context.Background(), raw); err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-d.Messages():
		if m.ID != 101 || m.ConversationID != 7 || m.Content != "hello" {
			t.Errorf("message = %+v, want id 101 in convo 7", m)
		}
		if m.SenderID == nil || *m.SenderID != 42 {
			t.Error("sender id not preserved")
		}
		if !m.Synced {
			t.Error("server-delivered message should be synced")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestDispatchTypingFrame(t *testing.T) {
	d := testDemux(t)
	raw := []byte(`{"type": "TYPING", "typingUserId": 42, "typingUserName": "Ava", "timestamp": "2026-08-30T12:00:00Z"}`)

	if err := d.Dispatch(context.Background(), raw); err != nil {
		t.Fatal(err)
	}

	select {
	case u := <-d.Typing():
		if u.UserID != 42 || u.Name != "Ava" {
			t.Errorf("typing = %+v, want {42 Ava}", u)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for typing update")
	}
}

func TestDispatchPresenceFrames(t *testing.T) {
	d := testDemux(t)
	frames := [][]byte{
		[]byte(`{"type": "CONNECTED", "onlineUsers": [1, 2, 3], "timestamp": "t"}`),
		[]byte(`{"type": "USER_LEFT", "onlineUsers": [1, 2], "timestamp": "t"}`),
		[]byte(`{"type": "USER_JOINED", "onlineUsers": [1, 2, 9], "timestamp": "t"}`),
	}
	for _, raw := range frames {
		if err := d.Dispatch(context.Background(), raw); err != nil {
			t.Fatal(err)
		}
	}

	// Each presence event replaces the set wholesale.
	want := [][]int64{{1, 2, 3}, {1, 2}, {1, 2, 9}}
	for i := range want {
		select {
		case set := <-d.Presence():
			if len(set) != len(want[i]) {
				t.Errorf("presence[%d] = %v, want %v", i, set, want[i])
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for presence update")
		}
	}
}

func TestMalformedFrameDropped(t *testing.T) {
	d := testDemux(t)

	cases := [][]byte{
		[]byte(`not json at all`),
		[]byte(`{"type": "MESSAGE", "timestamp": "t"}`),               // message frame without payload
		[]byte(`{"type": "TYPING", "timestamp": "t"}`),                // typing frame without user
		[]byte(`{"type": "SOMETHING_NEW", "timestamp": "t"}`),         // unknown type
		[]byte(`{"type": "", "timestamp": "t"}`),                      // empty type
	}
	for _, raw := range cases {
		if err := d.Dispatch(context.Background(), raw); err != nil {
			t.Errorf("Dispatch(%q) error = %v, want frame dropped without error", raw, err)
		}
	}

	select {
	case m := <-d.Messages():
		t.Errorf("unexpected message from malformed frame: %+v", m)
	case <-time.After(50 * time.Millisecond):
		// Expected: nothing delivered, stream not terminated.
	}
}

func TestDrainDiscardsBuffered(t *testing.T) {
	d := testDemux(t)
	frames := [][]byte{
		[]byte(`{"type": "MESSAGE", "message": {"id": 1, "conversationId": 7, "senderId": 1, "kind": "USER", "content": "old", "createdAt": "2026-08-30T10:00:00Z"}, "timestamp": "t"}`),
		[]byte(`{"type": "TYPING", "typingUserId": 1, "timestamp": "t"}`),
		[]byte(`{"type": "CONNECTED", "onlineUsers": [1], "timestamp": "t"}`),
	}
	for _, raw := range frames {
		if err := d.Dispatch(context.Background(), raw); err != nil {
			t.Fatal(err)
		}
	}

	d.Drain()

	select {
	case m := <-d.Messages():
		t.Errorf("message survived drain: %+v", m)
	case u := <-d.Typing():
		t.Errorf("typing update survived drain: %+v", u)
	case p := <-d.Presence():
		t.Errorf("presence update survived drain: %v", p)
	case <-time.After(50 * time.Millisecond):
		// Expected: all channels empty.
	}
}

// TestBackpressureBlocksUntilCancelled verifies the producer suspends on a
// full channel rather than dropping, and that cancellation unblocks it.
func TestBackpressureBlocksUntilCancelled(t *testing.T) {
	d := testDemux(t)
	raw := []byte(`{"type": "TYPING", "typingUserId": 1, "timestamp": "t"}`)

	// Fill the typing channel to capacity.
	for i := 0; i < channelCap; i++ {
		if err := d.Dispatch(context.Background(), raw); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Dispatch(ctx, raw) }()

	select {
	case err := <-errCh:
		t.Fatalf("Dispatch returned %v, want it to block on the full channel", err)
	case <-time.After(100 * time.Millisecond):
		// Expected: blocked.
	}

	cancel()
	select {
	case err := <-errCh:
		if err == nil {
			t.Error("Dispatch after cancel should return the context error")
		}
	case <-time.After(time.Second):
		t.Fatal("Dispatch did not unblock on cancellation")
	}
}

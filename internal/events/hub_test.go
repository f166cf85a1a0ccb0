package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRingBufferKeepsNewest(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(TypeSMSLogged, SMSLogged{MessageID: string(rune('a' + i))})
	}

	snap := h.SnapshotSince(0)
	require.Len(t, snap, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{snap[0].ID, snap[1].ID, snap[2].ID})

	var p SMSLogged
	require.NoError(t, json.Unmarshal(snap[2].Data, &p))
	assert.Equal(t, "e", p.MessageID)

	assert.Len(t, h.SnapshotSince(4), 1)
	assert.Empty(t, h.SnapshotSince(5))
}

func TestHubNilDataIsEmptyObject(t *testing.T) {
	h := NewHub(0)
	h.Publish(TypeSMSRejected, nil)
	snap := h.SnapshotSince(0)
	require.Len(t, snap, 1)
	assert.JSONEq(t, `{}`, string(snap[0].Data))
}

func TestHubSubscribeAndCancel(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())

	h.Publish(TypeSMSRejected, SMSRejected{Code: "INVALID_KEY", Status: 401})

	select {
	case ev := <-ch:
		assert.Equal(t, TypeSMSRejected, ev.Type)
		var p SMSRejected
		require.NoError(t, json.Unmarshal(ev.Data, &p))
		assert.Equal(t, "INVALID_KEY", p.Code)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	cancel()
	assert.Equal(t, 0, h.Subscribers())
	_, ok := <-ch
	assert.False(t, ok, "channel closed after cancel")
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(10)
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			h.Publish(TypeSMSLogged, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestHubConcurrentPublishKeepsIDOrder(t *testing.T) {
	const publishers, perPublisher = 32, 50

	h := NewHub(publishers * perPublisher)
	ch, cancel := h.Subscribe()

	received := make(chan []int64, 1)
	go func() {
		var ids []int64
		for ev := range ch {
			ids = append(ids, ev.ID)
		}
		received <- ids
	}()

	var wg sync.WaitGroup
	start := make(chan struct{})
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < perPublisher; i++ {
				h.Publish(TypeSMSLogged, SMSLogged{MessageID: "m"})
			}
		}()
	}
	close(start)
	wg.Wait()
	cancel()

	ids := <-received
	require.NotEmpty(t, ids)
	for i := 1; i < len(ids); i++ {
		require.Greater(t, ids[i], ids[i-1], "subscriber saw id %d after %d", ids[i], ids[i-1])
	}

	snap := h.SnapshotSince(0)
	require.Len(t, snap, publishers*perPublisher)
	for i, ev := range snap {
		require.Equal(t, int64(i+1), ev.ID)
	}
}

package docsync

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func waitStorageEvent(t *testing.T, events chan *StorageEvent) *StorageEvent {
	select {
	case event := <-events:
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("no storage event")
		return nil
	}
}

func TestDirStorageShared(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	a, err := NewDirStorageWithDefaults(ctx, dir)
	assert.Equal(t, err, nil)
	defer a.Close()
	b, err := NewDirStorageWithDefaults(ctx, dir)
	assert.Equal(t, err, nil)
	defer b.Close()

	aEvents := make(chan *StorageEvent, 16)
	bEvents := make(chan *StorageEvent, 16)
	a.Subscribe(func(event *StorageEvent) {
		aEvents <- event
	})
	b.Subscribe(func(event *StorageEvent) {
		bEvents <- event
	})

	assert.Equal(t, a.Set("x_wff_token", "1"), nil)
	event := waitStorageEvent(t, bEvents)
	assert.Equal(t, event.Key, "x_wff_token")
	assert.Equal(t, event.Value, "1")
	assert.Equal(t, event.Removed, false)

	v, ok, err := b.Get("x_wff_token")
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)
	assert.Equal(t, v, "1")

	// set then remove right away is observed as both
	assert.Equal(t, a.Set(ExecJsSlot, "2"), nil)
	assert.Equal(t, a.Remove(ExecJsSlot), nil)
	event = waitStorageEvent(t, bEvents)
	assert.Equal(t, event.Key, ExecJsSlot)
	assert.Equal(t, event.Value, "2")
	event = waitStorageEvent(t, bEvents)
	assert.Equal(t, event.Key, ExecJsSlot)
	assert.Equal(t, event.Removed, true)

	assert.Equal(t, b.Set("y", "3"), nil)
	event = waitStorageEvent(t, aEvents)
	assert.Equal(t, event.Key, "y")

	keys, err := a.Keys()
	assert.Equal(t, err, nil)
	assert.Equal(t, keys, []string{"x_wff_token", "y"})

	// a handle does not see its own writes
	select {
	case event := <-aEvents:
		t.Fatalf("unexpected event %s", event.Key)
	case <-time.After(100 * time.Millisecond):
	}

	// removing an absent slot is a no-op
	assert.Equal(t, a.Remove("absent"), nil)
}

func TestDirStorageSync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	a, err := NewDirStorageWithDefaults(ctx, dir)
	assert.Equal(t, err, nil)
	defer a.Close()
	b, err := NewDirStorageWithDefaults(ctx, dir)
	assert.Equal(t, err, nil)
	defer b.Close()

	taskValues := DefaultTaskValues()
	aSender := &testSender{}
	aSync := NewStorageSync(a, taskValues, "a", "n1", aSender.send, nil)
	defer aSync.Close()

	forwarded := make(chan []byte, 16)
	bSync := NewStorageSync(b, taskValues, "b", "n2", func(message []byte) error {
		forwarded <- message
		return nil
	}, nil)
	defer bSync.Close()

	obj, err := NewBMObject(map[string]any{"k": "t", "v": "tok", "wt": "5", "id": 1.0})
	assert.Equal(t, err, nil)
	assert.Equal(t, aSync.HandleTask(TaskSetLSToken, obj), nil)

	select {
	case message := <-forwarded:
		code, records := decodeTask(t, taskValues, message)
		assert.Equal(t, code, TaskSetLSToken)
		items := tokenItems(t, taskValues, TaskSetLSToken, records)
		assert.Equal(t, items[0]["v"], "tok")
	case <-time.After(5 * time.Second):
		t.Fatal("token not forwarded")
	}
}

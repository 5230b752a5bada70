package depqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/networkop/ovsdb-vtep/internal/deviceinfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSubmit_RunsImmediatelyWhenDepsAlreadyMet(t *testing.T) {
	reg := deviceinfo.New(time.Minute)
	reg.UpdateDeviceOperData("LogicalSwitch", "L1", "u1", "payload")
	q := New(reg, 2)

	var ran bool
	var mu sync.Mutex
	Submit(context.Background(), q, &Job[string]{
		ID:      "job1",
		OperDeps: []Key{{Class: "LogicalSwitch", Key: "L1"}},
		Payload: "hello",
		Action: func(ctx context.Context, reg *deviceinfo.Registry, payload string) error {
			mu.Lock()
			ran = true
			mu.Unlock()
			return nil
		},
	})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran
	})
	assert.Equal(t, 0, q.Pending())
}

func TestSubmit_S5ParksUntilOperDataAvailable(t *testing.T) {
	reg := deviceinfo.New(time.Minute)
	q := New(reg, 2)

	var ran int
	var mu sync.Mutex
	Submit(context.Background(), q, &Job[string]{
		ID:      "job1",
		OperDeps: []Key{{Class: "LogicalSwitch", Key: "L1"}},
		Payload: "hello",
		Action: func(ctx context.Context, reg *deviceinfo.Registry, payload string) error {
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		},
	})

	require.Equal(t, 1, q.Pending())
	mu.Lock()
	assert.Equal(t, 0, ran)
	mu.Unlock()

	reg.UpdateDeviceOperData("LogicalSwitch", "L1", "u1", "payload")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran == 1
	})
	assert.Equal(t, 0, q.Pending())
}

func TestSubmit_LeavesQueueExactlyOnce(t *testing.T) {
	reg := deviceinfo.New(time.Minute)
	q := New(reg, 2)

	var runs int32
	var mu sync.Mutex
	Submit(context.Background(), q, &Job[struct{}]{
		ID:       "job1",
		ConfigDeps: []Key{{Class: "A", Key: "k"}},
		OperDeps:   []Key{{Class: "B", Key: "k"}},
		Action: func(ctx context.Context, reg *deviceinfo.Registry, _ struct{}) error {
			mu.Lock()
			runs++
			mu.Unlock()
			return nil
		},
	})

	reg.ConfirmConfigData("A", "k", "", nil)
	reg.UpdateDeviceOperData("B", "k", "", nil)
	reg.UpdateDeviceOperData("B", "k", "", nil) // redundant hook fire must not re-run a completed job

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs == 1
	})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, int32(1), runs)
	mu.Unlock()
}

func TestSubmit_StaysQueuedWhileInTransitUnexpired(t *testing.T) {
	reg := deviceinfo.New(time.Minute)
	reg.MarkKeyAsInTransit("LogicalSwitch", "L1")
	q := New(reg, 2)

	Submit(context.Background(), q, &Job[struct{}]{
		ID:       "job1",
		OperDeps: []Key{{Class: "LogicalSwitch", Key: "L1"}},
		Action:   func(ctx context.Context, reg *deviceinfo.Registry, _ struct{}) error { return nil },
	})

	assert.Equal(t, 1, q.Pending())
}

func TestStartExpirySweeper_ReplaysJobAfterTransitExpiry(t *testing.T) {
	reg := deviceinfo.New(5 * time.Millisecond)
	reg.MarkKeyAsInTransit("LogicalSwitch", "L1")
	q := New(reg, 2)

	var ran int32
	var mu sync.Mutex
	Submit(context.Background(), q, &Job[struct{}]{
		ID:       "job1",
		OperDeps: []Key{{Class: "LogicalSwitch", Key: "L1"}},
		Action: func(ctx context.Context, reg *deviceinfo.Registry, _ struct{}) error {
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		},
	})
	require.Equal(t, 1, q.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.StartExpirySweeper(ctx, 10*time.Millisecond)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran == 1
	})
	assert.Equal(t, 0, q.Pending())
}

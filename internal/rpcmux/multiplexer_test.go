package rpcmux

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/rpc2"
	"github.com/cenkalti/rpc2/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSink records every notification delivered to it, guarded by a mutex
// since dispatch runs on rpc2's own handler goroutine(s).
type testSink struct {
	mu      sync.Mutex
	updates [][]interface{}
	locked  [][]interface{}
	stolen  [][]interface{}
}

func (s *testSink) Update(_ interface{}, params []interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, params)
}

func (s *testSink) Locked(params []interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = append(s.locked, params)
}

func (s *testSink) Stolen(params []interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stolen = append(s.stolen, params)
}

func (s *testSink) counts() (updates, locked, stolen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates), len(s.locked), len(s.stolen)
}

// newTestPair wires a Multiplexer to one end of an in-memory pipe and a raw
// rpc2.Client to the other, playing the OVSDB server peer: rpc2 is
// full-duplex and symmetric, so the "server" side is just another rpc2
// client with its own method handlers and the ability to push notifications.
func newTestPair(t *testing.T) (*Multiplexer, *rpc2.Client) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	server := rpc2.NewClientWithCodec(jsonrpc.NewJSONCodec(serverConn))
	server.SetBlocking(true)
	go server.Run()
	t.Cleanup(server.Close)

	m := New(clientConn)
	t.Cleanup(m.Close)

	return m, server
}

func waitForCondition(t *testing.T, check func() bool) {
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

func TestCall_CorrelatesConcurrentRepliesById(t *testing.T) {
	m, server := newTestPair(t)
	server.Handle("sum", func(_ *rpc2.Client, args []int, reply *int) error {
		*reply = args[0] + args[1]
		return nil
	})

	var wg sync.WaitGroup
	cases := []struct {
		args []int
		want int
	}{
		{[]int{1, 2}, 3},
		{[]int{10, 20}, 30},
		{[]int{-5, 5}, 0},
	}
	results := make([]int, len(cases))
	errs := make([]error, len(cases))

	for i, c := range cases {
		wg.Add(1)
		go func(i int, args []int) {
			defer wg.Done()
			var reply int
			_, err := m.Call("sum", args, &reply).Wait(context.Background(), time.Second)
			results[i] = reply
			errs[i] = err
		}(i, c.args)
	}
	wg.Wait()

	for i, c := range cases {
		require.NoError(t, errs[i])
		assert.Equal(t, c.want, results[i])
	}
}

func TestRegisterSink_DispatchesNotifications(t *testing.T) {
	m, server := newTestPair(t)
	sink := &testSink{}
	m.RegisterSink(sink)

	require.NoError(t, server.Notify("update", []interface{}{"monitor-1", map[string]interface{}{}}))
	require.NoError(t, server.Notify("locked", []interface{}{"lock-1"}))
	require.NoError(t, server.Notify("stolen", []interface{}{"lock-1"}))

	waitForCondition(t, func() bool {
		updates, locked, stolen := sink.counts()
		return updates == 1 && locked == 1 && stolen == 1
	})
}

func TestRegisterSink_NoSinkRegisteredDropsNotification(t *testing.T) {
	m, server := newTestPair(t)

	require.NoError(t, server.Notify("locked", []interface{}{"lock-1"}))

	sink := &testSink{}
	m.RegisterSink(sink)
	require.NoError(t, server.Notify("locked", []interface{}{"lock-2"}))

	waitForCondition(t, func() bool {
		_, locked, _ := sink.counts()
		return locked == 1
	})
	_, locked, _ := sink.counts()
	assert.Equal(t, 1, locked)
}

func TestCall_TimeoutElapsesBeforeSlowHandlerReplies(t *testing.T) {
	m, server := newTestPair(t)
	server.Handle("slow", func(_ *rpc2.Client, args []interface{}, reply *[]interface{}) error {
		time.Sleep(200 * time.Millisecond)
		*reply = args
		return nil
	})

	var reply []interface{}
	start := time.Now()
	_, err := m.Call("slow", []interface{}{}, &reply).Wait(context.Background(), 20*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	var muxErr *Error
	require.ErrorAs(t, err, &muxErr)
	assert.Equal(t, KindTimeout, muxErr.Kind)
	assert.Less(t, elapsed, 150*time.Millisecond)
}

func TestClose_CompletesPendingCallsWithConnectionClosed(t *testing.T) {
	m, server := newTestPair(t)
	server.Handle("block", func(_ *rpc2.Client, args []interface{}, reply *[]interface{}) error {
		time.Sleep(500 * time.Millisecond)
		*reply = args
		return nil
	})

	var reply []interface{}
	future := m.Call("block", []interface{}{}, &reply)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Close()
	}()
	<-done

	_, err := future.Wait(context.Background(), NoTimeout)
	require.Error(t, err)
	var muxErr *Error
	require.ErrorAs(t, err, &muxErr)
	assert.Equal(t, KindConnectionClosed, muxErr.Kind)
}

func TestClose_IsIdempotent(t *testing.T) {
	m, _ := newTestPair(t)
	m.Close()
	assert.NotPanics(t, func() { m.Close() })
}

func TestCall_AfterCloseFailsImmediately(t *testing.T) {
	m, _ := newTestPair(t)
	m.Close()

	var reply []interface{}
	_, err := m.Call("echo", []interface{}{}, &reply).Wait(context.Background(), time.Second)
	require.Error(t, err)
	var muxErr *Error
	require.ErrorAs(t, err, &muxErr)
	assert.Equal(t, KindConnectionClosed, muxErr.Kind)
}

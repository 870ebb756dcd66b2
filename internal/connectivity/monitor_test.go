package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMonitor_Transitions(t *testing.T) {
	m := NewMonitor(true, nil)
	var seen []bool
	m.Subscribe(func(online bool) { seen = append(seen, online) })

	m.BecameOffline()
	assert.False(t, m.Online())

	m.BecameOffline()
	m.BecameOnline()
	m.BecameOnline()
	assert.True(t, m.Online())

	assert.Equal(t, []bool{false, true}, seen, "repeated signals are idempotent")
}

func TestMonitor_ApplyAndUnsubscribe(t *testing.T) {
	m := NewMonitor(false, nil)
	calls := 0
	unsubscribe := m.Subscribe(func(bool) { calls++ })

	m.Apply(SignalOnline)
	unsubscribe()
	m.Apply(SignalOffline)

	assert.Equal(t, 1, calls)
	assert.False(t, m.Online())

	_, ok := ParseSignal("flaky")
	assert.False(t, ok)
	sig, ok := ParseSignal("offline")
	assert.True(t, ok)
	assert.Equal(t, SignalOffline, sig)
}

func TestMonitor_ConcurrentSignals(t *testing.T) {
	m := NewMonitor(true, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); m.BecameOffline() }()
		go func() { defer wg.Done(); _ = m.Online() }()
	}
	wg.Wait()
	assert.False(t, m.Online())
}

func TestProber_ProbeOnce(t *testing.T) {
	m := NewMonitor(true, nil)
	var fail bool
	p := NewProber(m, func(context.Context) error {
		if fail {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	}, 0, nil)

	fail = true
	p.ProbeOnce(context.Background())
	assert.False(t, m.Online())

	fail = false
	p.ProbeOnce(context.Background())
	assert.True(t, m.Online())
}

func TestProber_RunStopsOnCancel(t *testing.T) {
	m := NewMonitor(false, nil)
	ctx, cancel := context.WithCancel(context.Background())
	p := NewProber(m, func(context.Context) error { cancel(); return nil }, 0, nil)

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	<-done
	assert.True(t, m.Online())
}

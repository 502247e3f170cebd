package workerpool_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jihwankim/tiermemctl/pkg/workerpool"
	"github.com/stretchr/testify/assert"
)

func TestWaitRunsExactlyKInvocations(t *testing.T) {
	p := workerpool.New(4)

	var count int32
	const k = 50
	for i := 0; i < k; i++ {
		p.Submit(func() { atomic.AddInt32(&count, 1) })
	}

	p.Wait()
	assert.EqualValues(t, k, atomic.LoadInt32(&count))
}

func TestWaitIsNonTerminal(t *testing.T) {
	p := workerpool.New(2)
	defer p.Shutdown()

	var first int32
	p.Submit(func() { atomic.AddInt32(&first, 1) })
	p.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&first))

	var second int32
	p.Submit(func() { atomic.AddInt32(&second, 1) })
	p.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&second))
}

func TestShutdownDrainsQueueThenJoins(t *testing.T) {
	p := workerpool.New(3)

	var count int32
	for i := 0; i < 10; i++ {
		p.Submit(func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&count, 1)
		})
	}

	p.Shutdown()
	assert.EqualValues(t, 10, atomic.LoadInt32(&count))
}

func TestConcurrentSubmitters(t *testing.T) {
	p := workerpool.New(4)
	defer p.Shutdown()

	var count int32
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			for j := 0; j < 25; j++ {
				p.Submit(func() { atomic.AddInt32(&count, 1) })
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	p.Wait()
	assert.EqualValues(t, 100, atomic.LoadInt32(&count))
}

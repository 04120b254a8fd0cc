package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSenderLocks_SameKeyBlocks(t *testing.T) {
	locks := newSenderLocks()
	unlock := locks.Lock("010")

	acquired := make(chan struct{})
	go func() {
		release := locks.Lock("010")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock on the same key must block")
	case <-time.After(30 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired")
	}
	require.Eventually(t, func() bool { return locks.size() == 0 }, time.Second, time.Millisecond)
}

func TestSenderLocks_DifferentKeysIndependent(t *testing.T) {
	locks := newSenderLocks()
	a := locks.Lock("010")
	b := locks.Lock("011")
	require.Equal(t, 2, locks.size())
	a()
	b()
	require.Zero(t, locks.size())
}

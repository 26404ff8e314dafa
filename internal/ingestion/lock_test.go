package ingestion

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRepoLockExcludesConcurrentAcquire(t *testing.T) {
	l := NewRepoLock(t.TempDir())

	release, err := l.Acquire("repo-1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		release2, err := l.Acquire("repo-1")
		require.NoError(t, err)
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire must block while first holds the lock")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	<-acquired
}

func TestRepoLockAllowsDifferentRepoIDsConcurrently(t *testing.T) {
	l := NewRepoLock(t.TempDir())
	var wg sync.WaitGroup
	for _, id := range []string{"repo-a", "repo-b", "repo-c"} {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(id)
			require.NoError(t, err)
			release()
		}()
	}
	wg.Wait()
}

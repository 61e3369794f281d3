package ids

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateULIDSortsByCreation(t *testing.T) {
	minted := make([]string, 64)
	for i := range minted {
		minted[i] = CreateULID()
		require.Len(t, minted[i], 26)
	}

	assert.True(t, sort.StringsAreSorted(minted))
	for i := 1; i < len(minted); i++ {
		assert.NotEqual(t, minted[i-1], minted[i])
	}
}

func TestCreateULIDConcurrent(t *testing.T) {
	var (
		wg   sync.WaitGroup
		lock sync.Mutex
		seen = map[string]struct{}{}
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				id := CreateULID()
				lock.Lock()
				seen[id] = struct{}{}
				lock.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 200)
}

func TestULIDTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	at, ok := ULIDTime(CreateULID())
	require.True(t, ok)
	assert.True(t, at.After(before))
	assert.True(t, at.Before(time.Now().Add(time.Second)))

	_, ok = ULIDTime("broken-1")
	assert.False(t, ok)
}

func TestCommentIDFromKey(t *testing.T) {
	key := uuid.New()
	assert.Equal(t, key, CommentIDFromKey(key.String()))

	for _, bad := range []string{"", "captcha-42", uuid.Nil.String()} {
		id := CommentIDFromKey(bad)
		assert.NotEqual(t, uuid.Nil, id, bad)
		assert.EqualValues(t, 4, id.Version(), bad)
	}
}

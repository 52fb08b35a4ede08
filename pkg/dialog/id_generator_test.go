package dialog

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCallID(t *testing.T) {
	id := GenerateCallID("10.0.0.1")
	require.True(t, strings.HasSuffix(id, "@10.0.0.1"))
	assert.NotEqual(t, id, GenerateCallID("10.0.0.1"))

	assert.NotContains(t, GenerateCallID(""), "@")
}

func TestGenerateTag(t *testing.T) {
	tag := GenerateTag()
	assert.Len(t, tag, 16)
	assert.NotContains(t, tag, "-")
	assert.NotEqual(t, tag, GenerateTag())
}

func TestGenerateBranch(t *testing.T) {
	branch := GenerateBranch()
	assert.True(t, strings.HasPrefix(branch, "z9hG4bK"))
	assert.Greater(t, len(branch), len("z9hG4bK"))
}

func TestGenerateListID(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	assert.Equal(t, "Id_1700000000123", GenerateListID(now))
}

// TestGeneratorsConcurrentUnique генераторы безопасны для горутин
func TestGeneratorsConcurrentUnique(t *testing.T) {
	const workers, perWorker = 8, 200

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, GenerateBranch())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}

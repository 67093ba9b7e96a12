package collate

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStub(t *testing.T) {
	c := NewStub()

	assert.Equal(t, "émile", c.Lower("Émile"))
	assert.True(t, c.PrimaryEqual("Émile", "emile"))
	assert.True(t, c.PrimaryContains("The Café, Paris", "cafe paris"))
	assert.False(t, c.PrimaryContains("Tea", "coffee"))
	assert.Equal(t, -1, c.Compare("apple", "Banana"))
	assert.Equal(t, c.SortKey("Zoë"), c.SortKey("zoe"))
}

func TestICU_Compare(t *testing.T) {
	c := New("en")

	words := []string{"zebra", "Émile", "apple", "emile", "Banana"}
	sort.SliceStable(words, func(i, j int) bool { return c.Compare(words[i], words[j]) < 0 })

	assert.Equal(t, "apple", words[0])
	assert.Equal(t, "Banana", words[1])
	assert.Equal(t, "zebra", words[len(words)-1])
}

func TestICU_SortKeyMatchesCompare(t *testing.T) {
	c := New("en")
	pairs := [][2]string{
		{"apple", "banana"},
		{"Apple", "apple"},
		{"resume", "résumé"},
		{"b", "A"},
	}
	for _, p := range pairs {
		cmp := c.Compare(p[0], p[1])
		ka, kb := c.SortKey(p[0]), c.SortKey(p[1])
		switch {
		case cmp < 0:
			assert.Less(t, ka, kb, "%q vs %q", p[0], p[1])
		case cmp > 0:
			assert.Greater(t, ka, kb, "%q vs %q", p[0], p[1])
		default:
			assert.Equal(t, ka, kb, "%q vs %q", p[0], p[1])
		}
	}
}

func TestICU_SortKeyIsPrimary(t *testing.T) {
	c := New("en")
	assert.Equal(t, c.SortKey("resume"), c.SortKey("Résumé"))
	assert.Equal(t, c.SortKey("Émile"), c.SortKey("emile"))
	assert.Equal(t, 0, c.Compare("Zoë", "zoe"))
	assert.Less(t, c.SortKey("emile"), c.SortKey("emily"))
}

func TestICU_Primary(t *testing.T) {
	c := New("en")

	assert.True(t, c.PrimaryEqual("Émile", "emile"))
	assert.False(t, c.PrimaryEqual("emile", "emily"))
	assert.True(t, c.PrimaryContains("Les Misérables", "miserables"))
	assert.True(t, c.PrimaryContains("Foundation", ""))
	assert.False(t, c.PrimaryContains("Foundation", "empire"))
}

func TestICU_Lower(t *testing.T) {
	assert.Equal(t, "straße", New("de").Lower("STRAßE"))
	assert.Equal(t, "ıi", New("tr").Lower("Iİ"))
}

func TestICU_Concurrent(t *testing.T) {
	c := New("en")
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_ = c.SortKey("Concurrent Access")
				_ = c.PrimaryContains("Concurrent Access", "access")
			}
		}()
	}
	wg.Wait()
}

func TestInvalidLocaleFallsBack(t *testing.T) {
	c := New("!!not a tag")
	assert.Equal(t, 0, c.Compare("a", "A"))
}

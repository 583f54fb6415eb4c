package scanning

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/leakwalk/internal/domain/scanning"
)

func TestCollector(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		res := NewCollector().Results()
		assert.Equal(t, 0, res.CommitsNumber)
		assert.NotNil(t, res.Outputs)
		assert.Empty(t, res.Outputs)
		assert.False(t, res.HasLeaks())
	})

	t.Run("batches in sequence order", func(t *testing.T) {
		t.Parallel()
		c := NewCollector()
		c.Add(2, []scanning.Leak{{Offender: "c1"}, {Offender: "c2"}})
		c.Add(0, []scanning.Leak{{Offender: "a"}})
		c.Add(1, nil)
		c.Warn(3, scanning.NewWarning(errors.New("late")))
		c.Warn(1, scanning.NewWarning(errors.New("early")))
		for range 4 {
			c.CommitVisited()
		}

		res := c.Results()
		assert.Equal(t, 4, res.CommitsNumber)
		require.Len(t, res.Outputs, 3)
		assert.Equal(t, []string{"a", "c1", "c2"}, []string{
			res.Outputs[0].Offender, res.Outputs[1].Offender, res.Outputs[2].Offender,
		})
		require.Len(t, res.Warnings, 2)
		assert.Equal(t, "early", res.Warnings[0].Message())
		assert.Equal(t, "late", res.Warnings[1].Message())
	})

	t.Run("concurrent use", func(t *testing.T) {
		t.Parallel()
		c := NewCollector()

		var wg sync.WaitGroup
		for seq := range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.CommitVisited()
				c.Add(seq, []scanning.Leak{{LineNumber: seq}})
			}()
		}
		wg.Wait()

		res := c.Results()
		assert.Equal(t, 50, res.CommitsNumber)
		assert.Equal(t, 50, c.CommitsVisited())
		for i, leak := range res.Outputs {
			assert.Equal(t, i, leak.LineNumber)
		}
	})
}

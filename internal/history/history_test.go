package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	events []Event
	err    error
	closed bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func TestFanoutSendsToAll(t *testing.T) {
	a, b := &memSink{}, &memSink{err: errors.New("down")}
	c := &memSink{}
	f := Fanout{a, b, c}

	e := Event{Type: EventRunFinished, OccurredAt: time.Now().UTC(), Record: RunRecord{RunID: "r1", Vendor: "falkordb"}}
	err := f.Send(context.Background(), e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Len(t, a.events, 1)
	assert.Len(t, c.events, 1)
	assert.Equal(t, "r1", c.events[0].Record.RunID)

	require.NoError(t, f.Close())
	assert.True(t, a.closed && b.closed && c.closed)
}

func TestEmptyFanout(t *testing.T) {
	assert.NoError(t, Fanout(nil).Send(context.Background(), Event{}))
	assert.NoError(t, Fanout(nil).Close())
}

package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubSendToUser(t *testing.T) {
	h := NewHub()
	a1 := NewClient("alice", nil)
	a2 := NewClient("alice", nil)
	b := NewClient("bob", nil)
	h.Register(a1)
	h.Register(a2)
	h.Register(b)
	assert.Equal(t, 2, h.Online("alice"))

	ok, err := h.SendJSON("alice", map[string]string{"type": "ping"})
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, `{"type":"ping"}`, string(<-a1.send))
	assert.Equal(t, `{"type":"ping"}`, string(<-a2.send))
	assert.Len(t, b.send, 0)
}

func TestHubDropsSlowClient(t *testing.T) {
	h := NewHub()
	c := NewClient("alice", nil)
	h.Register(c)
	for i := 0; i < sendBuffer; i++ {
		require.True(t, h.Send("alice", []byte("x")))
	}
	assert.False(t, h.Send("alice", []byte("overflow")))
	assert.Equal(t, 0, h.Online("alice"))
}

func TestHubUnknownUser(t *testing.T) {
	h := NewHub()
	assert.False(t, h.Send("ghost", []byte("x")))
	assert.False(t, h.Send("", []byte("x")))
}

func TestClientCloseIdempotent(t *testing.T) {
	c := NewClient("alice", nil)
	c.Close()
	c.Close()
	assert.False(t, c.enqueue([]byte("x")))
}

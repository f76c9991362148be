package simnet

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veluca93/distsim/pkg/rng"
)

// echoHandler records every message it receives and every StartMessage
// call, without replying -- enough to exercise SendMessage, hop counting
// and CheckEnqueue rejection without pulling in a real protocol package.
type echoHandler struct {
	BaseHandler[int]
	net     Network[int]
	id      NodeID
	reject  bool
	mu      sync.Mutex
	inbox   []Message[int]
	started []Message[int]
}

func (h *echoHandler) CheckEnqueue(Message[int]) bool { return !h.reject }

func (h *echoHandler) HandleMessage(msg Message[int]) {
	h.mu.Lock()
	h.inbox = append(h.inbox, msg)
	h.mu.Unlock()
}

func (h *echoHandler) StartMessage(msg Message[int]) {
	h.mu.Lock()
	h.started = append(h.started, msg)
	h.mu.Unlock()
}

func (h *echoHandler) snapshot() ([]Message[int], []Message[int]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message[int](nil), h.inbox...), append([]Message[int](nil), h.started...)
}

func newEcho(net Network[int], id NodeID, _ *rng.RNG) Handler[int] {
	return &echoHandler{net: net, id: id}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition never became true")
}

func TestDispatcherDeliversAndCountsHops(t *testing.T) {
	d := NewDispatcher[int](16, 4, 1)
	require.NoError(t, d.AddNode(0, newEcho))
	require.NoError(t, d.AddNode(1, newEcho))
	d.Run()
	defer d.Stop()

	require.NoError(t, d.SendMessage(0, 1, Message[int]{Payload: 42}))

	entry := d.nodes[1].handler.(*echoHandler)
	waitFor(t, func() bool {
		inbox, _ := entry.snapshot()
		return len(inbox) == 1
	})

	inbox, _ := entry.snapshot()
	assert.Equal(t, 42, inbox[0].Payload)
	assert.Equal(t, uint64(1), inbox[0].Hops)
}

func TestDispatcherRejectsUnknownNodes(t *testing.T) {
	d := NewDispatcher[int](4, 1, 2)
	require.NoError(t, d.AddNode(0, newEcho))
	d.Run()
	defer d.Stop()

	err := d.SendMessage(0, 3, Message[int]{})
	assert.Error(t, err)
}

func TestDispatcherCheckEnqueueRejectsMessage(t *testing.T) {
	d := NewDispatcher[int](4, 1, 3)
	require.NoError(t, d.AddNode(0, newEcho))
	require.NoError(t, d.AddNode(1, func(net Network[int], id NodeID, r *rng.RNG) Handler[int] {
		return &echoHandler{net: net, id: id, reject: true}
	}))
	d.Run()
	defer d.Stop()

	require.NoError(t, d.SendMessage(0, 1, Message[int]{Payload: 7}))
	time.Sleep(20 * time.Millisecond)

	entry := d.nodes[1].handler.(*echoHandler)
	inbox, _ := entry.snapshot()
	assert.Empty(t, inbox)
}

func TestDispatcherGenMessageInvokesStartMessage(t *testing.T) {
	d := NewDispatcher[int](4, 1, 4)
	require.NoError(t, d.AddNode(0, newEcho))
	d.Run()
	defer d.Stop()

	require.NoError(t, d.GenMessage(0, 99))
	entry := d.nodes[0].handler.(*echoHandler)
	_, started := entry.snapshot()
	require.Len(t, started, 1)
	assert.Equal(t, 99, started[0].Payload)
	assert.Equal(t, uint64(0), started[0].Hops)
}

func TestDispatcherGenIDAvoidsCollisions(t *testing.T) {
	d := NewDispatcher[int](8, 1, 5)
	seen := map[NodeID]bool{}
	for i := 0; i < 7; i++ {
		id, err := d.GenID()
		require.NoError(t, err)
		require.False(t, seen[id])
		seen[id] = true
		require.NoError(t, d.AddNode(id, newEcho))
	}
	_, err := d.GenID()
	assert.Error(t, err, "id space should be considered too full past 75%")
}

func TestDispatcherNextIDWraps(t *testing.T) {
	d := NewDispatcher[int](100, 1, 6)
	require.NoError(t, d.AddNode(5, newEcho))
	require.NoError(t, d.AddNode(20, newEcho))
	require.NoError(t, d.AddNode(90, newEcho))

	next, err := d.NextID(20)
	require.NoError(t, err)
	assert.Equal(t, NodeID(90), next)

	next, err = d.NextID(95)
	require.NoError(t, err)
	assert.Equal(t, NodeID(5), next, "must wrap around the ring")

	assert.True(t, d.HasBiggerID(5))
	assert.False(t, d.HasBiggerID(90))
}

func TestDispatcherFailRemovesNode(t *testing.T) {
	d := NewDispatcher[int](8, 1, 7)
	require.NoError(t, d.AddNode(0, newEcho))
	require.NoError(t, d.AddNode(1, newEcho))
	d.Run()
	defer d.Stop()

	require.NoError(t, d.Fail(1))
	err := d.SendMessage(0, 1, Message[int]{})
	assert.Error(t, err)
	assert.Equal(t, 1, d.NodeCount())
}

func TestDispatcherDelayedMessageWaitsForDueTime(t *testing.T) {
	d := NewDispatcher[int](4, 1, 8)
	require.NoError(t, d.AddNode(0, newEcho))
	require.NoError(t, d.AddNode(1, newEcho))
	d.Run()
	defer d.Stop()

	require.NoError(t, d.SendMessage(0, 1, Message[int]{Payload: 1, Delay: 30 * time.Millisecond}))
	entry := d.nodes[1].handler.(*echoHandler)

	time.Sleep(5 * time.Millisecond)
	inbox, _ := entry.snapshot()
	assert.Empty(t, inbox, "delayed message must not be delivered early")

	waitFor(t, func() bool {
		inbox, _ := entry.snapshot()
		return len(inbox) == 1
	})
}

func TestDispatcherQueuedMessagesCountsDelayedOnly(t *testing.T) {
	d := NewDispatcher[int](4, 1, 10)
	require.NoError(t, d.AddNode(0, newEcho))
	require.NoError(t, d.AddNode(1, newEcho))
	d.Run()
	defer d.Stop()

	require.NoError(t, d.SendMessage(0, 1, Message[int]{Payload: 1}))
	entry := d.nodes[1].handler.(*echoHandler)
	waitFor(t, func() bool {
		inbox, _ := entry.snapshot()
		return len(inbox) == 1
	})
	assert.Zero(t, d.QueuedMessages(), "an immediate message must never show up as queued")
	assert.Zero(t, d.AllMessages(), "an immediate message must never be counted at all")

	require.NoError(t, d.SendMessage(0, 1, Message[int]{Payload: 2, Delay: 50 * time.Millisecond}))
	assert.Equal(t, int64(1), d.QueuedMessages(), "a delayed message counts as queued until delivered")
	assert.Equal(t, int64(1), d.AllMessages())

	waitFor(t, func() bool {
		inbox, _ := entry.snapshot()
		return len(inbox) == 2
	})
	assert.Zero(t, d.QueuedMessages(), "queued_messages must return to 0 once every delayed message is delivered")
	assert.Equal(t, int64(1), d.AllMessages(), "all_messages is the cumulative count, it does not drop back down")
}

func TestDispatcherLinkFailDropsMessages(t *testing.T) {
	d := NewDispatcher[int](4, 1, 9, WithLinkFailChance[int](1.0))
	require.NoError(t, d.AddNode(0, newEcho))
	require.NoError(t, d.AddNode(1, newEcho))
	d.Run()
	defer d.Stop()

	require.NoError(t, d.SendMessage(0, 1, Message[int]{Payload: 1}))
	time.Sleep(20 * time.Millisecond)

	entry := d.nodes[1].handler.(*echoHandler)
	inbox, _ := entry.snapshot()
	assert.Empty(t, inbox, "link_fail_chance=1 must drop every message")
}

package correlator_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsarpub/internal/pub"
	"pulsarpub/internal/pub/correlator"
)

type result struct {
	msgID string
	err   error
}

type recorder struct {
	results map[uint64]result
	order   []uint64
}

func newRecorder() *recorder {
	return &recorder{results: make(map[uint64]result)}
}

func (r *recorder) callback(seq uint64) pub.Callback {
	return func(msgID string, err error) {
		r.results[seq] = result{msgID: msgID, err: err}
		r.order = append(r.order, seq)
	}
}

func receipt(seq, ledger, entry uint64) *pub.Response {
	return &pub.Response{
		Type: pub.CommandSendReceipt,
		Receipt: &pub.SendReceipt{
			SequenceID: seq,
			MessageID:  pub.MessageID{LedgerID: ledger, EntryID: entry, Partition: -1, BatchIndex: -1},
		},
	}
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func TestResolve_OutOfOrderAcks(t *testing.T) {
	c := correlator.New()
	rec := newRecorder()

	require.NoError(t, c.Register(1, 0, rec.callback(1)))
	require.NoError(t, c.Register(2, 0, rec.callback(2)))

	require.NoError(t, c.Resolve(receipt(2, 10, 1)))
	require.NoError(t, c.Resolve(receipt(1, 10, 0)))

	assert.Equal(t, []uint64{2, 1}, rec.order)
	assert.Equal(t, "10:1:0:-1", rec.results[2].msgID)
	assert.Equal(t, "10:0:0:-1", rec.results[1].msgID)
	assert.Zero(t, c.Len())
}

func TestResolve_AttachesPartition(t *testing.T) {
	c := correlator.New()
	rec := newRecorder()

	require.NoError(t, c.Register(5, 3, rec.callback(5)))
	require.NoError(t, c.Resolve(receipt(5, 7, 9)))

	id, err := pub.ParseMessageID(rec.results[5].msgID)
	require.NoError(t, err)
	assert.Equal(t, pub.MessageID{LedgerID: 7, EntryID: 9, Partition: 3, BatchIndex: -1}, id)
}

func TestResolve_UnknownSequence(t *testing.T) {
	c := correlator.New()
	rec := newRecorder()
	require.NoError(t, c.Register(1, 0, rec.callback(1)))

	err := c.Resolve(receipt(99, 1, 1))

	var corrErr *pub.CorrelationError
	require.True(t, errors.As(err, &corrErr))
	assert.Equal(t, uint64(99), corrErr.SequenceID)
	assert.ErrorIs(t, err, pub.ErrUnknownSequence)
	assert.Equal(t, []uint64{1}, c.Pending())
	assert.Empty(t, rec.order)
}

func TestResolve_EachEntryOnce(t *testing.T) {
	c := correlator.New()
	rec := newRecorder()
	require.NoError(t, c.Register(1, 0, rec.callback(1)))

	require.NoError(t, c.Resolve(receipt(1, 1, 1)))
	require.ErrorIs(t, c.Resolve(receipt(1, 1, 1)), pub.ErrUnknownSequence)
	assert.Len(t, rec.order, 1)
}

func TestResolve_SendError(t *testing.T) {
	c := correlator.New()
	rec := newRecorder()
	require.NoError(t, c.Register(4, 1, rec.callback(4)))

	err := c.Resolve(&pub.Response{
		Type:  pub.CommandSendError,
		Error: &pub.SendError{SequenceID: 4, Code: 10, Message: "checksum"},
	})
	require.NoError(t, err)

	var brokerErr *pub.BrokerError
	require.True(t, errors.As(rec.results[4].err, &brokerErr))
	assert.Equal(t, int32(10), brokerErr.Code)
	assert.Equal(t, "checksum", brokerErr.Message)
	assert.Empty(t, rec.results[4].msgID)
}

func TestResolve_EmptyResponse(t *testing.T) {
	c := correlator.New()
	require.ErrorIs(t, c.Resolve(&pub.Response{}), pub.ErrUnknownSequence)
	require.ErrorIs(t, c.Resolve(nil), pub.ErrUnknownSequence)
}

func TestRegister_Duplicate(t *testing.T) {
	c := correlator.New()
	require.NoError(t, c.Register(1, 0, nil))

	err := c.Register(1, 2, nil)
	require.ErrorIs(t, err, pub.ErrDuplicateSequence)
	assert.Equal(t, 1, c.Len())
}

func TestCallbackMayReenter(t *testing.T) {
	c := correlator.New()
	require.NoError(t, c.Register(1, 0, func(string, error) {
		assert.Zero(t, c.Len())
		require.NoError(t, c.Register(2, 0, nil))
	}))

	require.NoError(t, c.Resolve(receipt(1, 1, 1)))
	assert.Equal(t, []uint64{2}, c.Pending())
}

func TestRemove(t *testing.T) {
	c := correlator.New()
	called := false
	require.NoError(t, c.Register(1, 0, func(string, error) { called = true }))

	assert.True(t, c.Remove(1))
	assert.False(t, c.Remove(1))
	assert.False(t, called)
	assert.Zero(t, c.Len())
}

func TestResolve_LateAckAfterAbandon(t *testing.T) {
	c := correlator.New()
	called := false
	require.NoError(t, c.Register(1, 0, func(string, error) { called = true }))

	c.Abandon(1)
	assert.Zero(t, c.Len())

	err := c.Resolve(receipt(1, 1, 0))
	var corrErr *pub.CorrelationError
	require.True(t, errors.As(err, &corrErr))
	assert.Equal(t, uint64(1), corrErr.SequenceID)
	assert.ErrorIs(t, err, pub.ErrLateAck)
	assert.False(t, called)

	// Recognized once; a second acknowledgment is unknown again.
	assert.ErrorIs(t, c.Resolve(receipt(1, 1, 0)), pub.ErrUnknownSequence)
}

func TestAbandon_Unregistered(t *testing.T) {
	c := correlator.New()

	c.Abandon(9)
	assert.True(t, c.Discard(9))
	assert.False(t, c.Discard(9))
}

func TestExpire_AbandonsSequence(t *testing.T) {
	clk := &clock{now: time.Unix(1000, 0)}
	c := correlator.New(correlator.WithClock(clk.Now))
	rec := newRecorder()

	require.NoError(t, c.Register(4, 0, rec.callback(4)))
	clk.now = clk.now.Add(time.Minute)
	require.Equal(t, 1, c.Expire(time.Second))

	require.ErrorIs(t, c.Resolve(receipt(4, 1, 0)), pub.ErrLateAck)
	assert.Len(t, rec.results, 1)
}

func TestAbandon_Bounded(t *testing.T) {
	c := correlator.New()
	for seq := uint64(0); seq < 2000; seq++ {
		c.Abandon(seq)
	}

	assert.False(t, c.Discard(0))
	assert.True(t, c.Discard(1999))
}

func TestFailAll_DoesNotAbandon(t *testing.T) {
	c := correlator.New()
	require.NoError(t, c.Register(1, 0, nil))
	require.Equal(t, 1, c.FailAll(pub.ErrProducerClosed))

	assert.False(t, c.Discard(1))
}

func TestExpire(t *testing.T) {
	clk := &clock{now: time.Unix(1000, 0)}
	c := correlator.New(correlator.WithClock(clk.Now))
	rec := newRecorder()

	require.NoError(t, c.Register(1, 0, rec.callback(1)))
	clk.now = clk.now.Add(2 * time.Second)
	require.NoError(t, c.Register(2, 0, rec.callback(2)))

	oldest, ok := c.Oldest()
	require.True(t, ok)
	assert.Equal(t, time.Unix(1000, 0), oldest)

	clk.now = clk.now.Add(time.Second)
	assert.Equal(t, 1, c.Expire(3*time.Second))

	assert.ErrorIs(t, rec.results[1].err, pub.ErrAckTimeout)
	assert.Equal(t, []uint64{2}, c.Pending())
}

func TestFailAll(t *testing.T) {
	c := correlator.New()
	rec := newRecorder()
	for _, seq := range []uint64{3, 1, 2} {
		require.NoError(t, c.Register(seq, 0, rec.callback(seq)))
	}

	assert.Equal(t, 3, c.FailAll(pub.ErrProducerClosed))
	assert.Equal(t, []uint64{1, 2, 3}, rec.order)
	for _, r := range rec.results {
		assert.ErrorIs(t, r.err, pub.ErrProducerClosed)
	}

	_, ok := c.Oldest()
	assert.False(t, ok)
	assert.Empty(t, c.Pending())
}

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/payroute/internal/payment"
)

type fakeRedis struct {
	published  map[string][][]byte
	lists      map[string][][]byte
	publishErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{published: map[string][][]byte{}, lists: map[string][][]byte{}}
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	if f.publishErr != nil {
		return redis.NewIntResult(0, f.publishErr)
	}
	f.published[channel] = append(f.published[channel], message.([]byte))
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) RPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	for _, v := range values {
		f.lists[key] = append(f.lists[key], v.([]byte))
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) LTrim(_ context.Context, key string, start, stop int64) *redis.StatusCmd {
	l := f.lists[key]
	if start < 0 {
		start = max(int64(len(l))+start, 0)
	}
	if stop < 0 {
		stop = int64(len(l)) + stop
	}
	if start > stop || start >= int64(len(l)) {
		f.lists[key] = nil
	} else {
		f.lists[key] = l[start : stop+1]
	}
	return redis.NewStatusResult("OK", nil)
}

func TestRedisSink_PublishesAndTrimsBacklog(t *testing.T) {
	fake := newFakeRedis()
	sink := NewRedisSink(fake, "", 2)
	l := newTestLog(WithSink(sink))
	ctx := context.Background()

	for n := 1; n <= 3; n++ {
		l.Append(ctx, DecisionEvent(decision("pay_1", "stripe", n, payment.EffortLow)))
	}
	l.Close()

	require.Len(t, fake.published["payroute:audit"], 3)
	backlog := fake.lists[sink.BacklogKey()]
	require.Len(t, backlog, 2)

	var ev Event
	require.NoError(t, json.Unmarshal(backlog[1], &ev))
	assert.Equal(t, int64(3), ev.Seq)
	assert.Equal(t, "stripe", ev.Decision.Processor)
}

func TestRedisSink_NoBacklog(t *testing.T) {
	fake := newFakeRedis()
	sink := NewRedisSink(fake, "audit", 0)

	err := sink.Publish(context.Background(), OutcomeEvent("pay_1", Outcome{Status: "succeeded"}))
	require.NoError(t, err)
	assert.Len(t, fake.published["audit"], 1)
	assert.Empty(t, fake.lists)
}

func TestRedisSink_PublishError(t *testing.T) {
	fake := newFakeRedis()
	fake.publishErr = errors.New("connection refused")
	sink := NewRedisSink(fake, "audit", 10)

	err := sink.Publish(context.Background(), OutcomeEvent("pay_1", Outcome{Status: "succeeded"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, fake.lists)
}

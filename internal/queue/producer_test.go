package queue_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"basegraph.app/statetrail/internal/model"
	"basegraph.app/statetrail/internal/queue"
)

type fakeStream struct {
	args   []*redis.XAddArgs
	err    error
	closed bool
}

func (f *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, a)
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	return redis.NewStringResult("1700000000000-0", nil)
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

var _ = Describe("redis producer", func() {
	var (
		ctx    context.Context
		stream *fakeStream
		p      queue.Producer
		at     time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		stream = &fakeStream{}
		p = queue.NewRedisProducer(stream, "transitions", nil)
		at = time.Date(2024, 2, 2, 10, 30, 0, 0, time.UTC)
	})

	It("adds one stream entry per transition", func() {
		msg := queue.NewTransitionMessage(model.StateTransition{
			ID:         42,
			Identifier: "ENG-1",
			FromState:  "Todo",
			ToState:    "Done",
			Kind:       model.TransitionKindUpdated,
			OccurredAt: at,
		}, "trace-abc")

		Expect(p.Publish(ctx, msg)).To(Succeed())
		Expect(stream.args).To(HaveLen(1))
		Expect(stream.args[0].Stream).To(Equal("transitions"))
		Expect(stream.args[0].Values).To(Equal(map[string]any{
			"transition_id": "42",
			"identifier":    "ENG-1",
			"from_state":    "Todo",
			"to_state":      "Done",
			"kind":          "updated",
			"occurred_at":   "2024-02-02T10:30:00Z",
			"trace_id":      "trace-abc",
		}))
	})

	It("omits an empty trace id", func() {
		msg := queue.NewTransitionMessage(model.StateTransition{ID: 1, Identifier: "ENG-1", ToState: "Todo", OccurredAt: at}, "")
		Expect(msg.TraceID).To(BeNil())
		Expect(p.Publish(ctx, msg)).To(Succeed())
		Expect(stream.args[0].Values).NotTo(HaveKey("trace_id"))
	})

	It("wraps redis errors", func() {
		stream.err = errors.New("READONLY")
		err := p.Publish(ctx, queue.TransitionMessage{Identifier: "ENG-1"})
		Expect(err).To(MatchError(ContainSubstring("publish transition")))
	})

	It("closes the client", func() {
		Expect(p.Close()).To(Succeed())
		Expect(stream.closed).To(BeTrue())
	})
})

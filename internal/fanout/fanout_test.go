package fanout

import (
	"testing"

	"github.com/rishav/marketsim/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestRegistry_PublishDeliversToAllSubscribers(t *testing.T) {
	r := New()
	var got1, got2 []string

	r.Subscribe(func(sessionID string, ev model.Event) { got1 = append(got1, sessionID) })
	r.Subscribe(func(sessionID string, ev model.Event) { got2 = append(got2, sessionID) })

	r.Publish("s1", model.Event{Kind: model.EventTrade})

	assert.Equal(t, []string{"s1"}, got1)
	assert.Equal(t, []string{"s1"}, got2)
}

func TestRegistry_PublishWithNoSubscribersIsNoop(t *testing.T) {
	r := New()
	assert.NotPanics(t, func() { r.Publish("s1", model.Event{}) })
}

func TestRegistry_SubscribeDuringPublishDoesNotDeadlock(t *testing.T) {
	r := New()
	done := make(chan bool, 1)
	r.Subscribe(func(sessionID string, ev model.Event) {
		r.Subscribe(func(string, model.Event) {})
		done <- true
	})
	r.Publish("s1", model.Event{})
	assert.True(t, <-done)
	assert.Equal(t, 2, r.Count())
}

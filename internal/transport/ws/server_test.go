package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cardtable/lobby-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFeed считает живые подписки: Subscribe++ / release--.
type countingFeed struct {
	mu     sync.Mutex
	active int
	total  int
	events chan domain.Event
}

func newCountingFeed() *countingFeed {
	return &countingFeed{events: make(chan domain.Event, 8)}
}

func (f *countingFeed) Publish(_ context.Context, ev domain.Event) error {
	f.events <- ev
	return nil
}

func (f *countingFeed) Subscribe(_ context.Context, _ int64) (<-chan domain.Event, func(), error) {
	f.mu.Lock()
	f.active++
	f.total++
	f.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			f.mu.Lock()
			f.active--
			f.mu.Unlock()
		})
	}
	return f.events, release, nil
}

func (f *countingFeed) activeSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *countingFeed) totalSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

func newTestServer(feed *countingFeed) *Server {
	return NewServer(NewHub(), feed, nil, nil, nil, time.Second)
}

func TestPumpPerRoomRefcount(t *testing.T) {
	feed := newCountingFeed()
	s := newTestServer(feed)

	a := &stubConn{roomID: 1, userID: 10}
	b := &stubConn{roomID: 1, userID: 11}

	s.attach(a)
	assert.Eventually(t, func() bool { return feed.activeSubs() == 1 },
		time.Second, 5*time.Millisecond, "первый подписчик поднимает насос")

	// второй подписчик той же комнаты не плодит вторую подписку
	s.attach(b)
	assert.Equal(t, 1, feed.totalSubs())

	// уход не последнего насос не трогает
	s.detach(a)
	assert.Equal(t, 1, feed.activeSubs())

	s.detach(b)
	assert.Eventually(t, func() bool { return feed.activeSubs() == 0 },
		time.Second, 5*time.Millisecond, "последний ушедший гасит насос")
}

// Чередование «последний ушёл / новый пришёл» не должно ни терять
// насос (утечка подписки), ни гасить насос преемника.
func TestPumpChurnLeavesNoOrphans(t *testing.T) {
	feed := newCountingFeed()
	s := newTestServer(feed)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			c := &stubConn{roomID: 7, userID: uid}
			s.attach(c)
			s.detach(c)
		}(int64(i))
	}
	wg.Wait()

	// после ухода всех живых подписок не остаётся
	assert.Eventually(t, func() bool { return feed.activeSubs() == 0 },
		time.Second, 5*time.Millisecond)

	// свежий подписчик получает ровно одну живую подписку и события
	c := &stubConn{roomID: 7, userID: 1000}
	s.attach(c)
	assert.Eventually(t, func() bool { return feed.activeSubs() == 1 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, feed.Publish(context.Background(),
		domain.Event{RoomID: 7, Kind: domain.EventMemberJoined}))
	assert.Eventually(t, func() bool { return len(c.received()) == 1 },
		time.Second, 5*time.Millisecond, "насос преемника жив и ретранслирует")

	s.detach(c)
	assert.Eventually(t, func() bool { return feed.activeSubs() == 0 },
		time.Second, 5*time.Millisecond)
}

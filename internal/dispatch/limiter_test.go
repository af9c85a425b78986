package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadcrawler/internal/clock/system"
	"github.com/JakeFAU/leadcrawler/internal/crawler"
)

type mockChannel struct {
	mock.Mock
	name string
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Eligible(lead crawler.Lead) bool {
	return m.Called(lead).Bool(0)
}

func (m *mockChannel) Send(ctx context.Context, lead crawler.Lead) error {
	return m.Called(ctx, lead).Error(0)
}

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, d)
}

func emailLead(name string) crawler.Lead {
	return crawler.Lead{Name: name, Email: name + "@example.com"}
}

func newLimiter(limit int, pauser crawler.Pauser) *Limiter {
	counter := NewDailyCounter(limit, system.NewManual(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)))
	return New(counter, Config{MessageDelay: time.Minute}, WithPauser(pauser))
}

func TestDispatchStopsAtDailyCap(t *testing.T) {
	t.Parallel()

	email := &mockChannel{name: "email"}
	email.On("Eligible", mock.Anything).Return(true)
	email.On("Send", mock.Anything, mock.Anything).Return(nil)

	leads := []crawler.Lead{emailLead("a"), emailLead("b"), emailLead("c"), emailLead("d"), emailLead("e")}
	result := newLimiter(2, &recordingPauser{}).Dispatch(context.Background(), leads, []crawler.Channel{email})

	assert.Equal(t, crawler.DispatchResult{Success: 2}, result)
	email.AssertNumberOfCalls(t, "Send", 2)
	assert.True(t, leads[0].Processed)
	assert.True(t, leads[1].Processed)
	for _, l := range leads[2:] {
		assert.False(t, l.Processed, "leads past the cap are untouched")
	}
}

func TestDispatchFallsBackToNextChannel(t *testing.T) {
	t.Parallel()

	lead := crawler.Lead{Name: "a", Email: "a@example.com", ProfileURL: "https://social.example/a"}
	email := &mockChannel{name: "email"}
	email.On("Eligible", lead).Return(true)
	email.On("Send", mock.Anything, lead).Return(errors.New("550 mailbox unavailable"))
	dm := &mockChannel{name: "dm"}
	dm.On("Eligible", lead).Return(true)
	dm.On("Send", mock.Anything, lead).Return(nil)

	limiter := newLimiter(5, &recordingPauser{})
	result := limiter.Dispatch(context.Background(), []crawler.Lead{lead}, []crawler.Channel{email, dm})

	assert.Equal(t, crawler.DispatchResult{Success: 1}, result)
	email.AssertExpectations(t)
	dm.AssertExpectations(t)
	assert.Equal(t, 1, limiter.counter.Sent())
}

func TestDispatchClassifiesFailedAndSkipped(t *testing.T) {
	t.Parallel()

	failing := crawler.Lead{Name: "fail", Email: "f@example.com"}
	bare := crawler.Lead{Name: "bare"}
	email := &mockChannel{name: "email"}
	email.On("Eligible", failing).Return(true)
	email.On("Eligible", bare).Return(false)
	email.On("Send", mock.Anything, failing).Return(errors.New("timeout"))

	pauser := &recordingPauser{}
	limiter := newLimiter(5, pauser)
	leads := []crawler.Lead{failing, bare}
	result := limiter.Dispatch(context.Background(), leads, []crawler.Channel{email})

	assert.Equal(t, crawler.DispatchResult{Failed: 1, Skipped: 1}, result)
	assert.Equal(t, 2, result.Total())
	assert.True(t, leads[0].Processed)
	assert.True(t, leads[1].Processed)
	assert.Equal(t, 0, limiter.counter.Sent(), "failed sends do not consume quota")
	assert.Equal(t, []time.Duration{time.Minute}, pauser.delays)
}

func TestDispatchSharedCounterAcrossLimiters(t *testing.T) {
	t.Parallel()

	email := &mockChannel{name: "email"}
	email.On("Eligible", mock.Anything).Return(true)
	email.On("Send", mock.Anything, mock.Anything).Return(nil)

	counter := NewDailyCounter(3, system.New())
	var wg sync.WaitGroup
	results := make([]crawler.DispatchResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l := New(counter, Config{}, WithPauser(&recordingPauser{}))
			leads := []crawler.Lead{emailLead("x"), emailLead("y")}
			results[i] = l.Dispatch(context.Background(), leads, []crawler.Channel{email})
		}(i)
	}
	wg.Wait()

	total := 0
	for _, r := range results {
		total += r.Success
	}
	assert.Equal(t, 3, total)
	assert.Equal(t, 3, counter.Sent())
}

func TestDispatchWaitsForInFlightSendOnOtherLimiter(t *testing.T) {
	t.Parallel()

	counter := NewDailyCounter(1, system.New())
	inSend := make(chan struct{})
	unblock := make(chan struct{})

	slow := &mockChannel{name: "email"}
	slow.On("Eligible", mock.Anything).Return(true)
	slow.On("Send", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(inSend)
		<-unblock
	}).Return(errors.New("smtp timeout"))

	fast := &mockChannel{name: "email"}
	fast.On("Eligible", mock.Anything).Return(true)
	fast.On("Send", mock.Anything, mock.Anything).Return(nil)

	var (
		wg      sync.WaitGroup
		first   crawler.DispatchResult
		second  crawler.DispatchResult
		waiting = []crawler.Lead{emailLead("b1"), emailLead("b2")}
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		l := New(counter, Config{}, WithPauser(&recordingPauser{}))
		first = l.Dispatch(context.Background(), []crawler.Lead{emailLead("a")}, []crawler.Channel{slow})
	}()
	<-inSend
	require.Equal(t, 1, counter.Pending())

	wg.Add(1)
	go func() {
		defer wg.Done()
		l := New(counter, Config{}, WithPauser(&recordingPauser{}))
		second = l.Dispatch(context.Background(), waiting, []crawler.Channel{fast})
	}()
	time.Sleep(20 * time.Millisecond)
	close(unblock)
	wg.Wait()

	assert.Equal(t, crawler.DispatchResult{Failed: 1}, first)
	assert.Equal(t, crawler.DispatchResult{Success: 1}, second)
	assert.True(t, waiting[0].Processed)
	assert.False(t, waiting[1].Processed)
	assert.Equal(t, 1, counter.Sent())
	fast.AssertNumberOfCalls(t, "Send", 1)
}

func TestDispatchHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	email := &mockChannel{name: "email"}
	email.On("Eligible", mock.Anything).Return(true)
	email.On("Send", mock.Anything, mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(nil)

	leads := []crawler.Lead{emailLead("a"), emailLead("b")}
	result := newLimiter(5, &recordingPauser{}).Dispatch(ctx, leads, []crawler.Channel{email})

	require.Equal(t, 1, result.Success)
	assert.False(t, leads[1].Processed)
}

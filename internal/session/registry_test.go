package session

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pongd/internal/engine"
)

type recordedResult struct {
	winner, loser  string
	scoreW, scoreL int
}

type fakeResults struct {
	ch chan recordedResult
}

func newFakeResults() *fakeResults {
	return &fakeResults{ch: make(chan recordedResult, 4)}
}

func (f *fakeResults) ReportMatchResult(winnerID, loserID string, scoreW, scoreL int) error {
	f.ch <- recordedResult{winner: winnerID, loser: loserID, scoreW: scoreW, scoreL: scoreL}
	return nil
}

func testRegistry(results Results) *Registry {
	p := engine.DefaultParams()
	p.Countdown = 0
	return NewRegistry(p, results, zerolog.Nop())
}

func rankedPair(a, b string) []Participant {
	return []Participant{
		{Side: engine.Left, UserID: a, Name: a, Conn: &fakeConn{}},
		{Side: engine.Right, UserID: b, Name: b, Conn: &fakeConn{}},
	}
}

func TestCreateRejectsParticipantAlreadyInSession(t *testing.T) {
	r := testRegistry(newFakeResults())

	s1, err := r.Create(ModeRanked, rankedPair("u1", "u2"))
	require.NoError(t, err)
	defer s1.Shutdown("shutdown")

	_, err = r.Create(ModeRanked, rankedPair("u2", "u3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyInSession)

	// u3 was never mapped by the failed create.
	assert.False(t, r.InSession("u3"))
}

func TestEndIsIdempotent(t *testing.T) {
	r := testRegistry(newFakeResults())
	s, err := r.Create(ModeRanked, rankedPair("u1", "u2"))
	require.NoError(t, err)
	defer s.Shutdown("shutdown")

	r.End(s.ID)
	assert.False(t, r.InSession("u1"))
	r.End(s.ID) // second call is a no-op
	r.End("no-such-session")
}

func TestForfeitReportsResultAndEvicts(t *testing.T) {
	results := newFakeResults()
	r := testRegistry(results)
	s, err := r.Create(ModeRanked, rankedPair("u1", "u2"))
	require.NoError(t, err)

	s.Forfeit("u1")

	select {
	case rec := <-results.ch:
		assert.Equal(t, "u2", rec.winner)
		assert.Equal(t, "u1", rec.loser)
	case <-time.After(time.Second):
		t.Fatal("no result reported")
	}

	require.Eventually(t, func() bool {
		return !r.InSession("u1") && !r.InSession("u2")
	}, time.Second, 5*time.Millisecond)
}

func TestShutdownDoesNotReportResults(t *testing.T) {
	results := newFakeResults()
	r := testRegistry(results)
	_, err := r.Create(ModeRanked, rankedPair("u1", "u2"))
	require.NoError(t, err)

	r.Shutdown()

	select {
	case rec := <-results.ch:
		t.Fatalf("unexpected result report %+v", rec)
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, r.InSession("u1"))
}

func TestConcurrentCreateAndEnd(t *testing.T) {
	r := testRegistry(newFakeResults())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := string(rune('a' + i*2))
			b := string(rune('a' + i*2 + 1))
			s, err := r.Create(ModeRanked, rankedPair(a, b))
			if err != nil {
				return
			}
			s.Forfeit(a)
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.sessions) == 0 && len(r.byPlayer) == 0
	}, time.Second, 5*time.Millisecond)
}

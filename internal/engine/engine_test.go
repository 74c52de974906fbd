package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kipdesk/internal/config"
	"kipdesk/internal/db"
	"kipdesk/internal/domain"
	"kipdesk/internal/engine"
	"kipdesk/internal/metrics"
	"kipdesk/internal/migrate"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Clock   *clock
	Metrics *metrics.Metrics
}

// monday is 09:00 on Monday 4 March 2024 in Jakarta.
var monday = time.Date(2024, 3, 4, 2, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err, "open db")
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn), "migrate")

	cfg := config.Default("test office")
	eng := engine.New(conn, cfg)
	clk := &clock{now: monday}
	eng.Now = clk.Now
	eng.Metrics = metrics.New(prometheus.NewRegistry())
	ctx := context.Background()
	for _, u := range []domain.DirectoryEntry{
		{ID: "req-1", Role: "PEMOHON", DisplayName: "Sari"},
		{ID: "req-2", Role: "PEMOHON", DisplayName: "Budi"},
		{ID: "fo", Role: "PPID_UTAMA"},
		{ID: "cw-1", Role: "PPID_PELAKSANA"},
		{ID: "cw-2", Role: "PPID_PELAKSANA"},
		{ID: "sup", Role: "ATASAN_PPID"},
		{ID: "adm", Role: "ADMIN"},
	} {
		require.NoError(t, eng.Repo.UpsertUser(ctx, u, monday))
	}
	return testEnv{Engine: eng, Ctx: ctx, Clock: clk, Metrics: eng.Metrics}
}

func (env testEnv) request(t *testing.T, requester string) domain.Case {
	t.Helper()
	c, err := env.Engine.CreateRequest(env.Ctx, requester, engine.RequestDetails{
		Information: "2023 road maintenance budget",
		Purpose:     "research",
	})
	require.NoError(t, err)
	return c
}

func (env testEnv) move(t *testing.T, actor string, id int64, to domain.Status) domain.Case {
	t.Helper()
	c, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ActorID: actor, CaseID: id, Target: to})
	require.NoError(t, err, "%s -> %s", actor, to)
	require.Equal(t, to, c.Status)
	return c
}

func TestCreateRequest(t *testing.T) {
	env := newTestEnv(t)
	c := env.request(t, "req-1")
	assert.Equal(t, domain.StatusSubmitted, c.Status)
	assert.Equal(t, domain.KindRequest, c.Kind)
	assert.Equal(t, domain.DeliveryEmail, c.DeliveryMethod)
	assert.Nil(t, c.AssignedCaseWorkerID)

	_, err := env.Engine.CreateRequest(env.Ctx, "req-1", engine.RequestDetails{Purpose: "x"})
	assert.ErrorIs(t, err, engine.ErrValidation)
	var ve engine.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "information", ve.Field)

	_, err = env.Engine.CreateRequest(env.Ctx, "req-1", engine.RequestDetails{Information: "x", Purpose: "y", DeliveryMethod: "pigeon"})
	assert.ErrorIs(t, err, engine.ErrValidation)

	_, err = env.Engine.CreateRequest(env.Ctx, "fo", engine.RequestDetails{Information: "x", Purpose: "y"})
	assert.ErrorIs(t, err, engine.ErrAccessDenied)

	_, err = env.Engine.CreateRequest(env.Ctx, "ghost", engine.RequestDetails{Information: "x", Purpose: "y"})
	assert.ErrorIs(t, err, engine.ErrAccessDenied)
}

func TestLifecycleHappyPath(t *testing.T) {
	env := newTestEnv(t)
	c := env.request(t, "req-1")

	env.move(t, "fo", c.ID, domain.StatusForwarded)
	c = env.move(t, "cw-1", c.ID, domain.StatusInProgress)
	require.NotNil(t, c.AssignedCaseWorkerID)
	assert.Equal(t, "cw-1", *c.AssignedCaseWorkerID)

	env.move(t, "cw-1", c.ID, domain.StatusResponded)
	c = env.move(t, "cw-1", c.ID, domain.StatusCompleted)
	require.NotNil(t, c.CompletedAt)
	require.NotNil(t, c.EvidenceDueAt)
	assert.Equal(t, 30*24*time.Hour, c.EvidenceDueAt.Sub(*c.CompletedAt))

	msgs, err := env.Engine.ListMessages(env.Ctx, "req-1", c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MessageSystem, msgs[0].Kind)
	assert.Equal(t, "cw-1", msgs[0].AuthorID)
	assert.Equal(t, domain.RoleCaseWorker, msgs[0].AuthorRole)
	assert.Contains(t, msgs[0].Body, "3 April 2024")

	assert.Equal(t, 1.0, testutil.ToFloat64(env.Metrics.Claims.WithLabelValues("won")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.Metrics.Transitions.WithLabelValues("request", "completed")))
}

func TestTransitionOutsideTableConflicts(t *testing.T) {
	env := newTestEnv(t)
	c := env.request(t, "req-1")

	cases := []struct {
		actor string
		to    domain.Status
	}{
		{"fo", domain.StatusResponded},
		{"fo", domain.StatusCompleted},
		{"req-1", domain.StatusInProgress},
		{"sup", domain.StatusCompleted},
		{"fo", domain.StatusSubmitted},
	}
	for _, tc := range cases {
		_, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ActorID: tc.actor, CaseID: c.ID, Target: tc.to})
		var ce engine.ConflictingStateError
		require.ErrorAs(t, err, &ce, "%s -> %s", tc.actor, tc.to)
		assert.Equal(t, domain.StatusSubmitted, ce.Current)
		assert.Equal(t, tc.to, ce.Requested)
	}
	got, err := env.Engine.GetCase(env.Ctx, "adm", c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, got.Status)

	msgs, err := env.Engine.ListMessages(env.Ctx, "adm", c.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestTerminalStatesAreFinal(t *testing.T) {
	env := newTestEnv(t)
	c := env.request(t, "req-1")
	_, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ActorID: "sup", CaseID: c.ID, Target: domain.StatusRejected, Note: "out of scope"})
	require.NoError(t, err)

	for _, to := range []domain.Status{domain.StatusSubmitted, domain.StatusInProgress, domain.StatusCompleted} {
		_, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ActorID: "adm", CaseID: c.ID, Target: to})
		assert.ErrorIs(t, err, engine.ErrConflictingState)
	}
	msgs, err := env.Engine.ListMessages(env.Ctx, "req-1", c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body, "out of scope")
}

func TestAdministratorForcesTransition(t *testing.T) {
	env := newTestEnv(t)
	c := env.request(t, "req-1")
	env.move(t, "adm", c.ID, domain.StatusResponded)
	env.move(t, "adm", c.ID, domain.StatusSubmitted)
}

func TestVisibilityErrors(t *testing.T) {
	env := newTestEnv(t)
	c := env.request(t, "req-1")

	_, err := env.Engine.GetCase(env.Ctx, "req-2", c.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = env.Engine.GetCase(env.Ctx, "req-2", 9999)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	// Submitted cases are not yet visible to case workers.
	_, err = env.Engine.GetCase(env.Ctx, "cw-1", c.ID)
	assert.ErrorIs(t, err, engine.ErrAccessDenied)
	_, err = env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ActorID: "cw-1", CaseID: c.ID, Target: domain.StatusInProgress})
	assert.ErrorIs(t, err, engine.ErrAccessDenied)

	env.move(t, "fo", c.ID, domain.StatusForwarded)
	for _, cw := range []string{"cw-1", "cw-2"} {
		list, err := env.Engine.ListVisibleCases(env.Ctx, cw, domain.KindRequest, nil)
		require.NoError(t, err)
		require.Len(t, list, 1, cw)
	}
	_, err = env.Engine.PostMessage(env.Ctx, "cw-1", c.ID, "I'll take this one", domain.MessageOrdinary)
	require.NoError(t, err)

	list, err := env.Engine.ListVisibleCases(env.Ctx, "cw-2", domain.KindRequest, nil)
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = env.Engine.ListVisibleCases(env.Ctx, "sup", "", nil)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	forwarded := domain.StatusForwarded
	list, err = env.Engine.ListVisibleCases(env.Ctx, "req-1", domain.KindRequest, &forwarded)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = env.Engine.ListVisibleCases(env.Ctx, "req-2", domain.KindRequest, nil)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestForwardToNamedCaseWorker(t *testing.T) {
	env := newTestEnv(t)
	c := env.request(t, "req-1")

	_, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ActorID: "fo", CaseID: c.ID, Target: domain.StatusForwarded, AssigneeID: "sup"})
	assert.ErrorIs(t, err, engine.ErrValidation)

	c, err = env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ActorID: "fo", CaseID: c.ID, Target: domain.StatusForwarded, AssigneeID: "cw-2"})
	require.NoError(t, err)
	require.NotNil(t, c.AssignedCaseWorkerID)
	assert.Equal(t, "cw-2", *c.AssignedCaseWorkerID)

	_, err = env.Engine.PostMessage(env.Ctx, "cw-1", c.ID, "mine?", domain.MessageOrdinary)
	var aa engine.AlreadyAssignedError
	require.ErrorAs(t, err, &aa)
	assert.Equal(t, "cw-2", aa.AssignedTo)
}

func TestOversightReadOnlyOnceAssigned(t *testing.T) {
	env := newTestEnv(t)
	c := env.request(t, "req-1")
	_, err := env.Engine.PostMessage(env.Ctx, "fo", c.ID, "we received your request", domain.MessageOrdinary)
	require.NoError(t, err)

	env.move(t, "fo", c.ID, domain.StatusForwarded)
	env.move(t, "cw-1", c.ID, domain.StatusInProgress)
	_, err = env.Engine.PostMessage(env.Ctx, "sup", c.ID, "status?", domain.MessageOrdinary)
	assert.ErrorIs(t, err, engine.ErrAccessDenied)
	_, err = env.Engine.PostMessage(env.Ctx, "req-1", c.ID, "any news?", domain.MessageOrdinary)
	assert.NoError(t, err)
}

func TestMessageValidation(t *testing.T) {
	env := newTestEnv(t)
	c := env.request(t, "req-1")
	_, err := env.Engine.PostMessage(env.Ctx, "req-1", c.ID, "   ", domain.MessageOrdinary)
	assert.ErrorIs(t, err, engine.ErrValidation)
	_, err = env.Engine.PostMessage(env.Ctx, "req-1", c.ID, "hi", domain.MessageSystem)
	assert.ErrorIs(t, err, engine.ErrValidation)
	_, err = env.Engine.PostMessage(env.Ctx, "req-1", c.ID, "proof", domain.MessageEvidence)
	assert.ErrorIs(t, err, engine.ErrValidation)
	_, err = env.Engine.PostMessage(env.Ctx, "req-2", c.ID, "hi", domain.MessageOrdinary)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestCompletedThreadIsFrozen(t *testing.T) {
	env := newTestEnv(t)
	c := env.request(t, "req-1")
	env.move(t, "fo", c.ID, domain.StatusForwarded)
	env.move(t, "cw-1", c.ID, domain.StatusInProgress)
	env.move(t, "cw-1", c.ID, domain.StatusResponded)
	env.move(t, "cw-1", c.ID, domain.StatusCompleted)

	_, err := env.Engine.PostMessage(env.Ctx, "req-1", c.ID, "thanks", domain.MessageOrdinary)
	assert.ErrorIs(t, err, engine.ErrFrozenThread)
	_, err = env.Engine.PostMessage(env.Ctx, "cw-1", c.ID, "you're welcome", domain.MessageOrdinary)
	assert.ErrorIs(t, err, engine.ErrFrozenThread)
	_, err = env.Engine.PostMessage(env.Ctx, "cw-1", c.ID, "proof", domain.MessageEvidence)
	assert.ErrorIs(t, err, engine.ErrValidation)

	m, err := env.Engine.PostMessage(env.Ctx, "req-1", c.ID, "used for my thesis, chapter 3", domain.MessageEvidence)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageEvidence, m.Kind)

	msgs, err := env.Engine.ListMessages(env.Ctx, "cw-1", c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.MessageSystem, msgs[0].Kind)
	assert.Equal(t, domain.MessageEvidence, msgs[1].Kind)
}

func TestConcurrentClaimHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	c := env.request(t, "req-1")
	env.move(t, "fo", c.ID, domain.StatusForwarded)

	workers := []string{"cw-1", "cw-2"}
	errs := make([]error, len(workers))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w string) {
			defer wg.Done()
			<-start
			_, errs[i] = env.Engine.PostMessage(env.Ctx, w, c.ID, "claiming as "+w, domain.MessageOrdinary)
		}(i, w)
	}
	close(start)
	wg.Wait()

	winner := ""
	for i, err := range errs {
		if err == nil {
			require.Empty(t, winner, "two claims succeeded")
			winner = workers[i]
			continue
		}
		var aa engine.AlreadyAssignedError
		require.ErrorAs(t, err, &aa)
	}
	require.NotEmpty(t, winner)

	got, err := env.Engine.GetCase(env.Ctx, "adm", c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AssignedCaseWorkerID)
	assert.Equal(t, winner, *got.AssignedCaseWorkerID)

	msgs, err := env.Engine.ListMessages(env.Ctx, "adm", c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, winner, msgs[0].AuthorID)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.Metrics.Claims.WithLabelValues("won")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.Metrics.Claims.WithLabelValues("lost")))
}

func TestClaimCase(t *testing.T) {
	env := newTestEnv(t)
	c := env.request(t, "req-1")
	_, err := env.Engine.ClaimCase(env.Ctx, "cw-1", c.ID)
	assert.ErrorIs(t, err, engine.ErrAccessDenied)

	env.move(t, "fo", c.ID, domain.StatusForwarded)
	got, err := env.Engine.ClaimCase(env.Ctx, "cw-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusForwarded, got.Status)
	assert.Equal(t, "cw-1", *got.AssignedCaseWorkerID)

	_, err = env.Engine.ClaimCase(env.Ctx, "cw-2", c.ID)
	assert.ErrorIs(t, err, engine.ErrAlreadyAssigned)
	_, err = env.Engine.ClaimCase(env.Ctx, "fo", c.ID)
	assert.ErrorIs(t, err, engine.ErrAccessDenied)
}

func TestEscalationGate(t *testing.T) {
	env := newTestEnv(t)
	c := env.request(t, "req-1")

	// Working day 16: Tuesday of the fourth week.
	env.Clock.Set(monday.AddDate(0, 0, 22))
	el, err := env.Engine.CheckEscalation(env.Ctx, "req-1", c.ID)
	require.NoError(t, err)
	assert.False(t, el.Eligible)
	assert.Equal(t, 16, el.ElapsedWorkingDays)
	assert.Equal(t, 1, el.DaysRemaining)

	_, err = env.Engine.EscalateToObjection(env.Ctx, "req-1", c.ID, "no answer")
	var ne engine.NotEligibleError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, 1, ne.DaysRemaining)
	assert.True(t, engine.IsBusinessOutcome(err))
	assert.False(t, engine.IsRetryable(err))

	// Working day 17.
	env.Clock.Set(monday.AddDate(0, 0, 23))
	obj, err := env.Engine.EscalateToObjection(env.Ctx, "req-1", c.ID, "no answer")
	require.NoError(t, err)
	assert.Equal(t, domain.KindObjection, obj.Kind)
	assert.Equal(t, domain.StatusSubmitted, obj.Status)
	require.NotNil(t, obj.ParentRequestID)
	assert.Equal(t, c.ID, *obj.ParentRequestID)
	assert.Equal(t, "req-1", obj.RequesterID)

	_, err = env.Engine.EscalateToObjection(env.Ctx, "req-1", c.ID, "still no answer")
	assert.ErrorIs(t, err, engine.ErrAlreadyEscalated)
	assert.True(t, engine.IsBusinessOutcome(err))

	el, err = env.Engine.CheckEscalation(env.Ctx, "req-1", c.ID)
	require.NoError(t, err)
	assert.False(t, el.Eligible)
	require.NotNil(t, el.ActiveObjectionID)
	assert.Equal(t, obj.ID, *el.ActiveObjectionID)

	// Once the objection is closed a new one may be filed.
	env.move(t, "sup", obj.ID, domain.StatusRejected)
	_, err = env.Engine.EscalateToObjection(env.Ctx, "req-1", c.ID, "third time")
	require.NoError(t, err)
}

func TestEscalationErrors(t *testing.T) {
	env := newTestEnv(t)
	c := env.request(t, "req-1")
	env.Clock.Set(monday.AddDate(0, 0, 40))

	_, err := env.Engine.EscalateToObjection(env.Ctx, "req-2", c.ID, "why")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = env.Engine.EscalateToObjection(env.Ctx, "req-1", 4242, "why")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = env.Engine.EscalateToObjection(env.Ctx, "req-1", c.ID, "  ")
	assert.ErrorIs(t, err, engine.ErrValidation)
	_, err = env.Engine.EscalateToObjection(env.Ctx, "fo", c.ID, "why")
	assert.ErrorIs(t, err, engine.ErrAccessDenied)

	env.move(t, "sup", c.ID, domain.StatusRejected)
	_, err = env.Engine.EscalateToObjection(env.Ctx, "req-1", c.ID, "why")
	var ne engine.NotEligibleError
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Resolved)
	assert.Equal(t, 0, ne.DaysRemaining)
}

func TestNotificationCounts(t *testing.T) {
	env := newTestEnv(t)

	counts, err := env.Engine.GetNotificationCounts(env.Ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, engine.NotificationCounts{}, counts)

	c := env.request(t, "req-1")
	_, err = env.Engine.PostMessage(env.Ctx, "req-1", c.ID, "hello?", domain.MessageOrdinary)
	require.NoError(t, err)
	counts, err = env.Engine.GetNotificationCounts(env.Ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, 0, counts.RequestsPending)

	counts, err = env.Engine.GetNotificationCounts(env.Ctx, "fo")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.RequestsPending)

	env.move(t, "fo", c.ID, domain.StatusForwarded)
	counts, err = env.Engine.GetNotificationCounts(env.Ctx, "fo")
	require.NoError(t, err)
	assert.Equal(t, 0, counts.RequestsPending)

	// Last message is from the requester, so both claimable workers are notified.
	for _, cw := range []string{"cw-1", "cw-2"} {
		counts, err = env.Engine.GetNotificationCounts(env.Ctx, cw)
		require.NoError(t, err)
		assert.Equal(t, 1, counts.RequestsPending, cw)
	}

	_, err = env.Engine.PostMessage(env.Ctx, "cw-1", c.ID, "working on it", domain.MessageOrdinary)
	require.NoError(t, err)
	counts, err = env.Engine.GetNotificationCounts(env.Ctx, "cw-1")
	require.NoError(t, err)
	assert.Equal(t, 0, counts.RequestsPending)
	counts, err = env.Engine.GetNotificationCounts(env.Ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.RequestsPending)

	items, err := env.Engine.ListAttention(env.Ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, engine.ThreadAwaitingRequester, items[0].ThreadState)
	assert.Equal(t, 2, items[0].MessageCount)
}

func TestNewForwardedCaseNotifiesCaseWorkers(t *testing.T) {
	env := newTestEnv(t)
	c := env.request(t, "req-2")
	env.move(t, "fo", c.ID, domain.StatusForwarded)

	items, err := env.Engine.ListAttention(env.Ctx, "cw-2")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, engine.ThreadNoMessages, items[0].ThreadState)

	items, err = env.Engine.ListAttention(env.Ctx, "req-2")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestStorageFailureIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Engine.DB.Close())
	_, err := env.Engine.GetNotificationCounts(env.Ctx, "req-1")
	require.Error(t, err)
	assert.True(t, engine.IsRetryable(err))
	assert.True(t, errors.Is(err, engine.ErrStorageUnavailable))
}

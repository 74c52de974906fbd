package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kipdesk/internal/db"
	"kipdesk/internal/domain"
	"kipdesk/internal/engine/auth"
	"kipdesk/internal/migrate"
	"kipdesk/internal/repo"
)

func openRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}
}

func insert(t *testing.T, r repo.Repo, c domain.Case) int64 {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	id, err := r.InsertCaseTx(ctx, tx, c)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return id
}

func strp(s string) *string { return &s }

func TestScopeQueriesAgreeWithAllows(t *testing.T) {
	r := openRepo(t)
	base := time.Date(2024, 3, 4, 2, 0, 0, 0, time.UTC)
	var all []domain.Case
	i := 0
	for _, requester := range []string{"req-1", "req-2"} {
		for _, st := range domain.Statuses {
			for _, assignee := range []*string{nil, strp("cw-1"), strp("cw-2")} {
				at := base.Add(time.Duration(i) * time.Minute)
				i++
				c := domain.Case{
					Kind:                 domain.KindRequest,
					RequesterID:          requester,
					Status:               st,
					AssignedCaseWorkerID: assignee,
					Information:          "x",
					Purpose:              "y",
					CreatedAt:            at,
					UpdatedAt:            at,
				}
				c.ID = insert(t, r, c)
				all = append(all, c)
			}
		}
	}

	users := []domain.User{
		{ID: "req-1", Role: domain.RoleRequester},
		{ID: "cw-1", Role: domain.RoleCaseWorker},
		{ID: "cw-3", Role: domain.RoleCaseWorker},
		{ID: "fo", Role: domain.RoleFrontOffice},
		{ID: "sup", Role: domain.RoleSupervisor},
	}
	for _, u := range users {
		scope := auth.ScopeFor(u)
		got, err := r.ListCases(context.Background(), repo.CaseFilter{Scope: scope})
		require.NoError(t, err)
		var gotIDs, wantIDs []int64
		for _, c := range got {
			gotIDs = append(gotIDs, c.ID)
		}
		for _, c := range all {
			if scope.Allows(c) {
				wantIDs = append(wantIDs, c.ID)
				assert.True(t, auth.VisibilityOf(c, u).Visible(), "user %s case %d", u.ID, c.ID)
			}
		}
		assert.ElementsMatch(t, wantIDs, gotIDs, "user %s", u.ID)
	}
}

func TestClaimIsCompareAndSet(t *testing.T) {
	r := openRepo(t)
	now := time.Now().UTC()
	id := insert(t, r, domain.Case{Kind: domain.KindRequest, RequesterID: "req-1", Status: domain.StatusForwarded, Information: "x", Purpose: "y", CreatedAt: now, UpdatedAt: now})

	ctx := context.Background()
	for i, worker := range []string{"cw-1", "cw-2"} {
		tx, err := r.DB.BeginTx(ctx, nil)
		require.NoError(t, err)
		ok, err := r.ClaimTx(ctx, tx, id, worker, now)
		require.NoError(t, err)
		assert.Equal(t, i == 0, ok, worker)
		require.NoError(t, tx.Commit())
	}
	c, err := r.GetCase(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, c.AssignedCaseWorkerID)
	assert.Equal(t, "cw-1", *c.AssignedCaseWorkerID)
}

func TestOneActiveObjectionPerRequest(t *testing.T) {
	r := openRepo(t)
	now := time.Now().UTC()
	reqID := insert(t, r, domain.Case{Kind: domain.KindRequest, RequesterID: "req-1", Status: domain.StatusSubmitted, Information: "x", Purpose: "y", CreatedAt: now, UpdatedAt: now})
	obj := domain.Case{Kind: domain.KindObjection, RequesterID: "req-1", Status: domain.StatusSubmitted, ParentRequestID: &reqID, Reason: "late", CreatedAt: now, UpdatedAt: now}
	first := insert(t, r, obj)

	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = r.InsertCaseTx(ctx, tx, obj)
	assert.ErrorIs(t, err, repo.ErrDuplicate)
	require.NoError(t, tx.Rollback())

	active, err := r.ActiveObjection(ctx, reqID)
	require.NoError(t, err)
	assert.Equal(t, first, active.ID)

	_, err = r.ActiveObjection(ctx, first+100)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestTimeLayoutSortsLexically(t *testing.T) {
	a := time.Date(2024, 3, 4, 2, 0, 0, 5, time.UTC)
	b := a.Add(time.Second)
	assert.Less(t, repo.FormatTime(a), repo.FormatTime(b))
	parsed, err := repo.ParseTime(repo.FormatTime(a))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(a))
}

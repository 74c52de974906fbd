package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"kipdesk/internal/config"
	"kipdesk/internal/domain"
	"kipdesk/internal/engine/auth"
	"kipdesk/internal/events"
	"kipdesk/internal/metrics"
	"kipdesk/internal/repo"
	"kipdesk/internal/workday"
)

// UserDirectory resolves an actor id to a classified user.
type UserDirectory interface {
	ResolveUser(ctx context.Context, id string) (domain.User, error)
}

// Engine runs case lifecycle commands. Each call is one unit of work against
// the case store; the engine keeps no state between calls.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Users    UserDirectory
	Events   events.Writer
	Config   *config.Config
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Workdays workday.Calculator
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	cal, err := workday.New(cfg.Timezone())
	if err != nil {
		slog.Warn("office timezone unavailable, counting working days in UTC", "timezone", cfg.Timezone(), "err", err)
	}
	return Engine{
		DB:       db,
		Repo:     r,
		Users:    r,
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Workdays: cal,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) eventWriter() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

func (e Engine) observe(op string, started time.Time) {
	e.Metrics.ObserveOperation(op, time.Since(started))
}

func (e Engine) directory() UserDirectory {
	if e.Users != nil {
		return e.Users
	}
	return e.Repo
}

// resolveActor looks the caller up in the user directory. Unknown callers are
// denied rather than reported as missing.
func (e Engine) resolveActor(ctx context.Context, actorID string) (domain.User, error) {
	if actorID == "" {
		return domain.User{}, invalid("actor_id", "required")
	}
	u, err := e.directory().ResolveUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, errors.Join(ErrAccessDenied, errors.New("unknown user "+actorID))
		}
		return domain.User{}, storage("resolve user", err)
	}
	return u, nil
}

// hidden returns the error for a case the user cannot see. Requesters get
// NotFound so that probing ids does not confirm that a case exists.
func hidden(u domain.User) error {
	if u.Role == domain.RoleRequester {
		return ErrNotFound
	}
	return denied(u.Role, "view this case")
}

// GetCase returns a case the actor may see.
func (e Engine) GetCase(ctx context.Context, actorID string, caseID int64) (domain.Case, error) {
	u, err := e.resolveActor(ctx, actorID)
	if err != nil {
		return domain.Case{}, err
	}
	c, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return domain.Case{}, lookup("get case", err)
	}
	if !auth.VisibilityOf(c, u).Visible() {
		return domain.Case{}, hidden(u)
	}
	return c, nil
}

// ListMessages returns the thread of a case the actor may see, oldest first.
func (e Engine) ListMessages(ctx context.Context, actorID string, caseID int64) ([]domain.Message, error) {
	if _, err := e.GetCase(ctx, actorID, caseID); err != nil {
		return nil, err
	}
	msgs, err := e.Repo.ListMessages(ctx, caseID)
	if err != nil {
		return nil, storage("list messages", err)
	}
	return msgs, nil
}

// ListVisibleCases returns cases of a kind within the actor's visibility. An
// empty kind lists both kinds.
func (e Engine) ListVisibleCases(ctx context.Context, actorID string, kind domain.CaseKind, status *domain.Status) ([]domain.Case, error) {
	u, err := e.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if kind != "" && kind != domain.KindRequest && kind != domain.KindObjection {
		return nil, invalid("kind", "must be request or objection")
	}
	if status != nil {
		if _, err := domain.ParseStatus(string(*status)); err != nil {
			return nil, invalid("status", err.Error())
		}
	}
	cases, err := e.Repo.ListCases(ctx, repo.CaseFilter{Kind: kind, Status: status, Scope: auth.ScopeFor(u)})
	if err != nil {
		return nil, storage("list cases", err)
	}
	return cases, nil
}

package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"issueflow/internal/apperr"
	"issueflow/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrVersionConflict - запись изменили параллельно, транзакцию нужно повторить.
	ErrVersionConflict = errors.New("version conflict")
	// ErrUniqueViolation - нарушен уникальный индекс.
	ErrUniqueViolation = errors.New("unique violation")
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Repository - операции хранилища, доступные внутри транзакции и вне ее.
type Repository interface {
	CreateIssue(ctx context.Context, i *models.Issue) error
	GetIssue(ctx context.Context, id int64) (*models.Issue, error)
	UpdateIssue(ctx context.Context, i *models.Issue) error
	ListIssues(ctx context.Context, f IssueFilter) ([]models.IssueSummary, error)

	CreateAssignment(ctx context.Context, a *models.Assignment) error
	ListAssignments(ctx context.Context, issueID int64) ([]models.Assignment, error)

	CreateTender(ctx context.Context, t *models.Tender) error
	GetTender(ctx context.Context, id int64) (*models.Tender, error)
	GetActiveTenderForIssue(ctx context.Context, issueID int64) (*models.Tender, error)
	ListTenders(ctx context.Context, f TenderFilter) ([]models.Tender, error)
	SetTenderStatus(ctx context.Context, id int64, from []models.TenderStatus, to models.TenderStatus) (bool, error)
	AwardTender(ctx context.Context, id, contractorID int64, amount float64) (bool, error)

	CreateBid(ctx context.Context, b *models.Bid) error
	GetBid(ctx context.Context, id int64) (*models.Bid, error)
	ListBids(ctx context.Context, tenderID int64) ([]models.Bid, error)
	SetBidStatus(ctx context.Context, id int64, from, to models.BidStatus) (bool, error)
	RejectSubmittedBids(ctx context.Context, tenderID, exceptBidID int64) (int64, error)

	CreateWorkProgress(ctx context.Context, p *models.WorkProgress) error
	GetWorkProgress(ctx context.Context, id int64) (*models.WorkProgress, error)
	ListWorkProgress(ctx context.Context, tenderID int64) ([]models.WorkProgress, error)
	ReviewWorkProgress(ctx context.Context, id int64, to models.ReviewStatus, verifiedBy int64, notes string) (bool, error)
	HasCompletion(ctx context.Context, tenderID int64, status models.ReviewStatus) (bool, error)

	CreateProfile(ctx context.Context, p *Profile) error
	CreatePost(ctx context.Context, p *Post) error
	ActivityRows(ctx context.Context, since time.Time) ([]models.ActivityRow, error)
}

// Repo реализует Repository поверх *sqlx.DB или *sqlx.Tx.
type Repo struct {
	q   sqlx.ExtContext
	now func() time.Time
}

var _ Repository = (*Repo)(nil)

// Storage - хранилище сущностей
type Storage struct {
	*Repo
	db         *sqlx.DB
	maxRetries uint64
}

type Option func(*Storage)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Storage) { s.Repo.now = now }
}

// WithMaxRetries задает число повторов транзакции при конфликте версий.
func WithMaxRetries(n uint64) Option {
	return func(s *Storage) { s.maxRetries = n }
}

func NewStorage(db *sqlx.DB, opts ...Option) *Storage {
	s := &Storage{
		Repo:       &Repo{q: db, now: time.Now},
		db:         db,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open подключается к базе. Для sqlite соединение одно: записи в SQLite все равно идут по очереди.
func Open(ctx context.Context, driverName, dsn string) (*sqlx.DB, error) {
	conn, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	if driverName == "sqlite" {
		conn.SetMaxOpenConns(1)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping %s: %w", driverName, err)
	}
	return conn, nil
}

func (s *Storage) DB() *sqlx.DB { return s.db }

func (s *Storage) Close() error { return s.db.Close() }

// Tx выполняет fn в одной транзакции. При конфликте версий или недоступности
// хранилища транзакция повторяется целиком, fn должна быть готова к повтору.
func (s *Storage) Tx(ctx context.Context, fn func(r Repository) error) error {
	b := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(10*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := s.runTx(ctx, fn)
		if errors.Is(err, ErrVersionConflict) || apperr.Retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *Storage) runTx(ctx context.Context, fn func(r Repository) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(err, "begin transaction")
	}
	if err := fn(&Repo{q: tx, now: s.Repo.now}); err != nil {
		return multierr.Append(err, ignoreDone(tx.Rollback()))
	}
	if err := tx.Commit(); err != nil {
		return classify(err, "commit transaction")
	}
	return nil
}

func ignoreDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (r *Repo) stamp() time.Time {
	return r.now().UTC()
}

func (r *Repo) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, r.q, dest, r.q.Rebind(query), args...)
}

func (r *Repo) sel(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, r.q, dest, r.q.Rebind(query), args...)
}

func (r *Repo) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repo) insert(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	err := r.q.QueryRowxContext(ctx, r.q.Rebind(query), args...).Scan(&id)
	return id, err
}

// notFound превращает sql.ErrNoRows в ошибку NotFound.
func notFound(err error, entity string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.NotFound, "%s %d not found", entity, id)
	}
	return classify(err, "get "+entity)
}

// classify помечает ошибки соединения как повторяемые.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	var sqErr *sqlite.Error
	switch {
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone), errors.As(err, &netErr):
		return apperr.Wrap(apperr.Unavailable, err, "entity store unavailable during %s", op)
	case errors.As(err, &sqErr) && (sqErr.Code() == sqlite3.SQLITE_BUSY || sqErr.Code() == sqlite3.SQLITE_LOCKED):
		return apperr.Wrap(apperr.Unavailable, err, "entity store busy during %s", op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

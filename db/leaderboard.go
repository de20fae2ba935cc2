package db

import (
	"context"
	"strings"
	"time"

	"issueflow/models"
)

// Profile - участник (житель, администратор, подрядчик)
type Profile struct {
	ID          int64     `db:"id" json:"id"`
	DisplayName string    `db:"display_name" json:"displayName"`
	TotalScore  int       `db:"total_score" json:"totalScore"`
	Badges      string    `db:"badges" json:"badges"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// Post - публикация в ленте сообщества
type Post struct {
	ID        int64     `db:"id" json:"id"`
	AuthorID  int64     `db:"author_id" json:"authorId"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

func (r *Repo) CreateProfile(ctx context.Context, p *Profile) error {
	p.CreatedAt = r.stamp()
	query := `
        INSERT INTO profile (display_name, total_score, badges, created_at)
        VALUES (?, ?, ?, ?)
        RETURNING id`
	id, err := r.insert(ctx, query, p.DisplayName, p.TotalScore, p.Badges, p.CreatedAt)
	if err != nil {
		return classify(err, "create profile")
	}
	p.ID = id
	return nil
}

func (r *Repo) CreatePost(ctx context.Context, p *Post) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.stamp()
	}
	p.CreatedAt = p.CreatedAt.UTC()
	query := `
        INSERT INTO post (author_id, body, created_at)
        VALUES (?, ?, ?)
        RETURNING id`
	id, err := r.insert(ctx, query, p.AuthorID, p.Body, p.CreatedAt)
	if err != nil {
		return classify(err, "create post")
	}
	p.ID = id
	return nil
}

type activityRecord struct {
	UserID         int64  `db:"user_id"`
	DisplayName    string `db:"display_name"`
	TotalScore     int    `db:"total_score"`
	Badges         string `db:"badges"`
	IssuesReported int    `db:"issues_reported"`
	PostsCreated   int    `db:"posts_created"`
}

// ActivityRows - сырые строки активности с момента since: по строке на каждое
// обращение и каждую публикацию. Строки одного участника повторяются.
func (r *Repo) ActivityRows(ctx context.Context, since time.Time) ([]models.ActivityRow, error) {
	query := `
        SELECT p.id AS user_id, p.display_name, p.total_score, p.badges,
            1 AS issues_reported, 0 AS posts_created
        FROM profile p
        JOIN issue i ON i.reporter_id = p.id
        WHERE i.created_at >= ?
        UNION ALL
        SELECT p.id AS user_id, p.display_name, p.total_score, p.badges,
            0 AS issues_reported, 1 AS posts_created
        FROM profile p
        JOIN post o ON o.author_id = p.id
        WHERE o.created_at >= ?
        ORDER BY user_id`
	records := []activityRecord{}
	since = since.UTC()
	if err := r.sel(ctx, &records, query, since, since); err != nil {
		return nil, classify(err, "select activity rows")
	}
	out := make([]models.ActivityRow, len(records))
	for n, rec := range records {
		out[n] = rec.row()
	}
	return out, nil
}

// row приводит запись хранилища к фиксированной схеме агрегатора.
func (a activityRecord) row() models.ActivityRow {
	return models.ActivityRow{
		UserID:         a.UserID,
		DisplayName:    a.DisplayName,
		TotalScore:     a.TotalScore,
		IssuesReported: a.IssuesReported,
		PostsCreated:   a.PostsCreated,
		Badges:         splitBadges(a.Badges),
	}
}

func splitBadges(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

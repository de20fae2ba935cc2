// Package leaderboard строит рейтинг участников по активности за период.
package leaderboard

import (
	"cmp"
	"context"
	"math"
	"slices"
	"time"

	"issueflow/internal/apperr"
	"issueflow/models"
)

// PodiumSize - сколько первых мест выводится отдельно.
const PodiumSize = 3

// Period - окно рейтинга, отсчитывается назад от текущего момента.
type Period string

const (
	Week    Period = "week"
	Month   Period = "month"
	Quarter Period = "quarter"
	Year    Period = "year"
)

// ParsePeriod разбирает период из запроса; пустая строка - неделя.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case "":
		return Week, nil
	case Week, Month, Quarter, Year:
		return p, nil
	default:
		return "", apperr.New(apperr.InvalidInput, "unknown leaderboard period %q", s)
	}
}

// Since возвращает начало окна для периода.
func Since(p Period, now time.Time) time.Time {
	now = now.UTC()
	switch p {
	case Month:
		return now.AddDate(0, -1, 0)
	case Quarter:
		return now.AddDate(0, -3, 0)
	case Year:
		return now.AddDate(-1, 0, 0)
	default:
		return now.AddDate(0, 0, -7)
	}
}

// Aggregate сводит строки активности в рейтинг.
//
// Строки одного участника объединяются: счетчики суммируются, берется
// наибольший total_score, значки объединяются без повторов. Участники
// упорядочиваются по total_score по убыванию; при равенстве сохраняется
// порядок первого появления во входных строках.
func Aggregate(rows []models.ActivityRow) (podium, ranked []models.LeaderboardEntry, stats models.LeaderboardStats) {
	var (
		order []int64
		byID  = make(map[int64]*models.LeaderboardEntry, len(rows))
	)
	for _, row := range rows {
		e, ok := byID[row.UserID]
		if !ok {
			e = &models.LeaderboardEntry{
				ID:          row.UserID,
				DisplayName: row.DisplayName,
				TotalScore:  row.TotalScore,
				Badges:      []string{},
			}
			byID[row.UserID] = e
			order = append(order, row.UserID)
		}
		if row.TotalScore > e.TotalScore {
			e.TotalScore = row.TotalScore
		}
		if e.DisplayName == "" {
			e.DisplayName = row.DisplayName
		}
		e.IssuesReported += row.IssuesReported
		e.PostsCreated += row.PostsCreated
		for _, b := range row.Badges {
			if !slices.Contains(e.Badges, b) {
				e.Badges = append(e.Badges, b)
			}
		}
	}

	all := make([]models.LeaderboardEntry, 0, len(order))
	for _, id := range order {
		all = append(all, *byID[id])
	}
	slices.SortStableFunc(all, func(a, b models.LeaderboardEntry) int {
		return cmp.Compare(b.TotalScore, a.TotalScore)
	})

	var scoreSum int
	for i := range all {
		all[i].Rank = i + 1
		scoreSum += all[i].TotalScore
		stats.TotalIssues += all[i].IssuesReported
		stats.TotalPosts += all[i].PostsCreated
	}
	stats.Users = len(all)
	if stats.Users > 0 {
		stats.AverageScore = int(math.Round(float64(scoreSum) / float64(stats.Users)))
	}

	n := min(PodiumSize, len(all))
	podium = all[:n:n]
	ranked = all[n:]
	return podium, ranked, stats
}

// Source - поставщик строк активности.
type Source interface {
	ActivityRows(ctx context.Context, since time.Time) ([]models.ActivityRow, error)
}

type Service struct {
	src Source
	now func() time.Time
}

func NewService(src Source, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{src: src, now: now}
}

// Build читает активность за период и строит рейтинг.
func (s *Service) Build(ctx context.Context, period string) (*models.Leaderboard, error) {
	p, err := ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	rows, err := s.src.ActivityRows(ctx, Since(p, s.now()))
	if err != nil {
		return nil, err
	}
	podium, ranked, stats := Aggregate(rows)
	return &models.Leaderboard{
		Period: string(p),
		Podium: podium,
		Ranked: ranked,
		Stats:  stats,
	}, nil
}

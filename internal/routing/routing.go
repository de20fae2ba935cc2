// Package routing определяет, кто отвечает за обращение на каждом этапе.
package routing

import (
	"fmt"
	"os"
	"strings"

	"issueflow/internal/apperr"
	"issueflow/models"

	"gopkg.in/yaml.v3"
)

// Area - зона ответственности администратора района
type Area struct {
	Name              string                    `yaml:"area"`
	Wards             []string                  `yaml:"wards"`
	ReviewerID        int64                     `yaml:"reviewer_id"`
	Departments       map[models.Category]int64 `yaml:"departments"`
	DefaultDepartment int64                     `yaml:"default_department"`
}

// Taxonomy - справочник районов и отделов
type Taxonomy struct {
	Areas []Area `yaml:"areas"`
}

// ActorKind - кем является ответственный
type ActorKind string

const (
	AreaReviewer ActorKind = "area_reviewer"
	Department   ActorKind = "department"
)

// Responsible - следующий ответственный за обращение
type Responsible struct {
	Kind ActorKind `json:"kind"`
	ID   int64     `json:"id"`
}

// LoadTaxonomy читает справочник из YAML-файла.
func LoadTaxonomy(path string) (Taxonomy, error) {
	var t Taxonomy
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read taxonomy %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("parse taxonomy %s: %w", path, err)
	}
	for _, a := range t.Areas {
		if strings.TrimSpace(a.Name) == "" {
			return t, fmt.Errorf("parse taxonomy %s: area without name", path)
		}
		for c := range a.Departments {
			if !c.Valid() {
				return t, fmt.Errorf("parse taxonomy %s: area %q: unknown category %q", path, a.Name, c)
			}
		}
	}
	return t, nil
}

// Next возвращает следующего ответственного для текущего этапа обращения.
// До назначения отдела это администратор района, затем отдел. Подрядчик
// назначается только через тендер, поэтому роутер его не выбирает.
func Next(issue *models.Issue, t Taxonomy) (Responsible, error) {
	if issue.Status.Terminal() {
		return Responsible{}, apperr.New(apperr.NoResponsibleActor, "issue %d is %s", issue.ID, issue.Status)
	}
	switch issue.Stage {
	case models.StageReported:
		area, ok := t.match(issue.Location)
		if !ok || area.ReviewerID == 0 {
			return Responsible{}, noActor(issue, "no area reviewer")
		}
		return Responsible{Kind: AreaReviewer, ID: area.ReviewerID}, nil
	case models.StageAreaReview:
		id, err := DepartmentFor(issue, t)
		if err != nil {
			return Responsible{}, err
		}
		return Responsible{Kind: Department, ID: id}, nil
	default:
		if issue.AssignedDepartmentID == nil {
			return Responsible{}, noActor(issue, "no department assigned")
		}
		return Responsible{Kind: Department, ID: *issue.AssignedDepartmentID}, nil
	}
}

// DepartmentFor ищет отдел по району/округу и категории обращения.
func DepartmentFor(issue *models.Issue, t Taxonomy) (int64, error) {
	area, ok := t.match(issue.Location)
	if !ok {
		return 0, noActor(issue, "area is not mapped")
	}
	if id := area.Departments[issue.Category]; id != 0 {
		return id, nil
	}
	if area.DefaultDepartment != 0 {
		return area.DefaultDepartment, nil
	}
	return 0, noActor(issue, fmt.Sprintf("no department for category %s", issue.Category))
}

// match предпочитает совпадение по округу совпадению только по району.
func (t Taxonomy) match(loc models.Location) (Area, bool) {
	var (
		byArea Area
		found  bool
	)
	for _, a := range t.Areas {
		if !strings.EqualFold(a.Name, loc.Area) {
			continue
		}
		for _, w := range a.Wards {
			if loc.Ward != "" && strings.EqualFold(w, loc.Ward) {
				return a, true
			}
		}
		if !found && len(a.Wards) == 0 {
			byArea, found = a, true
		}
	}
	if !found {
		for _, a := range t.Areas {
			if strings.EqualFold(a.Name, loc.Area) {
				return a, true
			}
		}
	}
	return byArea, found
}

func noActor(issue *models.Issue, reason string) error {
	return apperr.New(apperr.NoResponsibleActor,
		"issue %d (area %q, ward %q): %s, manual assignment required",
		issue.ID, issue.Location.Area, issue.Location.Ward, reason)
}

package routing

import (
	"os"
	"path/filepath"
	"testing"

	"issueflow/internal/apperr"
	"issueflow/models"

	"github.com/stretchr/testify/require"
)

const taxonomyYAML = `
areas:
  - area: Central
    wards: ["Ward 1"]
    reviewer_id: 101
    departments:
      roads: 11
    default_department: 10
  - area: central
    reviewer_id: 102
    departments:
      parks: 14
  - area: Riverside
    reviewer_id: 201
`

func loadTestTaxonomy(t *testing.T) Taxonomy {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(taxonomyYAML), 0o600))
	tax, err := LoadTaxonomy(path)
	require.NoError(t, err)
	return tax
}

func issueAt(stage models.Stage, category models.Category, area, ward string) *models.Issue {
	return &models.Issue{
		ID:       1,
		Stage:    stage,
		Status:   models.StatusPending,
		Category: category,
		Location: models.Location{Area: area, Ward: ward},
	}
}

func TestNext(t *testing.T) {
	tax := loadTestTaxonomy(t)
	dept := int64(33)

	tests := []struct {
		name  string
		issue *models.Issue
		want  Responsible
	}{
		{"reported in ward goes to ward reviewer", issueAt(models.StageReported, models.CategoryRoads, "Central", "Ward 1"), Responsible{AreaReviewer, 101}},
		{"reported outside wards goes to area reviewer", issueAt(models.StageReported, models.CategoryRoads, "CENTRAL", "Ward 9"), Responsible{AreaReviewer, 102}},
		{"area review picks department by category", issueAt(models.StageAreaReview, models.CategoryRoads, "Central", "Ward 1"), Responsible{Department, 11}},
		{"area review falls back to default department", issueAt(models.StageAreaReview, models.CategorySafety, "Central", "Ward 1"), Responsible{Department, 10}},
		{"area level category map", issueAt(models.StageAreaReview, models.CategoryParks, "Central", ""), Responsible{Department, 14}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(tt.issue, tax)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	t.Run("later stages stay with the assigned department", func(t *testing.T) {
		issue := issueAt(models.StageInProgress, models.CategoryRoads, "Nowhere", "")
		issue.AssignedDepartmentID = &dept
		got, err := Next(issue, tax)
		require.NoError(t, err)
		require.Equal(t, Responsible{Department, 33}, got)
	})
}

func TestNextNoResponsibleActor(t *testing.T) {
	tax := loadTestTaxonomy(t)

	tests := []struct {
		name  string
		issue *models.Issue
	}{
		{"unknown area", issueAt(models.StageReported, models.CategoryRoads, "Uptown", "")},
		{"no department for category", issueAt(models.StageAreaReview, models.CategoryRoads, "Riverside", "")},
		{"department not assigned", issueAt(models.StageInProgress, models.CategoryRoads, "Central", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Next(tt.issue, tax)
			require.ErrorIs(t, err, apperr.ErrNoResponsibleActor)
			require.Contains(t, err.Error(), "manual assignment required")
		})
	}

	t.Run("terminal issue", func(t *testing.T) {
		issue := issueAt(models.StageResolved, models.CategoryRoads, "Central", "Ward 1")
		issue.Status = models.StatusResolved
		_, err := Next(issue, tax)
		require.ErrorIs(t, err, apperr.ErrNoResponsibleActor)
	})
}

func TestLoadTaxonomyErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadTaxonomy(filepath.Join(dir, "missing.yaml"))
	require.ErrorContains(t, err, "read taxonomy")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("areas:\n  - area: X\n    departments:\n      lasers: 1\n"), 0o600))
	_, err = LoadTaxonomy(bad)
	require.ErrorContains(t, err, "unknown category")

	unnamed := filepath.Join(dir, "unnamed.yaml")
	require.NoError(t, os.WriteFile(unnamed, []byte("areas:\n  - reviewer_id: 5\n"), 0o600))
	_, err = LoadTaxonomy(unnamed)
	require.ErrorContains(t, err, "area without name")
}

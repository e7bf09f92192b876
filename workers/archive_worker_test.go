package workers

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"mahjong-league/models"
	"mahjong-league/services"
	"mahjong-league/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSeasons struct {
	mock.Mock
}

func (m *mockSeasons) PendingArchives(ctx context.Context) ([]models.Season, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Season), args.Error(1)
}

func (m *mockSeasons) Export(ctx context.Context, id string, rule services.SeasonRuleView) (*services.SeasonArchive, error) {
	args := m.Called(ctx, id, rule)
	if a := args.Get(0); a != nil {
		return a.(*services.SeasonArchive), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSeasons) MarkArchived(ctx context.Context, id, url string) error {
	return m.Called(ctx, id, url).Error(0)
}

type mockRules struct {
	mock.Mock
}

func (m *mockRules) SeasonRule(ctx context.Context, seasonID string) (*services.SeasonRuleView, error) {
	args := m.Called(ctx, seasonID)
	return args.Get(0).(*services.SeasonRuleView), args.Error(1)
}

func TestArchiveWorker_RunOnce(t *testing.T) {
	dir := t.TempDir()
	store, err := utils.NewLocalStore(dir, "/uploads")
	require.NoError(t, err)

	spring := models.Season{ID: "s1", Name: "Spring 2026", Status: models.SeasonStatusClosed}
	broken := models.Season{ID: "s2", Name: "Broken", Status: models.SeasonStatusClosed}
	rule := &services.SeasonRuleView{StartingPoints: 25000, ReturnPoints: 30000, Uma: []float64{15, 5, -5, -15}, Oka: 20}

	seasons := &mockSeasons{}
	rules := &mockRules{}
	rules.On("SeasonRule", mock.Anything, mock.Anything).Return(rule, nil)
	seasons.On("PendingArchives", mock.Anything).Return([]models.Season{spring, broken}, nil)
	seasons.On("Export", mock.Anything, "s1", *rule).Return(&services.SeasonArchive{
		Season:    spring,
		Rule:      *rule,
		Standings: []services.ArchiveStanding{{Position: 1, PlayerID: "p1", Nickname: "Taro", Points: 42.5, Games: 3}},
		Games:     3,
	}, nil)
	seasons.On("Export", mock.Anything, "s2", *rule).Return(nil, errors.New("db down"))
	seasons.On("MarkArchived", mock.Anything, "s1", "/uploads/archives/seasons/spring-2026-s1.json").Return(nil)

	w := NewArchiveWorker(seasons, rules, store)
	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	seasons.AssertExpectations(t)

	data, err := os.ReadFile(filepath.Join(dir, "archives", "seasons", "spring-2026-s1.json"))
	require.NoError(t, err)
	var doc services.SeasonArchive
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "Taro", doc.Standings[0].Nickname)
	assert.Equal(t, int64(3), doc.Games)
}

func TestArchiveWorker_ListFailure(t *testing.T) {
	seasons := &mockSeasons{}
	seasons.On("PendingArchives", mock.Anything).Return([]models.Season(nil), errors.New("boom"))

	w := NewArchiveWorker(seasons, &mockRules{}, nil)
	_, err := w.RunOnce(context.Background())
	assert.Error(t, err)
}

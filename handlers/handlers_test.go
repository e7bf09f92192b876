package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"mahjong-league/configcache"
	"mahjong-league/models"
	"mahjong-league/ranking"
	"mahjong-league/services"
	"mahjong-league/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLoader struct{}

func (staticLoader) LoadTables(context.Context) (*configcache.Snapshot, error) {
	return &configcache.Snapshot{
		DefaultSeason: ranking.SeasonRule{StartingPoints: 25000, ReturnPoints: 30000, Uma: [4]float64{15, 5, -5, -15}},
		Seasons: map[string]ranking.SeasonRule{
			"s2": {StartingPoints: 30000, ReturnPoints: 30000, Uma: [4]float64{20, 10, -10, -20}},
		},
		DanRows: []models.DanConfig{
			{ID: "d0", Level: 0, Name: "Novice", MinPoints: 0},
			{ID: "d1", Level: 1, Name: "1 Dan", MinPoints: 100},
		},
		RateSetting: models.RateSetting{InitialRate: 1500, Divisor: 40},
	}, nil
}

func decode(t *testing.T, body io.Reader) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("player: %w", services.ErrNotFound), fiber.StatusNotFound},
		{fmt.Errorf("%w: Tanaka", services.ErrDuplicateNickname), fiber.StatusConflict},
		{services.ErrStaleVersion, fiber.StatusConflict},
		{fmt.Errorf("%w: season closed", services.ErrConflict), fiber.StatusConflict},
		{fmt.Errorf("%w: score sum", services.ErrInvalidGame), fiber.StatusBadRequest},
		{fmt.Errorf("%w: empty dan table", services.ErrInvalidConfig), fiber.StatusBadRequest},
		{fmt.Errorf("%w: name required", services.ErrInvalidInput), fiber.StatusBadRequest},
		{errors.New("connection reset"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, msg := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestRespondError_Body(t *testing.T) {
	app := newTestApp()
	app.Get("/x", func(c *fiber.Ctx) error {
		return respondError(c, fmt.Errorf("player: %w", services.ErrNotFound))
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/x", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	body := decode(t, resp.Body)
	assert.Equal(t, "not found", body["error"])
	assert.Contains(t, body["cause"], "player")
}

func TestConfigRoutes(t *testing.T) {
	cfg := services.NewConfigService(nil, configcache.New(staticLoader{}, 0, nil), nil)
	app := newTestApp()
	SetupConfigRoutes(app, app.Group("/admin"), cfg)

	resp, err := app.Test(httptest.NewRequest("GET", "/config/dan", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	rules := decode(t, resp.Body)["rules"].([]interface{})
	assert.Len(t, rules, 2)

	resp, err = app.Test(httptest.NewRequest("GET", "/config/season", nil))
	require.NoError(t, err)
	body := decode(t, resp.Body)
	assert.Equal(t, float64(25000), body["starting_points"])
	assert.Equal(t, float64(20), body["oka"])
	assert.Equal(t, false, body["inherited"])

	resp, err = app.Test(httptest.NewRequest("GET", "/config/season?season=s2", nil))
	require.NoError(t, err)
	body = decode(t, resp.Body)
	assert.Equal(t, float64(30000), body["starting_points"])
	assert.Equal(t, false, body["inherited"])

	resp, err = app.Test(httptest.NewRequest("GET", "/config/season?season=s9", nil))
	require.NoError(t, err)
	body = decode(t, resp.Body)
	assert.Equal(t, float64(25000), body["starting_points"])
	assert.Equal(t, true, body["inherited"])
}

func TestAdminConfig_RejectsBadJSON(t *testing.T) {
	cfg := services.NewConfigService(nil, configcache.New(staticLoader{}, 0, nil), nil)
	app := newTestApp()
	SetupConfigRoutes(app, app.Group("/admin"), cfg)

	req := httptest.NewRequest("PUT", "/admin/config/dan", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid JSON", decode(t, resp.Body)["error"])
}

func TestRankings_BadQuery(t *testing.T) {
	app := newTestApp()
	SetupRankingRoutes(app, app.Group("/admin"), nil, time.Second)

	resp, err := app.Test(httptest.NewRequest("GET", "/rankings?limit=ten", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestTrash_UnknownKind(t *testing.T) {
	app := newTestApp()
	SetupTrashRoutes(app.Group("/admin"), nil, nil, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/admin/trash/tournaments", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestDelete_BadVersion(t *testing.T) {
	app := newTestApp()
	SetupGameRoutes(app, app.Group("/admin"), nil)

	resp, err := app.Test(httptest.NewRequest("DELETE", "/admin/games/7c9e6679-7425-40de-944b-e07fc1f90ae7?version=-1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestMalformedIDs(t *testing.T) {
	cfg := services.NewConfigService(nil, configcache.New(staticLoader{}, 0, nil), nil)
	app := newTestApp()
	admin := app.Group("/admin")
	SetupGameRoutes(app, admin, nil)
	SetupSeasonRoutes(app, admin, nil)
	SetupTournamentRoutes(app, admin, nil)
	SetupPlayerRoutes(app, admin, nil, nil, nil)
	SetupRankingRoutes(app, admin, nil, time.Second)
	SetupConfigRoutes(app, admin, cfg)

	tests := []struct {
		method string
		target string
		status int
	}{
		{"GET", "/games/abc", fiber.StatusNotFound},
		{"PUT", "/admin/games/abc", fiber.StatusNotFound},
		{"DELETE", "/admin/games/abc", fiber.StatusNotFound},
		{"POST", "/admin/games/abc/restore", fiber.StatusNotFound},
		{"GET", "/seasons/2024", fiber.StatusNotFound},
		{"POST", "/admin/seasons/abc/close", fiber.StatusNotFound},
		{"GET", "/tournaments/abc", fiber.StatusNotFound},
		{"DELETE", "/admin/players/abc", fiber.StatusNotFound},
		{"PATCH", "/admin/config/dan/abc", fiber.StatusNotFound},
		{"GET", "/games?season=abc", fiber.StatusBadRequest},
		{"GET", "/games?player=abc", fiber.StatusBadRequest},
		{"GET", "/games?tournament=abc", fiber.StatusBadRequest},
		{"GET", "/tournaments?season=abc", fiber.StatusBadRequest},
		{"GET", "/rankings?kind=season&season=abc", fiber.StatusBadRequest},
		{"GET", "/players/taro/history?season=abc", fiber.StatusBadRequest},
		{"GET", "/config/season?season=abc", fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(tt.method, tt.target, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode(t, resp.Body)
			assert.NotContains(t, body["error"], "syntax")
		})
	}
}

func avatarRequest(t *testing.T, id string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("avatar", "avatar.bin")
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/admin/players/"+id+"/avatar", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAvatarUpload_RejectsNonImage(t *testing.T) {
	store, err := utils.NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)
	app := newTestApp()
	SetupPlayerRoutes(app, app.Group("/admin"), nil, nil, store)

	resp, err := app.Test(avatarRequest(t, "7c9e6679-7425-40de-944b-e07fc1f90ae7", []byte("just some text")))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestAvatarUpload_RejectsBadID(t *testing.T) {
	store, err := utils.NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)
	app := newTestApp()
	SetupPlayerRoutes(app, app.Group("/admin"), nil, nil, store)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	resp, err := app.Test(avatarRequest(t, "not-a-uuid", png))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

type seqSource struct {
	mu    sync.Mutex
	gens  []int64
	calls int
	done  chan struct{}
}

func (s *seqSource) Generation(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.gens)-1 {
		if i == len(s.gens)-1 {
			close(s.done)
		}
		return s.gens[len(s.gens)-1], nil
	}
	return s.gens[i], nil
}

func TestWriteGenerations_EmitsOnChange(t *testing.T) {
	src := &seqSource{gens: []int64{1, 1, 2, 2}, done: make(chan struct{})}
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	finished := make(chan struct{})
	go func() {
		writeGenerations(w, src, 5*time.Millisecond, src.done)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "event: rankings"))
	assert.Contains(t, out, `data: {"generation":1}`)
	assert.Contains(t, out, `data: {"generation":2}`)
}

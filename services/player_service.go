package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mahjong-league/logging"
	"mahjong-league/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type PlayerService struct {
	DB       *gorm.DB
	Rankings *RankingService
}

func NewPlayerService(db *gorm.DB, rankings *RankingService) *PlayerService {
	return &PlayerService{DB: db, Rankings: rankings}
}

type PlayerInput struct {
	Nickname string `json:"nickname"`
	Bio      string `json:"bio"`
	Version  int64  `json:"version"`
}

func findPlayerBySlug(db *gorm.DB, slug string) (*models.Player, error) {
	var p models.Player
	if err := db.First(&p, "slug = ?", strings.ToLower(slug)).Error; err != nil {
		return nil, notFound(err, "player")
	}
	return &p, nil
}

// List searches live players by nickname or its transliteration.
func (s *PlayerService) List(ctx context.Context, query string, page PageRequest) (*Paged[models.Player], error) {
	page = page.normalize()
	q := playerSearch(s.DB.WithContext(ctx), query)

	out := &Paged[models.Player]{Items: []models.Player{}, Page: page.Page, Size: page.Size}
	if err := q.Count(&out.Total).Error; err != nil {
		return nil, err
	}
	err := q.Preload("Ranking").
		Order("nickname_key ASC").
		Offset(page.offset()).Limit(page.Size).
		Find(&out.Items).Error
	return out, err
}

// playerSearch scopes a player query to live rows matching query.
func playerSearch(db *gorm.DB, query string) *gorm.DB {
	q := db.Model(&models.Player{})
	if query = strings.TrimSpace(query); query != "" {
		like := "%" + escapeLike(NicknameKey(query)) + "%"
		ascii := "%" + escapeLike(SearchKey(query)) + "%"
		q = q.Where("nickname_key LIKE ? OR search_key LIKE ?", like, ascii)
	}
	return q
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *PlayerService) GetBySlug(ctx context.Context, slug string) (*models.Player, error) {
	return findPlayerBySlug(s.DB.WithContext(ctx), slug)
}

// ensureNicknameFree rejects nicknames whose key is held by another player,
// deleted players included.
func ensureNicknameFree(tx *gorm.DB, key, exceptID string) error {
	var holder models.Player
	err := nicknameHolders(tx, key, exceptID).First(&holder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if holder.DeletedAt.Valid {
		return fmt.Errorf("%w: held by deleted player %s, restore it instead", ErrDuplicateNickname, holder.ID)
	}
	return fmt.Errorf("%w: %q", ErrDuplicateNickname, holder.Nickname)
}

// nicknameHolders finds players, deleted or not, holding key.
func nicknameHolders(tx *gorm.DB, key, exceptID string) *gorm.DB {
	q := tx.Unscoped().Model(&models.Player{}).Where("nickname_key = ?", key)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	return q
}

// uniqueSlug appends -2, -3, ... until the slug is unused (deleted rows count).
func uniqueSlug(tx *gorm.DB, model interface{}, base, exceptID string) (string, error) {
	candidate := base
	for i := 2; i < 1000; i++ {
		var n int64
		q := tx.Unscoped().Model(model).Where("slug = ?", candidate)
		if exceptID != "" {
			q = q.Where("id <> ?", exceptID)
		}
		if err := q.Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", invalid(ErrConflict, "no free slug for %q", base)
}

func translateDuplicate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicateNickname, err)
	}
	return err
}

func (s *PlayerService) Create(ctx context.Context, in PlayerInput) (*models.Player, error) {
	nick := CleanNickname(in.Nickname)
	if err := validateNickname(nick); err != nil {
		return nil, err
	}
	player := models.Player{
		ID:          uuid.NewString(),
		Nickname:    nick,
		NicknameKey: NicknameKey(nick),
		SearchKey:   SearchKey(nick),
		Bio:         strings.TrimSpace(in.Bio),
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureNicknameFree(tx, player.NicknameKey, ""); err != nil {
			return err
		}
		slug, err := uniqueSlug(tx, &models.Player{}, Slugify(nick, "player"), "")
		if err != nil {
			return err
		}
		player.Slug = slug
		return translateDuplicate(tx.Create(&player).Error)
	})
	if err != nil {
		return nil, err
	}
	logging.L().Info("[PLAYER] created", zap.String("id", player.ID), zap.String("slug", player.Slug))
	return &player, nil
}

func (s *PlayerService) Update(ctx context.Context, id string, in PlayerInput) (*models.Player, error) {
	nick := CleanNickname(in.Nickname)
	if err := validateNickname(nick); err != nil {
		return nil, err
	}
	var player models.Player
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&player, "id = ?", id).Error; err != nil {
			return notFound(err, "player")
		}
		if err := checkVersion(player.Version, in.Version); err != nil {
			return err
		}
		key := NicknameKey(nick)
		if key != player.NicknameKey {
			if err := ensureNicknameFree(tx, key, player.ID); err != nil {
				return err
			}
			slug, err := uniqueSlug(tx, &models.Player{}, Slugify(nick, "player"), player.ID)
			if err != nil {
				return err
			}
			player.Slug = slug
		}
		player.Nickname = nick
		player.NicknameKey = key
		player.SearchKey = SearchKey(nick)
		player.Bio = strings.TrimSpace(in.Bio)
		return translateDuplicate(tx.Model(&player).
			Select("Nickname", "NicknameKey", "SearchKey", "Slug", "Bio").
			Updates(&player).Error)
	})
	if err != nil {
		return nil, err
	}
	return &player, nil
}

func (s *PlayerService) SetAvatar(ctx context.Context, id, url string) (*models.Player, error) {
	var player models.Player
	db := s.DB.WithContext(ctx)
	if err := db.First(&player, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "player")
	}
	player.AvatarURL = url
	if err := db.Model(&player).Select("AvatarURL").Updates(&player).Error; err != nil {
		return nil, err
	}
	return &player, nil
}

// Delete hides the player from lists and ranking tables. Their games stay
// in everyone else's history.
func (s *PlayerService) Delete(ctx context.Context, id string, version int64) error {
	var player models.Player
	db := s.DB.WithContext(ctx)
	if err := db.First(&player, "id = ?", id).Error; err != nil {
		return notFound(err, "player")
	}
	if err := checkVersion(player.Version, version); err != nil {
		return err
	}
	if err := db.Delete(&player).Error; err != nil {
		return err
	}
	logging.L().Info("[PLAYER] soft-deleted", zap.String("id", id))
	return s.touch(ctx)
}

func (s *PlayerService) Restore(ctx context.Context, id string) (*models.Player, error) {
	var player models.Player
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().First(&player, "id = ?", id).Error; err != nil {
			return notFound(err, "player")
		}
		if !player.DeletedAt.Valid {
			return invalid(ErrConflict, "player is not deleted")
		}
		if err := ensureNicknameFree(tx, player.NicknameKey, player.ID); err != nil {
			return err
		}
		return tx.Unscoped().Model(&player).Update("deleted_at", nil).Error
	})
	if err != nil {
		return nil, err
	}
	player.DeletedAt = gorm.DeletedAt{}
	return &player, s.touch(ctx)
}

func (s *PlayerService) Deleted(ctx context.Context) ([]models.Player, error) {
	out := []models.Player{}
	err := s.DB.WithContext(ctx).Unscoped().Where("deleted_at IS NOT NULL").
		Order("deleted_at DESC").Find(&out).Error
	return out, err
}

func (s *PlayerService) touch(ctx context.Context) error {
	if s.Rankings == nil {
		return nil
	}
	return s.Rankings.Touch(ctx)
}

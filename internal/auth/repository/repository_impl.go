package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fintrack/internal/auth/domain"
	"github.com/smallbiznis/fintrack/pkg/db"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) (domain.Repository, domain.SessionRepository, domain.LinkRepository) {
	r := &repo{db: db}
	return r, r, r
}

func (r *repo) Create(ctx context.Context, user *domain.User) error {
	return db.Conn(ctx, r.db).Create(user).Error
}

func (r *repo) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	err := db.Conn(ctx, r.db).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repo) FindByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := db.Conn(ctx, r.db).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repo) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	tx := db.Conn(ctx, r.db).Model(&domain.User{}).Where("id = ?", id).Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *repo) Delete(ctx context.Context, id string) error {
	return db.RunInTx(ctx, r.db, func(ctx context.Context) error {
		tx := db.Conn(ctx, r.db)
		if err := tx.Where("user_id = ?", id).Delete(&domain.Session{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&domain.Link{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.User{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrUserNotFound
		}
		return nil
	})
}

func (r *repo) CreateSession(ctx context.Context, session *domain.Session) error {
	return db.Conn(ctx, r.db).Create(session).Error
}

func (r *repo) GetSessionByAccessHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	return r.findSession(ctx, "access_token_hash = ?", tokenHash)
}

func (r *repo) GetSessionByRefreshHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	return r.findSession(ctx, "refresh_token_hash = ?", tokenHash)
}

func (r *repo) findSession(ctx context.Context, cond string, arg string) (*domain.Session, error) {
	var session domain.Session
	err := db.Conn(ctx, r.db).Where(cond, arg).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repo) RotateTokens(ctx context.Context, sessionID snowflake.ID, accessHash, refreshHash string, accessExpiresAt, seenAt time.Time) error {
	tx := db.Conn(ctx, r.db).
		Model(&domain.Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Updates(map[string]any{
			"access_token_hash":  accessHash,
			"refresh_token_hash": refreshHash,
			"access_expires_at":  accessExpiresAt,
			"last_seen_at":       seenAt,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *repo) UpdateLastSeen(ctx context.Context, sessionID snowflake.ID, lastSeen time.Time) error {
	tx := db.Conn(ctx, r.db).Model(&domain.Session{}).Where("id = ?", sessionID).Update("last_seen_at", lastSeen)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *repo) RevokeSession(ctx context.Context, sessionID snowflake.ID, revokedAt time.Time) error {
	tx := db.Conn(ctx, r.db).
		Model(&domain.Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", revokedAt)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *repo) RevokeUserSessions(ctx context.Context, userID string, now time.Time) (int64, error) {
	tx := db.Conn(ctx, r.db).
		Model(&domain.Session{}).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, now).
		Update("revoked_at", now)
	return tx.RowsAffected, tx.Error
}

func (r *repo) CreateLink(ctx context.Context, link *domain.Link) error {
	return db.Conn(ctx, r.db).Create(link).Error
}

func (r *repo) GetLinkByHash(ctx context.Context, tokenHash string) (*domain.Link, error) {
	var link domain.Link
	err := db.Conn(ctx, r.db).Where("token_hash = ?", tokenHash).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrInvalidLink
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// MarkLinkUsed reports false when another caller consumed the link first.
func (r *repo) MarkLinkUsed(ctx context.Context, id string, usedAt time.Time) (bool, error) {
	tx := db.Conn(ctx, r.db).
		Model(&domain.Link{}).
		Where("id = ? AND used_at IS NULL", id).
		Update("used_at", usedAt)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *repo) PurgeSessions(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	var ids []snowflake.ID
	err := db.Conn(ctx, r.db).
		Model(&domain.Session{}).
		Where("expires_at < ? OR revoked_at < ?", cutoff, cutoff).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	tx := db.Conn(ctx, r.db).Where("id IN ?", ids).Delete(&domain.Session{})
	return tx.RowsAffected, tx.Error
}

func (r *repo) PurgeLinks(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	var ids []string
	err := db.Conn(ctx, r.db).
		Model(&domain.Link{}).
		Where("expires_at < ? OR used_at < ?", cutoff, cutoff).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	tx := db.Conn(ctx, r.db).Where("id IN ?", ids).Delete(&domain.Link{})
	return tx.RowsAffected, tx.Error
}

package credential

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/weiawesome/peace-chat/internal/domain"
	"github.com/weiawesome/peace-chat/pkg/database"
)

// UserModel is the GORM row for a credential record. UsernameKey is the
// lowercased username and carries the uniqueness constraint.
type UserModel struct {
	ID          uint   `gorm:"primaryKey"`
	Username    string `gorm:"size:64;not null"`
	UsernameKey string `gorm:"size:64;not null;uniqueIndex"`
	Password    string `gorm:"size:255;not null"`
	LastCleared int64  `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) toDomain() *domain.User {
	return &domain.User{
		Username:    m.Username,
		Password:    m.Password,
		LastCleared: m.LastCleared,
	}
}

// GormStore implements Store on any database pkg/database can open.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the database described by cfg and migrates the users table.
func NewGormStore(cfg *database.Config) (*GormStore, error) {
	db, err := database.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(db, &UserModel{}); err != nil {
		database.Close(db)
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) first(ctx context.Context, username string) (*UserModel, error) {
	var model UserModel
	result := s.db.WithContext(ctx).First(&model, "username_key = ?", normalize(username))
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, result.Error
	}
	return &model, nil
}

func (s *GormStore) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	model, err := s.first(ctx, username)
	if err != nil {
		return nil, err
	}
	return model.toDomain(), nil
}

func (s *GormStore) Create(ctx context.Context, user *domain.User) error {
	model := &UserModel{
		Username:    strings.TrimSpace(user.Username),
		UsernameKey: normalize(user.Username),
		Password:    user.Password,
		LastCleared: user.LastCleared,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return s.handleError(err)
	}
	return nil
}

func (s *GormStore) UpdatePassword(ctx context.Context, username, password string) error {
	result := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("username_key = ?", normalize(username)).
		Update("password", password)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *GormStore) SetLastCleared(ctx context.Context, username string, at int64) (int64, error) {
	var stored int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&UserModel{}).
			Where("username_key = ? AND last_cleared < ?", normalize(username), at).
			Update("last_cleared", at).Error; err != nil {
			return err
		}

		var model UserModel
		if err := tx.First(&model, "username_key = ?", normalize(username)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		stored = model.LastCleared
		return nil
	})
	return stored, err
}

func (s *GormStore) Delete(ctx context.Context, username string) error {
	result := s.db.WithContext(ctx).Where("username_key = ?", normalize(username)).Delete(&UserModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *GormStore) List(ctx context.Context) ([]domain.User, error) {
	var models []UserModel
	if err := s.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(models))
	for i := range models {
		users = append(users, *models[i].toDomain())
	}
	return users, nil
}

func (s *GormStore) Close() error {
	return database.Close(s.db)
}

// handleError converts database-specific errors to store errors.
func (s *GormStore) handleError(err error) error {
	errStr := err.Error()

	// PostgreSQL / SQLite unique constraint violation
	if strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, "UNIQUE constraint") {
		return ErrUsernameExists
	}
	// MySQL unique constraint violation
	if strings.Contains(errStr, "Duplicate entry") {
		return ErrUsernameExists
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrUsernameExists
	}

	return err
}

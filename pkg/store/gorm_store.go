package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"plantcare/pkg/domain"
	"plantcare/pkg/events"
)

const migrateLockID int64 = 51873390

const sqlitePrefix = "sqlite:"

type GormStoreOptions struct {
	Publisher events.Publisher
}

type GormStoreOption func(*GormStoreOptions)

// WithPublisher sets where change notifications go after successful writes.
func WithPublisher(p events.Publisher) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.Publisher = p
	}
}

// GormStore implements Store using GORM over Postgres, or SQLite when the
// DSN starts with "sqlite:".
type GormStore struct {
	db        *gorm.DB
	publisher events.Publisher
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	dsn = strings.TrimSpace(dsn)
	isSQLite := strings.HasPrefix(dsn, sqlitePrefix)
	var dialector gorm.Dialector
	if isSQLite {
		dialector = sqlite.Open(strings.TrimPrefix(dsn, sqlitePrefix))
	} else {
		dialector = postgres.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &PlantModel{}, &WateringModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if isSQLite {
		// SQLite allows one writer at a time.
		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			return nil, fmt.Errorf("get sql db: %w", dbErr)
		}
		sqlDB.SetMaxOpenConns(1)
		err = migrate(db)
	} else {
		err = withMigrationLock(db, migrate)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db, publisher: opts.Publisher}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// publish notifies subscribers. The write already happened, so a failed
// notification is only logged.
func (s *GormStore) publish(ctx context.Context, kind events.Kind, path string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.NewChange(kind, path)); err != nil {
		slog.Warn("publish change failed", "kind", kind, "path", path, "err", err)
	}
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "password_hash", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return err
	}
	s.publish(ctx, events.Updated, domain.UserPath(u.ID))
	return nil
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// UpdateUserName sets the display name of a user.
func (s *GormStore) UpdateUserName(ctx context.Context, id, name string) error {
	err := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"name":       name,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return err
	}
	s.publish(ctx, events.Updated, domain.UserPath(id))
	return nil
}

// CreatePlant inserts a new plant.
func (s *GormStore) CreatePlant(ctx context.Context, p domain.Plant) error {
	model := plantToModel(p)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	s.publish(ctx, events.Created, plantRef(p).Path())
	return nil
}

// GetPlant returns one plant of its owner.
func (s *GormStore) GetPlant(ctx context.Context, ref domain.PlantRef) (domain.Plant, bool, error) {
	var model PlantModel
	if err := s.db.WithContext(ctx).First(&model, "id = ? AND user_id = ?", ref.PlantID, ref.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Plant{}, false, nil
		}
		return domain.Plant{}, false, err
	}
	return plantFromModel(model), true, nil
}

// ListPlants returns an owner's plants ordered by creation.
func (s *GormStore) ListPlants(ctx context.Context, ownerID string) ([]domain.Plant, error) {
	var models []PlantModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", ownerID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Plant, 0, len(models))
	for _, m := range models {
		res = append(res, plantFromModel(m))
	}
	return res, nil
}

// UpdatePlant merges the patch into the plant and returns the result.
func (s *GormStore) UpdatePlant(ctx context.Context, ref domain.PlantRef, patch PlantPatch) (domain.Plant, bool, error) {
	if patch.IsEmpty() {
		return s.GetPlant(ctx, ref)
	}
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.WateringInterval != nil {
		updates["watering_interval"] = *patch.WateringInterval
	}
	if patch.ImgSrc != nil {
		updates["img_src"] = *patch.ImgSrc
	}
	if patch.ImageKey != nil {
		updates["image_key"] = *patch.ImageKey
	}
	res := s.db.WithContext(ctx).Model(&PlantModel{}).
		Where("id = ? AND user_id = ?", ref.PlantID, ref.UserID).
		Updates(updates)
	if res.Error != nil {
		return domain.Plant{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Plant{}, false, nil
	}
	s.publish(ctx, events.Updated, ref.Path())
	return s.GetPlant(ctx, ref)
}

// SetLastWateringDate writes the projected last watering date. A nil date
// clears the column.
func (s *GormStore) SetLastWateringDate(ctx context.Context, ref domain.PlantRef, last *time.Time) error {
	var value any
	if last != nil {
		value = last.UTC()
	}
	res := s.db.WithContext(ctx).Model(&PlantModel{}).
		Where("id = ? AND user_id = ?", ref.PlantID, ref.UserID).
		Updates(map[string]any{
			"last_watering_date": value,
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		s.publish(ctx, events.Updated, ref.Path())
	}
	return nil
}

// DeletePlant removes only the plant row. Its waterings are left for the
// cascade triggered by the published delete.
func (s *GormStore) DeletePlant(ctx context.Context, ref domain.PlantRef) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&PlantModel{}, "id = ? AND user_id = ?", ref.PlantID, ref.UserID)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	s.publish(ctx, events.Deleted, ref.Path())
	return true, nil
}

// AddWatering records a watering.
func (s *GormStore) AddWatering(ctx context.Context, w domain.Watering) error {
	model := wateringToModel(w)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	ref := domain.PlantRef{UserID: w.OwnerID, PlantID: w.PlantID}
	s.publish(ctx, events.Created, ref.WateringPath(w.ID))
	return nil
}

// ListWaterings returns a plant's waterings, newest first.
func (s *GormStore) ListWaterings(ctx context.Context, ref domain.PlantRef) ([]domain.Watering, error) {
	var models []WateringModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND plant_id = ?", ref.UserID, ref.PlantID).
		Order("watering_date DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Watering, 0, len(models))
	for _, m := range models {
		res = append(res, wateringFromModel(m))
	}
	return res, nil
}

// DeleteWatering removes one watering of a plant.
func (s *GormStore) DeleteWatering(ctx context.Context, ref domain.PlantRef, wateringID string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&WateringModel{},
		"id = ? AND user_id = ? AND plant_id = ?", wateringID, ref.UserID, ref.PlantID)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	s.publish(ctx, events.Deleted, ref.WateringPath(wateringID))
	return true, nil
}

// DeletePlantSubtree removes every record nested under the plant in one
// transaction and reports how many were removed. The plant row itself is
// not touched.
func (s *GormStore) DeletePlantSubtree(ctx context.Context, ref domain.PlantRef) (int64, error) {
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&WateringModel{}, "user_id = ? AND plant_id = ?", ref.UserID, ref.PlantID)
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.publish(ctx, events.Deleted, ref.WateringsPath())
	}
	return removed, nil
}

func plantRef(p domain.Plant) domain.PlantRef {
	return domain.PlantRef{UserID: p.OwnerID, PlantID: p.ID}
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		Name:         m.Name,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func plantToModel(p domain.Plant) PlantModel {
	var last *time.Time
	if p.LastWateringDate != nil {
		t := p.LastWateringDate.UTC()
		last = &t
	}
	return PlantModel{
		ID:               p.ID,
		UserID:           p.OwnerID,
		Name:             p.Name,
		WateringInterval: p.WateringInterval,
		LastWateringDate: last,
		ImgSrc:           p.ImgSrc,
		ImageKey:         p.ImageKey,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func plantFromModel(m PlantModel) domain.Plant {
	var last *time.Time
	if m.LastWateringDate != nil {
		t := m.LastWateringDate.UTC()
		last = &t
	}
	return domain.Plant{
		ID:               m.ID,
		OwnerID:          m.UserID,
		Name:             m.Name,
		WateringInterval: m.WateringInterval,
		LastWateringDate: last,
		ImgSrc:           m.ImgSrc,
		ImageKey:         m.ImageKey,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func wateringToModel(w domain.Watering) WateringModel {
	return WateringModel{
		ID:           w.ID,
		UserID:       w.OwnerID,
		PlantID:      w.PlantID,
		WateringDate: w.WateringDate.UTC(),
		CreatedAt:    w.CreatedAt,
	}
}

func wateringFromModel(m WateringModel) domain.Watering {
	return domain.Watering{
		ID:           m.ID,
		PlantID:      m.PlantID,
		OwnerID:      m.UserID,
		WateringDate: m.WateringDate.UTC(),
		CreatedAt:    m.CreatedAt,
	}
}

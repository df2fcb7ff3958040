package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"socratium/pkg/domain"
)

const migrateLockID int64 = 51737001

// GormStore implements Store on Postgres or SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the database named by dsn and migrates it. DSNs with
// a "sqlite:" or "file:" prefix, or a .db suffix, open SQLite; anything
// else is treated as a Postgres connection string.
func NewGormStore(dsn string) (*GormStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database dsn required")
	}
	dialector, isSQLite := openDialector(dsn)
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if isSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		// SQLite serializes writers; one connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
		if err := migrate(db); err != nil {
			return nil, err
		}
		return &GormStore{db: db}, nil
	}
	if err := withMigrationLock(db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func openDialector(dsn string) (gorm.Dialector, bool) {
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		return sqlite.Open(strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite:"), "//")), true
	case strings.HasPrefix(dsn, "file:"), strings.HasSuffix(dsn, ".db"):
		return sqlite.Open(dsn), true
	default:
		return postgres.Open(dsn), false
	}
}

func migrate(tx *gorm.DB) error {
	if err := tx.AutoMigrate(&BookModel{}, &PageMapModel{}, &ThreadModel{}, &MessageModel{}, &ProviderModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	// At most one active provider, enforced by the database.
	if err := tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_provider_single_active
		ON provider_models (is_active) WHERE is_active`).Error; err != nil {
		return fmt.Errorf("create active provider index: %w", err)
	}
	return nil
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

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveBook stores or updates a book.
func (s *GormStore) SaveBook(b domain.Book) error {
	model := bookToModel(b)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "source_filename", "storage_key", "text_key", "outline", "status", "error_message", "size_bytes", "page_count", "updated_at"}),
	}).Create(&model).Error
}

// GetBook retrieves a book.
func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns all books, newest first.
func (s *GormStore) ListBooks() ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// SetBookStatus updates book status and error message.
func (s *GormStore) SetBookStatus(id string, status domain.BookStatus, errMsg string) error {
	res := s.db.Model(&BookModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveExtraction replaces the page map and marks the book ready.
func (s *GormStore) SaveExtraction(bookID string, result Extraction) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&BookModel{}).
			Where("id = ?", bookID).
			Updates(map[string]any{
				"text_key":      result.TextKey,
				"page_count":    result.PageCount,
				"outline":       datatypes.JSON(result.Outline),
				"status":        string(domain.StatusReady),
				"error_message": "",
				"updated_at":    time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Delete(&PageMapModel{}, "book_id = ?", bookID).Error; err != nil {
			return err
		}
		if len(result.PageMap) == 0 {
			return nil
		}
		models := make([]PageMapModel, 0, len(result.PageMap))
		for _, e := range result.PageMap {
			models = append(models, PageMapModel{
				BookID:      bookID,
				PageNumber:  e.PageNumber,
				StartOffset: e.StartOffset,
				EndOffset:   e.EndOffset,
			})
		}
		return tx.CreateInBatches(&models, 500).Error
	})
}

// DeleteBook removes the book and everything hanging off it.
func (s *GormStore) DeleteBook(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var threadIDs []string
		if err := tx.Model(&ThreadModel{}).Where("book_id = ?", id).Pluck("id", &threadIDs).Error; err != nil {
			return err
		}
		if len(threadIDs) > 0 {
			if err := tx.Where("thread_id IN ?", threadIDs).Delete(&MessageModel{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", threadIDs).Delete(&ThreadModel{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Delete(&PageMapModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&BookModel{}, "id = ?", id).Error
	})
}

// ListPageMap returns page map entries in page order. limit <= 0 means all.
func (s *GormStore) ListPageMap(bookID string, limit int) ([]domain.PageMapEntry, error) {
	var models []PageMapModel
	tx := s.db.Where("book_id = ?", bookID).Order("page_number ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.PageMapEntry, 0, len(models))
	for _, m := range models {
		res = append(res, pageMapFromModel(m))
	}
	return res, nil
}

// GetPageMapEntry returns the entry for one page.
func (s *GormStore) GetPageMapEntry(bookID string, page int) (domain.PageMapEntry, bool, error) {
	var model PageMapModel
	if err := s.db.First(&model, "book_id = ? AND page_number = ?", bookID, page).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PageMapEntry{}, false, nil
		}
		return domain.PageMapEntry{}, false, err
	}
	return pageMapFromModel(model), true, nil
}

// CreateThread inserts a thread.
func (s *GormStore) CreateThread(t domain.Thread) error {
	model := threadToModel(t)
	return s.db.Create(&model).Error
}

// GetThread returns a thread with its provider details filled in.
func (s *GormStore) GetThread(id string) (domain.Thread, bool, error) {
	var model ThreadModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Thread{}, false, nil
		}
		return domain.Thread{}, false, err
	}
	threads, err := s.withProviders([]ThreadModel{model})
	if err != nil {
		return domain.Thread{}, false, err
	}
	return threads[0], true, nil
}

// ListThreads returns a book's threads, most recently updated first.
func (s *GormStore) ListThreads(bookID string) ([]domain.Thread, error) {
	var models []ThreadModel
	if err := s.db.Where("book_id = ?", bookID).
		Order("updated_at DESC").
		Order("id DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return s.withProviders(models)
}

func (s *GormStore) withProviders(models []ThreadModel) ([]domain.Thread, error) {
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ProviderID)
	}
	providers := map[string]ProviderModel{}
	if len(ids) > 0 {
		var rows []ProviderModel
		if err := s.db.Where("id IN ?", ids).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, p := range rows {
			providers[p.ID] = p
		}
	}
	res := make([]domain.Thread, 0, len(models))
	for _, m := range models {
		t := threadFromModel(m)
		if p, ok := providers[m.ProviderID]; ok {
			t.ProviderName = p.Name
			t.ProviderType = domain.ProviderType(p.Type)
			t.Model = p.Model
		}
		res = append(res, t)
	}
	return res, nil
}

// UpdateThreadTitle sets the title and bumps updated_at.
func (s *GormStore) UpdateThreadTitle(id, title string, at time.Time) error {
	return s.updateThread(id, map[string]any{"title": title, "updated_at": at.UTC()})
}

// TouchThread bumps updated_at.
func (s *GormStore) TouchThread(id string, at time.Time) error {
	return s.updateThread(id, map[string]any{"updated_at": at.UTC()})
}

func (s *GormStore) updateThread(id string, updates map[string]any) error {
	res := s.db.Model(&ThreadModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteThread removes a thread and its messages.
func (s *GormStore) DeleteThread(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&MessageModel{}, "thread_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&ThreadModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// AppendMessage records a message.
func (s *GormStore) AppendMessage(msg domain.Message) error {
	model, err := messageToModel(msg)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// ListMessages returns a thread's messages oldest first.
func (s *GormStore) ListMessages(threadID string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.Where("thread_id = ?", threadID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return messagesFromModels(models), nil
}

// ListRecentMessages returns the latest messages, most recent first.
func (s *GormStore) ListRecentMessages(threadID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 1
	}
	var models []MessageModel
	if err := s.db.Where("thread_id = ?", threadID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return messagesFromModels(models), nil
}

// CreateProvider inserts a provider. New providers start inactive.
func (s *GormStore) CreateProvider(p domain.Provider) error {
	model := providerToModel(p)
	model.IsActive = false
	return s.db.Create(&model).Error
}

// GetProvider returns one provider.
func (s *GormStore) GetProvider(id string) (domain.Provider, bool, error) {
	var model ProviderModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Provider{}, false, nil
		}
		return domain.Provider{}, false, err
	}
	return providerFromModel(model), true, nil
}

// ListProviders returns all providers, oldest first.
func (s *GormStore) ListProviders() ([]domain.Provider, error) {
	var models []ProviderModel
	if err := s.db.Order("created_at ASC").Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Provider, 0, len(models))
	for _, m := range models {
		res = append(res, providerFromModel(m))
	}
	return res, nil
}

// GetActiveProvider returns the active provider, if any.
func (s *GormStore) GetActiveProvider() (domain.Provider, bool, error) {
	var model ProviderModel
	if err := s.db.First(&model, "is_active = ?", true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Provider{}, false, nil
		}
		return domain.Provider{}, false, err
	}
	return providerFromModel(model), true, nil
}

// SetActiveProvider swaps the active provider atomically.
func (s *GormStore) SetActiveProvider(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ProviderModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		now := time.Now().UTC()
		if err := tx.Model(&ProviderModel{}).
			Where("is_active = ?", true).
			Updates(map[string]any{"is_active": false, "updated_at": now}).Error; err != nil {
			return err
		}
		return tx.Model(&ProviderModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"is_active": true, "updated_at": now}).Error
	})
}

// DeleteProvider removes a provider.
func (s *GormStore) DeleteProvider(id string) error {
	res := s.db.Delete(&ProviderModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:             b.ID,
		Title:          b.Title,
		SourceFilename: b.SourceFilename,
		StorageKey:     b.StorageKey,
		TextKey:        b.TextKey,
		Outline:        datatypes.JSON(b.Outline),
		Status:         string(b.Status),
		ErrorMessage:   b.ErrorMessage,
		SizeBytes:      b.SizeBytes,
		PageCount:      b.PageCount,
		CreatedAt:      b.CreatedAt.UTC(),
		UpdatedAt:      b.UpdatedAt.UTC(),
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:             m.ID,
		Title:          m.Title,
		SourceFilename: m.SourceFilename,
		StorageKey:     m.StorageKey,
		TextKey:        m.TextKey,
		Outline:        jsonBytes(m.Outline),
		Status:         domain.BookStatus(m.Status),
		ErrorMessage:   m.ErrorMessage,
		SizeBytes:      m.SizeBytes,
		PageCount:      m.PageCount,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func pageMapFromModel(m PageMapModel) domain.PageMapEntry {
	return domain.PageMapEntry{
		PageNumber:  m.PageNumber,
		StartOffset: m.StartOffset,
		EndOffset:   m.EndOffset,
	}
}

func threadToModel(t domain.Thread) ThreadModel {
	return ThreadModel{
		ID:         t.ID,
		BookID:     t.BookID,
		Title:      t.Title,
		ProviderID: t.ProviderID,
		CreatedAt:  t.CreatedAt.UTC(),
		UpdatedAt:  t.UpdatedAt.UTC(),
	}
}

func threadFromModel(m ThreadModel) domain.Thread {
	return domain.Thread{
		ID:         m.ID,
		BookID:     m.BookID,
		Title:      m.Title,
		ProviderID: m.ProviderID,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) (MessageModel, error) {
	model := MessageModel{
		ID:        msg.ID,
		ThreadID:  msg.ThreadID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt.UTC(),
	}
	if msg.Meta != nil {
		raw, err := json.Marshal(msg.Meta)
		if err != nil {
			return MessageModel{}, fmt.Errorf("encode message meta: %w", err)
		}
		model.Meta = datatypes.JSON(raw)
	}
	return model, nil
}

func messagesFromModels(models []MessageModel) []domain.Message {
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(m))
	}
	return res
}

// messageFromModel drops meta that no longer decodes.
func messageFromModel(m MessageModel) domain.Message {
	msg := domain.Message{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		Role:      domain.Role(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
	if raw := jsonBytes(m.Meta); raw != nil {
		var meta domain.MessageMeta
		if err := json.Unmarshal(raw, &meta); err == nil {
			msg.Meta = &meta
		}
	}
	return msg
}

func providerToModel(p domain.Provider) ProviderModel {
	return ProviderModel{
		ID:        p.ID,
		Name:      p.Name,
		Type:      string(p.Type),
		BaseURL:   p.BaseURL,
		Model:     p.Model,
		APIKeyEnc: p.EncryptedAPIKey,
		IsActive:  p.IsActive,
		CreatedAt: p.CreatedAt.UTC(),
		UpdatedAt: p.UpdatedAt.UTC(),
	}
}

func providerFromModel(m ProviderModel) domain.Provider {
	return domain.Provider{
		ID:              m.ID,
		Name:            m.Name,
		Type:            domain.ProviderType(m.Type),
		BaseURL:         m.BaseURL,
		Model:           m.Model,
		EncryptedAPIKey: m.APIKeyEnc,
		IsActive:        m.IsActive,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// jsonBytes maps SQL NULL, which datatypes.JSON scans as "null", to nil.
func jsonBytes(j datatypes.JSON) []byte {
	if len(j) == 0 || string(j) == "null" {
		return nil
	}
	return []byte(j)
}

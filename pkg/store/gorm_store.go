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

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"bluelight/pkg/domain"
)

const migrateLockID int64 = 51905190

// GormStore implements Store using GORM over Postgres or SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations. databaseType is
// "postgres" (default) or "sqlite".
func NewGormStore(databaseType, dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(databaseType)) {
	case "", "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", databaseType)
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
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLog,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&DrawingSessionModel{}, &ChatMessageModel{}, &FileModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if db.Dialector.Name() == "postgres" {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
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

// WithinTx runs fn inside a database transaction.
func (s *GormStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// SaveSession stores or updates a drawing session.
func (s *GormStore) SaveSession(ctx context.Context, sess domain.DrawingSession) error {
	model := sessionToModel(sess)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"assigned_id", "assigned_name", "assigned_licence_no",
			"address", "postal_code", "building_type", "selected_kva", "application_type", "sp_account_no",
			"applicant_note", "sketch_file_id", "uploaded_file_id", "staff_note", "revision_comment",
			"status", "quote_amount", "quote_note", "updated_at",
		}),
	}).Create(&model).Error
}

// GetSession retrieves a session. Inside a Postgres transaction the row is
// locked until commit so concurrent exchanges see each other's transition.
func (s *GormStore) GetSession(ctx context.Context, id string) (domain.DrawingSession, bool, error) {
	var model DrawingSessionModel
	q := s.db.WithContext(ctx)
	if s.inTx() && s.db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.DrawingSession{}, false, nil
		}
		return domain.DrawingSession{}, false, err
	}
	return sessionFromModel(model), true, nil
}

// AppendMessage records a message with a per-session monotonic timestamp.
func (s *GormStore) AppendMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	var stored domain.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last ChatMessageModel
		err := tx.Select("created_at").
			Where("session_id = ?", msg.SessionID).
			Order("created_at DESC").
			Order("id DESC").
			Take(&last).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		model := messageToModel(msg)
		model.ID = 0
		model.CreatedAt = nextMessageTime(last.CreatedAt)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		stored = messageFromModel(model)
		return nil
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	return stored, nil
}

// ListMessages returns messages of a session in (created_at, id) order.
func (s *GormStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	query := s.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []ChatMessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, messageFromModel(model))
	}
	return msgs, nil
}

// DeleteMessages removes the whole conversation of a session.
func (s *GormStore) DeleteMessages(ctx context.Context, sessionID string) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&ChatMessageModel{}, "session_id = ?", sessionID)
	return res.RowsAffected, res.Error
}

// SaveFile stores a file record.
func (s *GormStore) SaveFile(ctx context.Context, f domain.FileRecord) error {
	model := fileToModel(f)
	return s.db.WithContext(ctx).Create(&model).Error
}

// LatestFile returns the newest file of a kind for a session.
func (s *GormStore) LatestFile(ctx context.Context, sessionID string, kind domain.FileKind) (domain.FileRecord, bool, error) {
	var model FileModel
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND kind = ?", sessionID, string(kind)).
		Order("uploaded_at DESC").
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.FileRecord{}, false, nil
		}
		return domain.FileRecord{}, false, err
	}
	return fileFromModel(model), true, nil
}

func (s *GormStore) inTx() bool {
	_, ok := s.db.Statement.ConnPool.(gorm.TxCommitter)
	return ok
}

// nextMessageTime returns now, or one microsecond after last when the clock
// has not moved past it. Postgres keeps microsecond precision.
func nextMessageTime(last time.Time) time.Time {
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !last.IsZero() && !now.After(last) {
		return last.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return now
}

func sessionToModel(s domain.DrawingSession) DrawingSessionModel {
	return DrawingSessionModel{
		ID:                s.ID,
		Kind:              string(s.Kind),
		OwnerID:           s.OwnerID,
		OwnerCompany:      s.OwnerCompany,
		AssignedID:        s.AssignedID,
		AssignedName:      s.AssignedName,
		AssignedLicenceNo: s.AssignedLicenceNo,
		Address:           s.Site.Address,
		PostalCode:        s.Site.PostalCode,
		BuildingType:      s.Site.BuildingType,
		SelectedKVA:       s.Site.SelectedKVA,
		ApplicationType:   s.Site.ApplicationType,
		SPAccountNo:       s.Site.SPAccountNo,
		ApplicantNote:     s.ApplicantNote,
		SketchFileID:      s.SketchFileID,
		UploadedFileID:    s.UploadedFileID,
		StaffNote:         s.StaffNote,
		RevisionComment:   s.RevisionComment,
		Status:            string(s.Status),
		QuoteAmount:       s.QuoteAmount,
		QuoteNote:         s.QuoteNote,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func sessionFromModel(m DrawingSessionModel) domain.DrawingSession {
	return domain.DrawingSession{
		ID:                m.ID,
		Kind:              domain.SessionKind(m.Kind),
		OwnerID:           m.OwnerID,
		OwnerCompany:      m.OwnerCompany,
		AssignedID:        m.AssignedID,
		AssignedName:      m.AssignedName,
		AssignedLicenceNo: m.AssignedLicenceNo,
		Site: domain.Site{
			Address:         m.Address,
			PostalCode:      m.PostalCode,
			BuildingType:    m.BuildingType,
			SelectedKVA:     m.SelectedKVA,
			ApplicationType: m.ApplicationType,
			SPAccountNo:     m.SPAccountNo,
		},
		ApplicantNote:   m.ApplicantNote,
		SketchFileID:    m.SketchFileID,
		UploadedFileID:  m.UploadedFileID,
		StaffNote:       m.StaffNote,
		RevisionComment: m.RevisionComment,
		Status:          domain.SessionStatus(m.Status),
		QuoteAmount:     m.QuoteAmount,
		QuoteNote:       m.QuoteNote,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) ChatMessageModel {
	var meta []byte
	if len(msg.Metadata) > 0 {
		meta, _ = json.Marshal(msg.Metadata)
	}
	return ChatMessageModel{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		UserID:    msg.UserID,
		Role:      msg.Role,
		Content:   msg.Content,
		Metadata:  meta,
		CreatedAt: msg.CreatedAt,
	}
}

func messageFromModel(m ChatMessageModel) domain.Message {
	var meta map[string]any
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.Message{
		ID:        m.ID,
		SessionID: m.SessionID,
		UserID:    m.UserID,
		Role:      m.Role,
		Content:   m.Content,
		Metadata:  meta,
		CreatedAt: m.CreatedAt,
	}
}

func fileToModel(f domain.FileRecord) FileModel {
	return FileModel{
		ID:           f.ID,
		SessionID:    f.SessionID,
		Kind:         string(f.Kind),
		StoragePath:  f.StoragePath,
		OriginalName: f.OriginalName,
		SizeBytes:    f.SizeBytes,
		UploadedAt:   f.UploadedAt,
	}
}

func fileFromModel(m FileModel) domain.FileRecord {
	return domain.FileRecord{
		ID:           m.ID,
		SessionID:    m.SessionID,
		Kind:         domain.FileKind(m.Kind),
		StoragePath:  m.StoragePath,
		OriginalName: m.OriginalName,
		SizeBytes:    m.SizeBytes,
		UploadedAt:   m.UploadedAt,
	}
}

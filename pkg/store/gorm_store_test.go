package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"bluelight/pkg/domain"
)

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "drafting.db") + "?_busy_timeout=5000"
	s, err := NewGormStore("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// storeFactories runs the same behavioural checks against every backend.
func storeFactories(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"sqlite": func() Store { return newSQLiteStore(t) },
	}
}

func sampleSession(id string) domain.DrawingSession {
	now := time.Now().UTC()
	return domain.DrawingSession{
		ID:      id,
		Kind:    domain.KindOrder,
		OwnerID: "applicant-1",
		Site: domain.Site{
			Address:     "1 Marina Blvd",
			PostalCode:  "018989",
			SelectedKVA: 45,
		},
		ApplicantNote: "3-phase",
		Status:        domain.StatusPaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestStoreSessionRoundTrip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory()
			sess := sampleSession("s1")
			if err := s.SaveSession(ctx, sess); err != nil {
				t.Fatalf("save: %v", err)
			}
			sess.BeginExchange()
			if err := s.SaveSession(ctx, sess); err != nil {
				t.Fatalf("update: %v", err)
			}
			got, ok, err := s.GetSession(ctx, "s1")
			if err != nil || !ok {
				t.Fatalf("get: ok=%v err=%v", ok, err)
			}
			if got.Status != domain.StatusInProgress {
				t.Fatalf("status = %s, want in_progress", got.Status)
			}
			if got.Site.SelectedKVA != 45 || got.Site.PostalCode != "018989" {
				t.Fatalf("site not persisted: %+v", got.Site)
			}
			if _, ok, _ := s.GetSession(ctx, "missing"); ok {
				t.Fatalf("expected missing session")
			}
		})
	}
}

func TestGormStoreHidesSoftDeletedSession(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	if err := s.SaveSession(ctx, sampleSession("s1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Sessions are retired outside this service by stamping deleted_at.
	if err := s.db.WithContext(ctx).Delete(&DrawingSessionModel{}, "id = ?", "s1").Error; err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, ok, err := s.GetSession(ctx, "s1"); err != nil || ok {
		t.Fatalf("expected deleted session to be hidden, ok=%v err=%v", ok, err)
	}
	var rows int64
	if err := s.db.WithContext(ctx).Unscoped().Model(&DrawingSessionModel{}).Where("id = ?", "s1").Count(&rows).Error; err != nil || rows != 1 {
		t.Fatalf("row must be kept: rows=%d err=%v", rows, err)
	}
}

func TestStoreMessagesOrderedAndMonotonic(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory()
			var prev domain.Message
			for i, role := range []string{domain.RoleUser, domain.RoleAssistant, domain.RoleUser, domain.RoleAssistant} {
				msg, err := s.AppendMessage(ctx, domain.Message{
					SessionID: "s1",
					UserID:    "staff-1",
					Role:      role,
					Content:   role,
					Metadata:  map[string]any{"turn": i},
				})
				if err != nil {
					t.Fatalf("append %d: %v", i, err)
				}
				if msg.ID == 0 {
					t.Fatalf("expected assigned id")
				}
				if i > 0 && !msg.CreatedAt.After(prev.CreatedAt) {
					t.Fatalf("timestamps not strictly increasing: %v then %v", prev.CreatedAt, msg.CreatedAt)
				}
				prev = msg
			}
			if _, err := s.AppendMessage(ctx, domain.Message{SessionID: "other", Role: domain.RoleUser, Content: "x"}); err != nil {
				t.Fatalf("append other: %v", err)
			}

			msgs, err := s.ListMessages(ctx, "s1", 0)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(msgs) != 4 {
				t.Fatalf("expected 4 messages, got %d", len(msgs))
			}
			for i := 1; i < len(msgs); i++ {
				if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) || msgs[i].ID < msgs[i-1].ID {
					t.Fatalf("messages out of order at %d", i)
				}
			}
			if msgs[0].Role != domain.RoleUser || msgs[1].Role != domain.RoleAssistant {
				t.Fatalf("unexpected roles: %s, %s", msgs[0].Role, msgs[1].Role)
			}
			if msgs[1].Metadata["turn"] != float64(1) {
				t.Fatalf("metadata not persisted: %#v", msgs[1].Metadata)
			}

			n, err := s.DeleteMessages(ctx, "s1")
			if err != nil || n != 4 {
				t.Fatalf("delete: n=%d err=%v", n, err)
			}
			n, err = s.DeleteMessages(ctx, "s1")
			if err != nil || n != 0 {
				t.Fatalf("second delete: n=%d err=%v", n, err)
			}
			other, _ := s.ListMessages(ctx, "other", 0)
			if len(other) != 1 {
				t.Fatalf("other session must keep its messages, got %d", len(other))
			}
		})
	}
}

func TestStoreMessageMetadataIsDetached(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory()
			meta := map[string]any{"turn": 1}
			saved, err := s.AppendMessage(ctx, domain.Message{SessionID: "s1", Role: domain.RoleAssistant, Content: "a", Metadata: meta})
			if err != nil {
				t.Fatalf("append: %v", err)
			}
			meta["turn"] = 2
			saved.Metadata["turn"] = 3

			msgs, err := s.ListMessages(ctx, "s1", 0)
			if err != nil || len(msgs) != 1 {
				t.Fatalf("list: %d messages, err=%v", len(msgs), err)
			}
			if msgs[0].Metadata["turn"] != float64(1) {
				t.Fatalf("stored metadata changed: %#v", msgs[0].Metadata)
			}
			msgs[0].Metadata["turn"] = 4
			again, _ := s.ListMessages(ctx, "s1", 0)
			if again[0].Metadata["turn"] != float64(1) {
				t.Fatalf("listed metadata shares storage: %#v", again[0].Metadata)
			}
		})
	}
}

func TestStoreWithinTxRollsBack(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory()
			if err := s.SaveSession(ctx, sampleSession("s1")); err != nil {
				t.Fatalf("save: %v", err)
			}
			boom := errors.New("boom")
			err := s.WithinTx(ctx, func(tx Store) error {
				sess, _, err := tx.GetSession(ctx, "s1")
				if err != nil {
					return err
				}
				sess.BeginExchange()
				if err := tx.SaveSession(ctx, sess); err != nil {
					return err
				}
				if _, err := tx.AppendMessage(ctx, domain.Message{SessionID: "s1", Role: domain.RoleUser, Content: "hi"}); err != nil {
					return err
				}
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("expected boom, got %v", err)
			}
			got, _, _ := s.GetSession(ctx, "s1")
			if got.Status != domain.StatusPaid {
				t.Fatalf("status must be rolled back, got %s", got.Status)
			}
			msgs, _ := s.ListMessages(ctx, "s1", 0)
			if len(msgs) != 0 {
				t.Fatalf("message must be rolled back, got %d", len(msgs))
			}

			err = s.WithinTx(ctx, func(tx Store) error {
				_, err := tx.AppendMessage(ctx, domain.Message{SessionID: "s1", Role: domain.RoleUser, Content: "hi"})
				return err
			})
			if err != nil {
				t.Fatalf("commit: %v", err)
			}
			msgs, _ = s.ListMessages(ctx, "s1", 0)
			if len(msgs) != 1 {
				t.Fatalf("expected committed message, got %d", len(msgs))
			}
		})
	}
}

func TestStoreLatestFile(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory()
			base := time.Now().UTC()
			records := []domain.FileRecord{
				{ID: "f1", SessionID: "s1", Kind: domain.FileDrawingSLD, StoragePath: "orders/s1/a.pdf", OriginalName: "sld_s1.pdf", SizeBytes: 10, UploadedAt: base},
				{ID: "f2", SessionID: "s1", Kind: domain.FileDrawingSLD, StoragePath: "orders/s1/b.pdf", OriginalName: "sld_s1.pdf", SizeBytes: 12, UploadedAt: base.Add(time.Second)},
				{ID: "f3", SessionID: "s1", Kind: domain.FileSketch, StoragePath: "orders/s1/c.png", OriginalName: "sketch.png", SizeBytes: 5, UploadedAt: base.Add(2 * time.Second)},
			}
			for _, rec := range records {
				if err := s.SaveFile(ctx, rec); err != nil {
					t.Fatalf("save file %s: %v", rec.ID, err)
				}
			}
			latest, ok, err := s.LatestFile(ctx, "s1", domain.FileDrawingSLD)
			if err != nil || !ok {
				t.Fatalf("latest: ok=%v err=%v", ok, err)
			}
			if latest.ID != "f2" {
				t.Fatalf("latest drawing = %s, want f2", latest.ID)
			}
			if latest.StoragePath != "orders/s1/b.pdf" || latest.SizeBytes != 12 {
				t.Fatalf("unexpected latest record: %+v", latest)
			}
			if _, ok, _ := s.LatestFile(ctx, "s2", domain.FileDrawingSLD); ok {
				t.Fatalf("expected no drawing for s2")
			}
		})
	}
}

func TestNewGormStoreRejectsUnknownType(t *testing.T) {
	if _, err := NewGormStore("mysql", "dsn"); err == nil {
		t.Fatalf("expected unsupported database type error")
	}
}

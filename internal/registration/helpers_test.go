package registration

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lppm-portal/kkn-api/internal/database"
	"github.com/lppm-portal/kkn-api/internal/models"
	"github.com/lppm-portal/kkn-api/internal/notifier"
	"github.com/lppm-portal/kkn-api/internal/storage"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type memoryStore struct {
	mu        sync.Mutex
	objects   map[string]string
	deleted   []string
	deleteErr error
	putErr    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string]string{}}
}

func (m *memoryStore) Put(_ context.Context, key string, r io.Reader) (string, error) {
	if m.putErr != nil {
		return "", m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = string(data)
	return key, nil
}

func (m *memoryStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[ref]
	if !ok {
		return nil, storage.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func (m *memoryStore) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, ref)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.objects, ref)
	return nil
}

func (m *memoryStore) has(ref string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[ref]
	return ok
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifier.RegistrationEvent
	err    error
}

func (r *recordingNotifier) NotifyRegistration(_ context.Context, event notifier.RegistrationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

type fixture struct {
	db       *gorm.DB
	store    *memoryStore
	notifier *recordingNotifier
	service  *Service
	student  models.User
	reviewer models.User
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db := openDB(t, ":memory:")
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	// Every connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)
	return newFixture(t, db)
}

// setupFile runs against a database file, so concurrent transactions use
// separate connections and really contend for the write lock.
func setupFile(t *testing.T) *fixture {
	t.Helper()
	return newFixture(t, openDB(t, filepath.Join(t.TempDir(), "kkn.db")))
}

func openDB(t *testing.T, path string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(database.SQLiteDSN(path)), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func newFixture(t *testing.T, db *gorm.DB) *fixture {
	t.Helper()
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	f := &fixture{
		db:       db,
		store:    newMemoryStore(),
		notifier: &recordingNotifier{},
		student:  models.User{Name: "Siti Aminah", Email: "siti@student.univ.ac.id", Phone: "081234567890", StudentNumber: "2101001", SSOSubject: "sso-siti"},
		reviewer: models.User{Name: "Dr. Budi", Email: "budi@univ.ac.id", Role: models.RoleReviewer, SSOSubject: "sso-budi"},
	}
	if err := db.Create(&f.student).Error; err != nil {
		t.Fatalf("failed to create student: %v", err)
	}
	if err := db.Create(&f.reviewer).Error; err != nil {
		t.Fatalf("failed to create reviewer: %v", err)
	}

	f.service = NewService(db, f.store, f.notifier, 2<<20)
	f.service.now = func() time.Time { return time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) addStudent(t *testing.T, name string) models.User {
	t.Helper()
	u := models.User{Name: name, Email: strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@student.univ.ac.id", SSOSubject: "sso-" + name}
	if err := f.db.Create(&u).Error; err != nil {
		t.Fatalf("failed to create student: %v", err)
	}
	return u
}

func (f *fixture) seed(t *testing.T, status models.RegistrationStatus) models.Registration {
	t.Helper()
	return f.seedFor(t, f.student.ID, status)
}

func (f *fixture) seedFor(t *testing.T, studentID uint, status models.RegistrationStatus) models.Registration {
	t.Helper()
	docs := models.Documents{
		"krs":        "kkn/old/krs.pdf",
		"health":     "kkn/old/health.pdf",
		"transcript": "kkn/old/transcript.pdf",
		"photo":      "kkn/old/photo.jpg",
	}
	for _, ref := range docs {
		f.store.objects[ref] = "old"
	}
	reg := models.Registration{
		StudentID:  studentID,
		FiscalYear: "2025",
		Status:     status,
		Documents:  datatypes.NewJSONType(docs),
	}
	if err := f.db.Create(&reg).Error; err != nil {
		t.Fatalf("failed to seed registration: %v", err)
	}
	return reg
}

func (f *fixture) logs(t *testing.T, registrationID uint) []models.RegistrationLog {
	t.Helper()
	var logs []models.RegistrationLog
	if err := f.db.Where("registration_id = ?", registrationID).Order("id ASC").Find(&logs).Error; err != nil {
		t.Fatalf("failed to load logs: %v", err)
	}
	return logs
}

func (f *fixture) reload(t *testing.T, id uint) models.Registration {
	t.Helper()
	var reg models.Registration
	if err := f.db.First(&reg, id).Error; err != nil {
		t.Fatalf("failed to reload registration: %v", err)
	}
	return reg
}

func upload(kind DocumentKind, filename, content string) Upload {
	return Upload{Kind: kind, Filename: filename, Size: int64(len(content)), Content: strings.NewReader(content)}
}

func fieldOf(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Field
	}
	return ""
}

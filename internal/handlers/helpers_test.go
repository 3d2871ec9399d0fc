package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/lppm-portal/kkn-api/internal/auth"
	"github.com/lppm-portal/kkn-api/internal/config"
	"github.com/lppm-portal/kkn-api/internal/database"
	"github.com/lppm-portal/kkn-api/internal/models"
	"github.com/lppm-portal/kkn-api/internal/registration"
	"github.com/lppm-portal/kkn-api/internal/storage"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testServer struct {
	router   *chi.Mux
	db       *gorm.DB
	auth     *auth.AuthHandler
	store    *storage.LocalStore
	student  models.User
	reviewer models.User
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	cfg := &config.Config{JWTSecret: "test-secret", MaxUploadSize: 2 << 20, FrontendURL: "http://localhost:5173"}
	service := registration.NewService(db, store, nil, cfg.MaxUploadSize)
	authHandler := auth.NewAuthHandler(cfg, db, nil)

	s := &testServer{
		router:   chi.NewRouter(),
		db:       db,
		auth:     authHandler,
		store:    store,
		student:  models.User{SSOSubject: "sso-siti", Name: "Siti Aminah", Email: "siti@student.univ.ac.id", StudentNumber: "2101001", Role: models.RoleStudent},
		reviewer: models.User{SSOSubject: "sso-budi", Name: "Dr. Budi", Email: "budi@univ.ac.id", Role: models.RoleReviewer},
	}
	db.Create(&s.student)
	db.Create(&s.reviewer)

	RegisterRoutes(s.router, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), Handlers{
		Auth:         authHandler,
		Review:       NewReviewHandler(service),
		Registration: NewRegistrationHandler(service),
		APIKeys:      NewAPIKeyHandler(db),
	})
	return s
}

// do sends a request as user; a nil user sends no credentials.
func (s *testServer) do(t *testing.T, method, path string, user *models.User, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if user != nil {
		token, err := s.auth.GenerateToken(user.ID)
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) doJSON(t *testing.T, method, path string, user *models.User, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
		body = bytes.NewReader(data)
	}
	return s.do(t, method, path, user, body, "application/json")
}

func (s *testServer) seed(t *testing.T, status models.RegistrationStatus) models.Registration {
	t.Helper()
	return s.seedFor(t, s.student.ID, status)
}

func (s *testServer) seedFor(t *testing.T, studentID uint, status models.RegistrationStatus) models.Registration {
	t.Helper()
	reg := models.Registration{
		StudentID:  studentID,
		FiscalYear: "2025",
		Status:     status,
		Documents:  datatypes.NewJSONType(models.Documents{}),
	}
	if err := s.db.Create(&reg).Error; err != nil {
		t.Fatalf("failed to seed registration: %v", err)
	}
	return reg
}

func (s *testServer) addStudent(t *testing.T, name, email string) models.User {
	t.Helper()
	u := models.User{SSOSubject: "sso-" + email, Name: name, Email: email, Role: models.RoleStudent}
	if err := s.db.Create(&u).Error; err != nil {
		t.Fatalf("failed to create student: %v", err)
	}
	return u
}

// multipartForm builds a form where each file's content is "content of <filename>".
func multipartForm(t *testing.T, fields map[string]string, files map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for field, filename := range files {
		w, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		io.WriteString(w, "content of "+filename)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return v
}

type problem struct {
	Status int    `json:"status"`
	Detail string `json:"detail"`
	Errors []struct {
		Message  string `json:"message"`
		Location string `json:"location"`
	} `json:"errors"`
}

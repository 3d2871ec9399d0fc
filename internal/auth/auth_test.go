package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"testing"

	"github.com/lppm-portal/kkn-api/internal/config"
	"github.com/lppm-portal/kkn-api/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
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

	if err := db.AutoMigrate(&models.User{}, &models.APIKey{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestHandleMe(t *testing.T) {
	db := newTestDB(t)
	user := models.User{SSOSubject: "sub-1", Name: "Dr. Budi", Email: "budi@univ.ac.id", Role: models.RoleReviewer}
	db.Create(&user)

	handler := NewAuthHandler(&config.Config{JWTSecret: "test-secret"}, db, nil)

	t.Run("Authenticated", func(t *testing.T) {
		ctx := WithPrincipal(context.Background(), Principal{User: user})
		resp, err := handler.HandleMe(ctx, &struct{}{})
		if err != nil {
			t.Fatalf("HandleMe returned error: %v", err)
		}
		if resp.Body.Name != user.Name || resp.Body.Email != user.Email {
			t.Errorf("unexpected profile %+v", resp.Body)
		}
		if !slices.Equal(resp.Body.Capabilities, []Capability{CapReviewRegistrations}) {
			t.Errorf("expected review capability only, got %v", resp.Body.Capabilities)
		}
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		if _, err := handler.HandleMe(context.Background(), &struct{}{}); err == nil {
			t.Fatal("expected error for unauthenticated request, got nil")
		}
	})
}

func TestTokenRoundTrip(t *testing.T) {
	handler := NewAuthHandler(&config.Config{JWTSecret: "test-secret"}, nil, nil)
	token, err := handler.GenerateToken(42)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}

	userID, expiresAt, err := handler.parseToken(token)
	if err != nil {
		t.Fatalf("parseToken returned error: %v", err)
	}
	if userID != 42 || expiresAt.IsZero() {
		t.Errorf("expected user 42 with expiry, got %d %v", userID, expiresAt)
	}

	other := NewAuthHandler(&config.Config{JWTSecret: "another-secret"}, nil, nil)
	if _, _, err := other.parseToken(token); err == nil {
		t.Error("expected token signed with another secret to be rejected")
	}
}

func TestRoleFor(t *testing.T) {
	handler := NewAuthHandler(&config.Config{
		AdminEmails:    []string{"Rector@univ.ac.id"},
		ReviewerEmails: []string{" budi@univ.ac.id"},
	}, nil, nil)

	cases := []struct {
		email, current, want string
	}{
		{"rector@univ.ac.id", "", models.RoleAdmin},
		{"BUDI@univ.ac.id", models.RoleStudent, models.RoleReviewer},
		{"siti@student.univ.ac.id", "", models.RoleStudent},
		{"dean@univ.ac.id", models.RoleReviewer, models.RoleReviewer},
	}
	for _, tc := range cases {
		if got := handler.roleFor(tc.email, tc.current); got != tc.want {
			t.Errorf("roleFor(%q, %q) = %q, want %q", tc.email, tc.current, got, tc.want)
		}
	}
}

func TestHandleLogin(t *testing.T) {
	handler := NewAuthHandler(&config.Config{
		SSOClientID: "kkn",
		SSOAuthURL:  "https://sso.univ.ac.id/authorize",
	}, nil, nil)

	rr := httptest.NewRecorder()
	handler.HandleLogin(rr, httptest.NewRequest(http.MethodGet, "/auth/sso/login", nil))

	if rr.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected redirect, got %d", rr.Code)
	}
	location, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid redirect: %v", err)
	}

	var state string
	for _, c := range rr.Result().Cookies() {
		if c.Name == stateCookieName {
			state = c.Value
		}
	}
	if state == "" || location.Query().Get("state") != state {
		t.Errorf("expected state cookie to match redirect state, got %q and %q", state, location.Query().Get("state"))
	}
}

// newSSOServer serves a token endpoint and a userinfo endpoint returning
// whatever *info points at when the request arrives.
func newSSOServer(t *testing.T, info *map[string]string) *httptest.Server {
	t.Helper()
	sso := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			json.NewEncoder(w).Encode(map[string]any{"access_token": "sso-token", "token_type": "Bearer", "expires_in": 3600})
		case "/userinfo":
			if r.Header.Get("Authorization") != "Bearer sso-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(*info)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(sso.Close)
	return sso
}

func callback(handler *AuthHandler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/auth/sso/callback?state=s1&code=abc", nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "s1"})
	rr := httptest.NewRecorder()
	handler.HandleCallback(rr, req)
	return rr
}

func TestHandleCallback(t *testing.T) {
	info := map[string]string{}
	sso := newSSOServer(t, &info)

	db := newTestDB(t)
	handler := NewAuthHandler(&config.Config{
		JWTSecret:      "test-secret",
		SSOTokenURL:    sso.URL + "/token",
		SSOUserInfoURL: sso.URL + "/userinfo",
		FrontendURL:    "http://localhost:5173",
		ReviewerEmails: []string{"budi@univ.ac.id"},
	}, db, nil)

	t.Run("InvalidState", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/sso/callback?state=forged&code=abc", nil)
		req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "expected"})
		rr := httptest.NewRecorder()
		handler.HandleCallback(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("Success", func(t *testing.T) {
		info = map[string]string{"sub": "sso-budi", "name": "Dr. Budi", "email": "budi@univ.ac.id"}
		rr := callback(handler)

		if rr.Code != http.StatusFound || rr.Header().Get("Location") != "http://localhost:5173" {
			t.Fatalf("expected redirect to frontend, got %d %q: %s", rr.Code, rr.Header().Get("Location"), rr.Body.String())
		}

		var user models.User
		if err := db.Where("sso_subject = ?", "sso-budi").First(&user).Error; err != nil {
			t.Fatalf("expected user to be stored: %v", err)
		}
		if user.Role != models.RoleReviewer {
			t.Errorf("expected reviewer role, got %q", user.Role)
		}

		var session string
		for _, c := range rr.Result().Cookies() {
			if c.Name == CookieName {
				session = c.Value
			}
		}
		userID, _, err := handler.parseToken(session)
		if err != nil || userID != user.ID {
			t.Errorf("expected session for user %d, got %d (%v)", user.ID, userID, err)
		}
	})

	t.Run("MissingEmail", func(t *testing.T) {
		for _, sub := range []string{"sso-anon-1", "sso-anon-2"} {
			info = map[string]string{"sub": sub, "name": "Anonymous", "email": " "}
			if rr := callback(handler); rr.Code != http.StatusBadRequest {
				t.Fatalf("%s: expected 400, got %d: %s", sub, rr.Code, rr.Body.String())
			}
		}
		var count int64
		db.Model(&models.User{}).Where("sso_subject LIKE ?", "sso-anon-%").Count(&count)
		if count != 0 {
			t.Errorf("expected no users stored, got %d", count)
		}
	})

	t.Run("LinksExistingEmail", func(t *testing.T) {
		seeded := models.User{Name: "Siti", Email: "siti@student.univ.ac.id", StudentNumber: "2101001"}
		if err := db.Create(&seeded).Error; err != nil {
			t.Fatalf("failed to seed user: %v", err)
		}

		info = map[string]string{"sub": "sso-siti", "name": "Siti Aminah", "email": "siti@student.univ.ac.id"}
		if rr := callback(handler); rr.Code != http.StatusFound {
			t.Fatalf("expected redirect, got %d: %s", rr.Code, rr.Body.String())
		}

		var users []models.User
		db.Where("email = ?", "siti@student.univ.ac.id").Find(&users)
		if len(users) != 1 || users[0].ID != seeded.ID || users[0].SSOSubject != "sso-siti" {
			t.Errorf("expected seeded user to be linked, got %+v", users)
		}
		if users[0].StudentNumber != "2101001" {
			t.Errorf("expected student number to be kept, got %q", users[0].StudentNumber)
		}
	})

	t.Run("EmailTakenByAnotherSubject", func(t *testing.T) {
		info = map[string]string{"sub": "sso-impostor", "name": "Budi", "email": "budi@univ.ac.id"}
		if rr := callback(handler); rr.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

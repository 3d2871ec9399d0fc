package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lppm-portal/kkn-api/internal/config"
	"github.com/lppm-portal/kkn-api/internal/models"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

const (
	TokenDuration   = 24 * time.Hour
	CookieName      = "auth_token"
	stateCookieName = "sso_state"
)

var ErrUnauthorized = errors.New("unauthorized")

type AuthHandler struct {
	oauthConfig *oauth2.Config
	db          *gorm.DB
	cfg         *config.Config
	policy      Policy
}

func NewAuthHandler(cfg *config.Config, db *gorm.DB, policy Policy) *AuthHandler {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &AuthHandler{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.SSOClientID,
			ClientSecret: cfg.SSOClientSecret,
			RedirectURL:  cfg.SSORedirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.SSOAuthURL,
				TokenURL: cfg.SSOTokenURL,
			},
		},
		db:     db,
		cfg:    cfg,
		policy: policy,
	}
}

func (h *AuthHandler) Policy() Policy {
	return h.policy
}

func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	stateBytes := make([]byte, 16)
	if _, err := rand.Read(stateBytes); err != nil {
		http.Error(w, "Failed to start login", http.StatusInternalServerError)
		return
	}
	state := hex.EncodeToString(stateBytes)

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true,
		Path:     "/auth",
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOnline), http.StatusTemporaryRedirect)
}

func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		http.Error(w, "Invalid login state", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Code not found", http.StatusBadRequest)
		return
	}

	token, err := h.oauthConfig.Exchange(r.Context(), code)
	if err != nil {
		slog.WarnContext(r.Context(), "SSO token exchange failed", slog.String("error", err.Error()))
		http.Error(w, "Failed to exchange token", http.StatusInternalServerError)
		return
	}

	resp, err := h.oauthConfig.Client(r.Context(), token).Get(h.cfg.SSOUserInfoURL)
	if err != nil {
		http.Error(w, "Failed to get user info", http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		http.Error(w, "Failed to get user info", http.StatusBadGateway)
		return
	}

	var info struct {
		Subject       string `json:"sub"`
		Name          string `json:"name"`
		Email         string `json:"email"`
		Phone         string `json:"phone_number"`
		StudentNumber string `json:"student_number"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil || info.Subject == "" {
		http.Error(w, "Failed to decode user info", http.StatusInternalServerError)
		return
	}
	info.Email = strings.TrimSpace(info.Email)
	if info.Email == "" {
		slog.WarnContext(r.Context(), "SSO account without email", slog.String("subject", info.Subject))
		http.Error(w, "SSO account has no email address", http.StatusBadRequest)
		return
	}

	user, err := h.findSSOUser(r.Context(), info.Subject, info.Email)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	user.SSOSubject = info.Subject
	user.Name = info.Name
	user.Email = info.Email
	if info.Phone != "" {
		user.Phone = info.Phone
	}
	if info.StudentNumber != "" {
		user.StudentNumber = info.StudentNumber
	}
	user.Role = h.roleFor(user.Email, user.Role)

	if err := h.db.WithContext(r.Context()).Save(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			http.Error(w, "Email address belongs to another account", http.StatusConflict)
			return
		}
		http.Error(w, "Failed to save user", http.StatusInternalServerError)
		return
	}

	jwtToken, err := h.GenerateToken(user.ID)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Path: "/auth", MaxAge: -1})
	http.SetCookie(w, h.sessionCookie(jwtToken))

	slog.InfoContext(r.Context(), "user logged in", slog.Uint64("user_id", uint64(user.ID)), slog.String("role", user.Role))
	http.Redirect(w, r, h.cfg.FrontendURL, http.StatusFound)
}

// findSSOUser matches on the SSO subject first, then links an account that
// was created for the same email before its first login.
func (h *AuthHandler) findSSOUser(ctx context.Context, subject, email string) (models.User, error) {
	var user models.User
	err := h.db.WithContext(ctx).Where("sso_subject = ?", subject).First(&user).Error
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return user, err
	}
	err = h.db.WithContext(ctx).Where("email = ? AND (sso_subject = '' OR sso_subject IS NULL)", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, nil
	}
	return user, err
}

func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: CookieName, Path: "/", MaxAge: -1, HttpOnly: true})
	w.WriteHeader(http.StatusNoContent)
}

// roleFor applies the configured admin and reviewer lists; anyone else keeps the stored role.
func (h *AuthHandler) roleFor(email, current string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	matches := func(list []string) bool {
		return slices.ContainsFunc(list, func(e string) bool {
			return strings.ToLower(strings.TrimSpace(e)) == email
		})
	}
	switch {
	case email != "" && matches(h.cfg.AdminEmails):
		return models.RoleAdmin
	case email != "" && matches(h.cfg.ReviewerEmails):
		return models.RoleReviewer
	case current != "":
		return current
	default:
		return models.RoleStudent
	}
}

func (h *AuthHandler) GenerateToken(userID uint) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(TokenDuration).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.cfg.JWTSecret))
}

func (h *AuthHandler) sessionCookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Expires:  time.Now().Add(TokenDuration),
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	}
}

// parseToken validates an HS256 session token and returns its user id and expiry.
func (h *AuthHandler) parseToken(tokenString string) (uint, time.Time, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(h.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return 0, time.Time{}, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("%w: invalid token claims", ErrUnauthorized)
	}
	userIDFloat, ok := claims["user_id"].(float64)
	if !ok || userIDFloat <= 0 {
		return 0, time.Time{}, fmt.Errorf("%w: invalid token claims", ErrUnauthorized)
	}

	var expiresAt time.Time
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
	}
	return uint(userIDFloat), expiresAt, nil
}

// Credentials are the raw authentication inputs of a request.
type Credentials struct {
	APIKey string
	Bearer string
	Cookie string
}

// Authenticate resolves credentials to a user id. An API key wins when it exists;
// otherwise the bearer token or session cookie is used. renewed is a fresh token
// when the presented one is past half of its lifetime.
func (h *AuthHandler) Authenticate(ctx context.Context, creds Credentials) (userID uint, renewed string, err error) {
	if creds.APIKey != "" {
		var key models.APIKey
		err := h.db.WithContext(ctx).Where("key = ?", creds.APIKey).First(&key).Error
		switch {
		case err == nil:
			now := time.Now()
			if key.Expired(now) {
				return 0, "", fmt.Errorf("%w: API key expired", ErrUnauthorized)
			}
			h.db.WithContext(ctx).Model(&key).Update("last_used_at", now)
			return key.UserID, "", nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return 0, "", err
		}
	}

	tokenString := creds.Bearer
	if tokenString == "" {
		tokenString = creds.Cookie
	}
	if tokenString == "" {
		return 0, "", fmt.Errorf("%w: no token found", ErrUnauthorized)
	}

	userID, expiresAt, err := h.parseToken(tokenString)
	if err != nil {
		return 0, "", err
	}

	// Sliding session: refresh token if it's more than halfway through its duration
	if !expiresAt.IsZero() && time.Until(expiresAt) < TokenDuration/2 {
		if fresh, err := h.GenerateToken(userID); err == nil {
			renewed = fresh
		}
	}
	return userID, renewed, nil
}

// LoadPrincipal reads the user behind an authenticated request.
func (h *AuthHandler) LoadPrincipal(ctx context.Context, userID uint) (Principal, error) {
	var user models.User
	if err := h.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Principal{}, fmt.Errorf("%w: user not found", ErrUnauthorized)
		}
		return Principal{}, err
	}
	return Principal{User: user}, nil
}

type MeOutput struct {
	Body struct {
		ID            uint         `json:"id"`
		Name          string       `json:"name"`
		Email         string       `json:"email"`
		Phone         string       `json:"phone,omitempty"`
		StudentNumber string       `json:"student_number,omitempty"`
		Role          string       `json:"role"`
		Capabilities  []Capability `json:"capabilities"`
	}
}

func (h *AuthHandler) HandleMe(ctx context.Context, input *struct{}) (*MeOutput, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	resp := &MeOutput{}
	resp.Body.ID = p.User.ID
	resp.Body.Name = p.User.Name
	resp.Body.Email = p.User.Email
	resp.Body.Phone = p.User.Phone
	resp.Body.StudentNumber = p.User.StudentNumber
	resp.Body.Role = p.User.Role
	resp.Body.Capabilities = []Capability{}
	for _, c := range []Capability{CapReviewRegistrations, CapSubmitRegistration} {
		if h.policy.Allows(p, c) {
			resp.Body.Capabilities = append(resp.Body.Capabilities, c)
		}
	}
	return resp, nil
}

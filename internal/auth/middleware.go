package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// Middleware authenticates the request and checks every listed capability
// before handing the operation a context carrying the Principal.
func (h *AuthHandler) Middleware(api huma.API, caps ...Capability) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		creds := Credentials{
			APIKey: ctx.Header("X-API-KEY"),
			Bearer: bearerToken(ctx.Header("Authorization")),
			Cookie: cookieValue(ctx.Header("Cookie"), CookieName),
		}

		userID, renewed, err := h.Authenticate(ctx.Context(), creds)
		if err == nil {
			var p Principal
			if p, err = h.LoadPrincipal(ctx.Context(), userID); err == nil {
				for _, c := range caps {
					if !h.policy.Allows(p, c) {
						huma.WriteErr(api, ctx, http.StatusForbidden, fmt.Sprintf("Forbidden: missing capability %s", c))
						return
					}
				}
				if renewed != "" {
					ctx.AppendHeader("Set-Cookie", h.sessionCookie(renewed).String())
				}
				next(huma.WithValue(ctx, principalKey{}, p))
				return
			}
		}

		if errors.Is(err, ErrUnauthorized) {
			huma.WriteErr(api, ctx, http.StatusUnauthorized, "Unauthorized: "+strings.TrimPrefix(err.Error(), ErrUnauthorized.Error()+": "))
			return
		}
		slog.ErrorContext(ctx.Context(), "authentication failed", slog.String("error", err.Error()))
		huma.WriteErr(api, ctx, http.StatusInternalServerError, "Authentication failed")
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func cookieValue(header, name string) string {
	if header == "" {
		return ""
	}
	req := http.Request{Header: http.Header{"Cookie": {header}}}
	c, err := req.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

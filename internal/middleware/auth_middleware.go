/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/sessions"
)

// Name of the cookie session written by the authentication collaborator
const SessionName = "auth-session"

// Identity is the authenticated user of a request
type Identity struct {
	UUID     string
	Username string
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying id
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// CurrentIdentity returns the identity stored by AuthMiddleware
func CurrentIdentity(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// IssueSession writes the session cookie for a user. Registration and login live
// elsewhere, they call this once the user is authenticated.
func IssueSession(store sessions.Store, w http.ResponseWriter, r *http.Request, id Identity) error {
	session, err := store.Get(r, SessionName)
	if err != nil && session == nil {
		return err
	}
	session.Values["user_uuid"] = id.UUID
	session.Values["username"] = id.Username
	return session.Save(r, w)
}

// AuthMiddleware lets through only the requests carrying a valid session, storing the identity in their context
func AuthMiddleware(store sessions.Store, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := store.Get(r, SessionName)
		if err != nil {
			unauthorized(w, "invalid session")
			return
		}

		userUUID, ok1 := session.Values["user_uuid"].(string)
		username, ok2 := session.Values["username"].(string)
		if !(ok1 && ok2) || userUUID == "" {
			unauthorized(w, "not authenticated")
			return
		}

		ctx := WithIdentity(r.Context(), Identity{UUID: userUUID, Username: username})
		next(w, r.WithContext(ctx))
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": message})
}

package middleware

import (
	"net/http"
	"strconv"

	"github.com/kiranshivaraju/wavedeck/internal/api/response"
)

// UserIDHeader names the caller. There is no authentication: the header is
// trusted as given.
const UserIDHeader = "X-User-ID"

// User resolves the caller from X-User-ID, falling back to a default user
// when the header is absent.
type User struct {
	defaultUserID int64
}

func NewUser(defaultUserID int64) *User {
	return &User{defaultUserID: defaultUserID}
}

func (u *User) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := u.defaultUserID
		if h := r.Header.Get(UserIDHeader); h != "" {
			parsed, err := strconv.ParseInt(h, 10, 64)
			if err != nil || parsed < 1 {
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
					"X-User-ID must be a positive integer", nil)
				return
			}
			id = parsed
		}
		next.ServeHTTP(w, r.WithContext(SetUserID(r.Context(), id)))
	})
}

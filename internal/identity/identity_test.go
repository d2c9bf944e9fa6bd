package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

func TestOwnerKeyForms(t *testing.T) {
	if k := UserKey("42"); k != "user:42" || k.IsGuest() {
		t.Fatalf("unexpected user key: %s", k)
	}
	if k := GuestKey("abc"); k != "guest:abc" || !k.IsGuest() {
		t.Fatalf("unexpected guest key: %s", k)
	}
	if OwnerKey("user:").Valid() {
		t.Fatal("empty user id must be invalid")
	}
	if !GuestKey("t").Valid() {
		t.Fatal("guest key should be valid")
	}
}

func TestParseRole(t *testing.T) {
	if ParseRole("premium") != RolePremium {
		t.Fatal("premium not recognized")
	}
	if ParseRole(" Admin ") != RoleAdmin {
		t.Fatal("admin not recognized")
	}
	if ParseRole("whatever") != RoleUser {
		t.Fatal("unknown role should fall back to user")
	}
}

func TestNewUserPromotesGuestRole(t *testing.T) {
	ident, err := NewUser("7", RoleGuest)
	if err != nil {
		t.Fatalf("NewUser returned error: %v", err)
	}
	if ident.Role != RoleUser {
		t.Fatalf("guest role should be promoted to user, got %s", ident.Role)
	}
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	store := cookie.NewStore([]byte("test-secret"))
	router.Use(sessions.Sessions(SessionCookieName, store))
	router.Use(Middleware())
	router.GET("/whoami", func(c *gin.Context) {
		ident, ok := FromContext(c)
		if !ok {
			c.String(http.StatusInternalServerError, "no identity")
			return
		}
		c.String(http.StatusOK, "%s|%s", ident.Key, ident.Role)
	})
	return router
}

func TestMiddlewareResolvesUserHeader(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-User-ID", "123")
	req.Header.Set("X-User-Role", "premium")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if rec.Body.String() != "user:123|premium" {
		t.Fatalf("unexpected identity: %s", rec.Body.String())
	}
}

func TestMiddlewareMintsGuestToken(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	body := rec.Body.String()
	if len(body) < len("guest:|guest") || body[:6] != "guest:" {
		t.Fatalf("expected guest identity, got %s", body)
	}
	if cookies := rec.Result().Cookies(); len(cookies) == 0 {
		t.Fatal("expected session cookie to be set")
	}
}

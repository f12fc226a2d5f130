package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"projectapi/internal/apperr"
	"projectapi/internal/cache"
	cacheMocks "projectapi/internal/cache/mocks"
	"projectapi/internal/http/middleware"
	"projectapi/internal/model"
	"projectapi/internal/service"
	serviceMocks "projectapi/internal/service/mocks"
)

const testToken = "test-token"

type testEnv struct {
	app   *fiber.App
	auth  *serviceMocks.MockAuthService
	items *serviceMocks.MockItemService
	db    sqlmock.Sqlmock
	cache *cacheMocks.MockCache
	user  uuid.UUID
}

// newTestEnv wires every route with mocks. testToken authenticates as env.user.
func newTestEnv(t *testing.T, staff bool) *testEnv {
	t.Helper()
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		app:   fiber.New(fiber.Config{ErrorHandler: ErrorHandler()}),
		auth:  new(serviceMocks.MockAuthService),
		items: new(serviceMocks.MockItemService),
		db:    dbMock,
		cache: new(cacheMocks.MockCache),
		user:  uuid.New(),
	}
	claims := &service.Claims{Email: "test@example.com", Staff: staff}
	claims.Subject = env.user.String()
	env.auth.On("ValidateToken", mock.Anything, testToken).Return(claims, nil).Maybe()
	env.auth.On("CurrentUser", mock.Anything, env.user).
		Return(&model.User{ID: env.user, Email: "test@example.com", IsActive: true, IsStaff: staff}, nil).Maybe()

	env.app.Use(middleware.RequestID())
	RegisterRoutes(env.app, Deps{
		DB:       db,
		Cache:    env.cache,
		Pending:  func(context.Context) ([]string, error) { return nil, nil },
		Auth:     env.auth,
		Items:    env.items,
		Gatherer: prometheus.NewRegistry(),
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body any, authed bool) *http.Response {
	t.Helper()
	var req *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, target, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	resp, err := e.app.Test(req)
	require.NoError(t, err)
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errorPayload {
	t.Helper()
	var res errorPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return res
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, false)

	for _, target := range []string{"/api/health", "/api/health/"} {
		resp := env.do(t, http.MethodGet, target, nil, false)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "backend-api", body["service"])
		assert.Equal(t, "1.0.0", body["version"])
		assert.NotEmpty(t, body["timestamp"])
	}
}

func TestLivenessProbe(t *testing.T) {
	app := fiber.New()
	app.Get("/healthz", LivenessProbe())

	resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDBHealth(t *testing.T) {
	env := newTestEnv(t, false)

	t.Run("connected", func(t *testing.T) {
		env.db.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		resp := env.do(t, http.MethodGet, "/api/health/db", nil, false)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "connected", body["database"])
		assert.Nil(t, body["error"])
	})

	t.Run("error is still 200", func(t *testing.T) {
		env.db.ExpectQuery("SELECT 1").WillReturnError(errors.New("db error"))

		resp := env.do(t, http.MethodGet, "/api/health/db", nil, false)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "error", body["database"])
		assert.Contains(t, body["error"], "db error")
	})
	assert.NoError(t, env.db.ExpectationsWereMet())
}

func TestCacheHealth(t *testing.T) {
	env := newTestEnv(t, false)

	env.cache.On("Set", mock.Anything, "health_check", []byte("ok"), mock.Anything).Return(nil).Once()
	env.cache.On("Get", mock.Anything, "health_check").Return([]byte("ok"), nil).Once()

	resp := env.do(t, http.MethodGet, "/api/health/cache", nil, false)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "connected", body["cache"])

	env.cache.On("Set", mock.Anything, "health_check", mock.Anything, mock.Anything).Return(errors.New("redis down")).Once()

	resp = env.do(t, http.MethodGet, "/api/health/cache", nil, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "error", body["cache"])
	assert.Equal(t, "redis down", body["error"])
	env.cache.AssertExpectations(t)
}

func TestReadiness(t *testing.T) {
	okRows := func() *sqlmock.Rows { return sqlmock.NewRows([]string{"?column?"}).AddRow(1) }

	tests := []struct {
		name       string
		setup      func(db sqlmock.Sqlmock, c *cacheMocks.MockCache)
		pending    PendingMigrations
		wantStatus int
		wantChecks map[string]bool
		wantErrors map[string]string
	}{
		{
			name: "ready",
			setup: func(db sqlmock.Sqlmock, c *cacheMocks.MockCache) {
				db.ExpectQuery("SELECT 1").WillReturnRows(okRows())
				c.On("Set", mock.Anything, "readiness_check", mock.Anything, mock.Anything).Return(nil)
				c.On("Get", mock.Anything, "readiness_check").Return([]byte("ok"), nil)
			},
			pending:    func(context.Context) ([]string, error) { return nil, nil },
			wantStatus: http.StatusOK,
			wantChecks: map[string]bool{"database": true, "cache": true, "migrations": true},
		},
		{
			name: "pending migrations",
			setup: func(db sqlmock.Sqlmock, c *cacheMocks.MockCache) {
				db.ExpectQuery("SELECT 1").WillReturnRows(okRows())
				c.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
				c.On("Get", mock.Anything, mock.Anything).Return([]byte("ok"), nil)
			},
			pending:    func(context.Context) ([]string, error) { return []string{"0003_create_items"}, nil },
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]bool{"database": true, "cache": true, "migrations": false},
			wantErrors: map[string]string{"migrations": "Pending migrations detected"},
		},
		{
			name: "everything down",
			setup: func(db sqlmock.Sqlmock, c *cacheMocks.MockCache) {
				db.ExpectQuery("SELECT 1").WillReturnError(errors.New("conn refused"))
				c.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
				c.On("Get", mock.Anything, mock.Anything).Return(nil, cache.ErrMiss)
			},
			pending:    func(context.Context) ([]string, error) { return nil, errors.New("history unreadable") },
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]bool{"database": false, "cache": false, "migrations": false},
			wantErrors: map[string]string{
				"database":   "select 1: conn refused",
				"cache":      "cache miss",
				"migrations": "history unreadable",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, dbMock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			c := new(cacheMocks.MockCache)
			tt.setup(dbMock, c)

			app := fiber.New()
			app.Get("/ready", Readiness(db, c, tt.pending))
			resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			var body struct {
				Ready  bool              `json:"ready"`
				Checks map[string]bool   `json:"checks"`
				Errors map[string]string `json:"errors"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantStatus == http.StatusOK, body.Ready)
			assert.Equal(t, tt.wantChecks, body.Checks)
			assert.Equal(t, tt.wantErrors, body.Errors)
		})
	}

	t.Run("nil cache", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		dbMock.ExpectQuery("SELECT 1").WillReturnRows(okRows())

		app := fiber.New()
		app.Get("/ready", Readiness(db, nil, func(context.Context) ([]string, error) { return nil, nil }))
		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t, false)
	in := service.RegisterInput{Email: "newuser@example.com", Password: "securepass123", FirstName: "New", LastName: "User"}

	t.Run("created", func(t *testing.T) {
		env.auth.On("Register", mock.Anything, in).Return(&model.User{ID: uuid.New(), Email: in.Email, PasswordHash: "secret"}, nil).Once()

		resp := env.do(t, http.MethodPost, "/api/auth/register/", in, false)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, in.Email, body["email"])
		assert.NotContains(t, body, "password_hash")
	})

	t.Run("duplicate", func(t *testing.T) {
		env.auth.On("Register", mock.Anything, in).Return(nil, apperr.Conflict("email already registered")).Once()

		resp := env.do(t, http.MethodPost, "/api/auth/register", in, false)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		res := decodeError(t, resp)
		assert.Equal(t, "CONFLICT", res.Error.Code)
		assert.Equal(t, "email already registered", res.Error.Message)
	})

	t.Run("validation details", func(t *testing.T) {
		bad := service.RegisterInput{Email: "nope"}
		env.auth.On("Register", mock.Anything, bad).Return(nil, &apperr.ValidationError{
			Fields: []apperr.FieldError{{Field: "email", Message: "must be a valid email address"}},
		}).Once()

		resp := env.do(t, http.MethodPost, "/api/auth/register", bad, false)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		res := decodeError(t, resp)
		assert.Equal(t, "VALIDATION_ERROR", res.Error.Code)
		require.Len(t, res.Error.Details, 1)
		assert.Equal(t, "email", res.Error.Details[0].Field)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := env.app.Test(req)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_BODY", decodeError(t, resp).Error.Code)
	})
	env.auth.AssertExpectations(t)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, false)
	in := service.LoginInput{Email: "test@example.com", Password: "testpass123"}

	env.auth.On("Login", mock.Anything, in).Return(&service.TokenPair{AccessToken: "jwt", TokenType: "bearer", ExpiresIn: 3600}, nil).Once()
	resp := env.do(t, http.MethodPost, "/api/auth/login", in, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var pair service.TokenPair
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pair))
	assert.Equal(t, "jwt", pair.AccessToken)

	env.auth.On("Login", mock.Anything, in).Return(nil, apperr.Unauthorized("invalid credentials")).Once()
	resp = env.do(t, http.MethodPost, "/api/auth/login", in, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	res := decodeError(t, resp)
	assert.Equal(t, "UNAUTHORIZED", res.Error.Code)
	assert.Equal(t, "invalid credentials", res.Error.Message)
}

func TestCurrentUserAndProfile(t *testing.T) {
	env := newTestEnv(t, false)

	t.Run("unauthenticated", func(t *testing.T) {
		for _, target := range []string{"/api/auth/me", "/api/users/profile/"} {
			req := httptest.NewRequest(http.MethodGet, target, nil)
			req.Header.Set(middleware.RequestIDHeader, "rid-1")
			resp, _ := env.app.Test(req)

			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			res := decodeError(t, resp)
			assert.Equal(t, "UNAUTHORIZED", res.Error.Code)
			assert.Equal(t, "rid-1", res.RequestID)
		}
	})

	t.Run("me", func(t *testing.T) {
		for _, target := range []string{"/api/auth/me", "/api/users/profile"} {
			resp := env.do(t, http.MethodGet, target, nil, true)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			var u model.User
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&u))
			assert.Equal(t, "test@example.com", u.Email)
		}
	})

	t.Run("patch profile", func(t *testing.T) {
		first := "Renamed"
		env.auth.On("UpdateProfile", mock.Anything, env.user, service.ProfileInput{FirstName: &first}).
			Return(&model.User{ID: env.user, FirstName: first}, nil).Once()

		resp := env.do(t, http.MethodPatch, "/api/users/profile", map[string]string{"first_name": first}, true)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
	env.auth.AssertExpectations(t)
}

func TestListItems(t *testing.T) {
	env := newTestEnv(t, false)

	t.Run("success with filters", func(t *testing.T) {
		owner := uuid.New()
		minP, maxP := 1.5, 20.0
		want := service.ItemListParams{
			Limit: 5, Offset: 10, Category: "books", Search: "go",
			MinPrice: &minP, MaxPrice: &maxP, OwnerID: &owner, Sort: "-price",
		}
		expected := &service.ItemListResult{
			Items: []model.Item{{ID: uuid.New(), Name: "Go book"}},
			Total: 11, Limit: 5, Offset: 10,
		}
		env.items.On("List", mock.Anything, want).Return(expected, nil).Once()

		resp := env.do(t, http.MethodGet,
			"/api/items?limit=5&offset=10&category=books&q=go&min_price=1.5&max_price=20&owner="+owner.String()+"&sort=-price",
			nil, false)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Len(t, body["data"], 1)
		assert.Equal(t, float64(11), body["total"])
		assert.Equal(t, float64(5), body["limit"])
		assert.Equal(t, float64(10), body["offset"])
		assert.Equal(t, false, body["has_more"])
	})

	t.Run("defaults are left to the service", func(t *testing.T) {
		env.items.On("List", mock.Anything, service.ItemListParams{}).Return(&service.ItemListResult{Items: []model.Item{}}, nil).Once()

		resp := env.do(t, http.MethodGet, "/api/items/", nil, false)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	badQueries := []struct {
		query string
		code  string
	}{
		{"limit=abc", "INVALID_LIMIT"},
		{"offset=1.5", "INVALID_OFFSET"},
		{"min_price=cheap", "INVALID_PRICE"},
		{"max_price=NaN", "INVALID_PRICE"},
		{"min_price=10&max_price=1", "INVALID_PRICE"},
		{"owner=me", "INVALID_OWNER"},
		{"sort=password", "INVALID_SORT"},
	}
	for _, bq := range badQueries {
		t.Run(bq.query, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, "/api/items?"+bq.query, nil, false)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, bq.code, decodeError(t, resp).Error.Code)
		})
	}

	t.Run("service error", func(t *testing.T) {
		env.items.On("List", mock.Anything, mock.Anything).Return(nil, errors.New("service error")).Once()

		resp := env.do(t, http.MethodGet, "/api/items", nil, false)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		res := decodeError(t, resp)
		assert.Equal(t, "INTERNAL_ERROR", res.Error.Code)
		assert.NotContains(t, res.Error.Message, "service error")
	})
	env.items.AssertExpectations(t)
}

func TestGetItem(t *testing.T) {
	env := newTestEnv(t, false)

	t.Run("success", func(t *testing.T) {
		id := uuid.New()
		env.items.On("Get", mock.Anything, id).Return(&model.Item{ID: id, Name: "Widget"}, nil).Once()

		resp := env.do(t, http.MethodGet, "/api/items/"+id.String(), nil, false)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var it model.Item
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&it))
		assert.Equal(t, id, it.ID)
	})

	t.Run("not found", func(t *testing.T) {
		id := uuid.New()
		env.items.On("Get", mock.Anything, id).Return(nil, apperr.NotFound("item not found")).Once()

		resp := env.do(t, http.MethodGet, "/api/items/"+id.String(), nil, false)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Error.Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/items/invalid-uuid", nil, false)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_ID", decodeError(t, resp).Error.Code)
	})
	env.items.AssertExpectations(t)
}

func TestWriteItems(t *testing.T) {
	price := 9.5
	in := service.ItemInput{Name: "Widget", Price: &price, Category: "tools"}

	t.Run("create requires auth", func(t *testing.T) {
		env := newTestEnv(t, false)
		resp := env.do(t, http.MethodPost, "/api/items", in, false)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		env.items.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("create sets owner to caller", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.items.On("Create", mock.Anything, service.Actor{UserID: env.user}, in).
			Return(&model.Item{ID: uuid.New(), OwnerID: env.user}, nil).Once()

		resp := env.do(t, http.MethodPost, "/api/items", in, true)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		env.items.AssertExpectations(t)
	})

	t.Run("replace forbidden", func(t *testing.T) {
		env := newTestEnv(t, false)
		id := uuid.New()
		env.items.On("Replace", mock.Anything, mock.Anything, id, in).Return(nil, apperr.ErrForbidden).Once()

		resp := env.do(t, http.MethodPut, "/api/items/"+id.String(), in, true)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		res := decodeError(t, resp)
		assert.Equal(t, "FORBIDDEN", res.Error.Code)
		assert.Equal(t, "You don't have permission to perform this action", res.Error.Message)
	})

	t.Run("patch as staff", func(t *testing.T) {
		env := newTestEnv(t, true)
		id := uuid.New()
		name := "Renamed"
		env.items.On("Patch", mock.Anything, service.Actor{UserID: env.user, IsStaff: true}, id, service.ItemPatch{Name: &name}).
			Return(&model.Item{ID: id, Name: name}, nil).Once()

		resp := env.do(t, http.MethodPatch, "/api/items/"+id.String(), map[string]string{"name": name}, true)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		env.items.AssertExpectations(t)
	})

	t.Run("delete", func(t *testing.T) {
		env := newTestEnv(t, false)
		id := uuid.New()
		env.items.On("Delete", mock.Anything, mock.Anything, id).Return(nil).Once()

		resp := env.do(t, http.MethodDelete, "/api/items/"+id.String(), nil, true)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("delete not found", func(t *testing.T) {
		env := newTestEnv(t, false)
		id := uuid.New()
		env.items.On("Delete", mock.Anything, mock.Anything, id).Return(apperr.NotFound("item not found")).Once()

		resp := env.do(t, http.MethodDelete, "/api/items/"+id.String(), nil, true)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestWriteItems_AccountState(t *testing.T) {
	price := 9.5
	in := service.ItemInput{Name: "Widget", Price: &price, Category: "tools"}

	tokenFor := func(env *testEnv, token string, staff bool) uuid.UUID {
		id := uuid.New()
		claims := &service.Claims{Email: "stale@example.com", Staff: staff}
		claims.Subject = id.String()
		env.auth.On("ValidateToken", mock.Anything, token).Return(claims, nil).Once()
		return id
	}
	doWith := func(t *testing.T, env *testEnv, method, target, token string, body any) *http.Response {
		t.Helper()
		b, err := json.Marshal(body)
		require.NoError(t, err)
		req := httptest.NewRequest(method, target, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := env.app.Test(req)
		require.NoError(t, err)
		return resp
	}

	t.Run("deleted account is unauthorized", func(t *testing.T) {
		env := newTestEnv(t, false)
		id := tokenFor(env, "deleted-token", false)
		env.auth.On("CurrentUser", mock.Anything, id).Return(nil, apperr.Unauthorized("user no longer exists")).Once()

		resp := doWith(t, env, http.MethodPost, "/api/items", "deleted-token", in)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		res := decodeError(t, resp)
		assert.Equal(t, "UNAUTHORIZED", res.Error.Code)
		assert.Equal(t, "user no longer exists", res.Error.Message)
		env.items.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("inactive account is unauthorized", func(t *testing.T) {
		env := newTestEnv(t, false)
		id := tokenFor(env, "inactive-token", true)
		env.auth.On("CurrentUser", mock.Anything, id).Return(nil, apperr.Unauthorized("user is inactive")).Once()

		resp := doWith(t, env, http.MethodPatch, "/api/items/"+uuid.NewString(), "inactive-token", map[string]string{"name": "x"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		env.items.AssertNotCalled(t, "Patch", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("staff rights come from the stored account", func(t *testing.T) {
		env := newTestEnv(t, false)
		id := tokenFor(env, "demoted-token", true)
		env.auth.On("CurrentUser", mock.Anything, id).Return(&model.User{ID: id, IsActive: true, IsStaff: false}, nil).Once()
		itemID := uuid.New()
		name := "Renamed"
		env.items.On("Patch", mock.Anything, service.Actor{UserID: id, IsStaff: false}, itemID, service.ItemPatch{Name: &name}).
			Return(nil, apperr.ErrForbidden).Once()

		resp := doWith(t, env, http.MethodPatch, "/api/items/"+itemID.String(), "demoted-token", map[string]string{"name": name})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		env.items.AssertExpectations(t)
	})
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	part.Write([]byte(content))
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestUploadItemImage(t *testing.T) {
	env := newTestEnv(t, false)
	id := uuid.New()
	target := "/api/items/" + id.String() + "/image"

	upload := func(body *bytes.Buffer, ct string) *http.Response {
		req := httptest.NewRequest(http.MethodPut, target, body)
		if ct != "" {
			req.Header.Set("Content-Type", ct)
		}
		req.Header.Set("Authorization", "Bearer "+testToken)
		resp, err := env.app.Test(req)
		require.NoError(t, err)
		return resp
	}

	t.Run("success", func(t *testing.T) {
		body, ct := multipartBody(t, "photo.png", "hello world")
		path := "items/" + id.String() + "/x.png"
		env.items.On("UploadImage", mock.Anything, mock.Anything, id, mock.Anything, "photo.png", mock.Anything, int64(11)).
			Return(&model.Item{ID: id, ImagePath: &path}, nil).Once()

		resp := upload(body, ct)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("no file", func(t *testing.T) {
		resp := upload(&bytes.Buffer{}, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "FILE_REQUIRED", decodeError(t, resp).Error.Code)
	})

	t.Run("storage disabled", func(t *testing.T) {
		body, ct := multipartBody(t, "photo.png", "hello")
		env.items.On("UploadImage", mock.Anything, mock.Anything, id, mock.Anything, "photo.png", mock.Anything, mock.Anything).
			Return(nil, apperr.ErrUnavailable).Once()

		resp := upload(body, ct)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "SERVICE_UNAVAILABLE", decodeError(t, resp).Error.Code)
	})
	env.items.AssertExpectations(t)
}

func TestItemImage(t *testing.T) {
	env := newTestEnv(t, false)
	id := uuid.New()

	env.items.On("ImageURL", mock.Anything, id).Return("https://s3.test/bucket/x.png?sig=1", nil).Once()
	resp := env.do(t, http.MethodGet, "/api/items/"+id.String()+"/image", nil, false)
	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "https://s3.test/bucket/x.png?sig=1", resp.Header.Get("Location"))

	env.items.On("ImageURL", mock.Anything, id).Return("", apperr.NotFound("item has no image")).Once()
	resp = env.do(t, http.MethodGet, "/api/items/"+id.String()+"/image", nil, false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouting(t *testing.T) {
	env := newTestEnv(t, false)

	t.Run("not found route", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/non-existent", nil, false)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Error.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		// Health endpoints only allow GET
		resp := env.do(t, http.MethodPost, "/api/health/db", nil, false)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		assert.Equal(t, "METHOD_NOT_ALLOWED", decodeError(t, resp).Error.Code)
	})

	t.Run("metrics", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/metrics", nil, false)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestErrorHandler_UnknownError(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Get("/boom", func(c *fiber.Ctx) error { return errors.New("secret detail") })
	app.Get("/big", func(c *fiber.Ctx) error { return fiber.ErrRequestEntityTooLarge })

	resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	res := decodeError(t, resp)
	assert.Equal(t, "INTERNAL_ERROR", res.Error.Code)
	assert.Equal(t, "internal server error", res.Error.Message)

	resp, _ = app.Test(httptest.NewRequest(http.MethodGet, "/big", nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", decodeError(t, resp).Error.Code)
}

package internal

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"push-messenger-backend/config"
	"push-messenger-backend/internal/api"
	"push-messenger-backend/internal/db"
	"push-messenger-backend/internal/fanout"
	"push-messenger-backend/internal/push"
	"push-messenger-backend/internal/store"
	"push-messenger-backend/internal/store/cache"
)

// fakeFCM accepts every message and remembers the tokens it saw.
type fakeFCM struct {
	mu     sync.Mutex
	tokens []string
}

func (f *fakeFCM) Send(_ context.Context, msg *messaging.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, msg.Token)
	return "projects/test/messages/1", nil
}

// pushService mimics a browser vendor's push endpoint.
type pushService struct {
	*httptest.Server
	mu       sync.Mutex
	received map[string]int
}

func newPushService(t *testing.T) *pushService {
	ps := &pushService{received: map[string]int{}}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "aes128gcm", r.Header.Get("Content-Encoding"))
		ps.mu.Lock()
		ps.received[r.URL.Path]++
		ps.mu.Unlock()
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pushService) count(path string) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.received[path]
}

type testApp struct {
	t      *testing.T
	router *gin.Engine
}

func (a *testApp) call(method, path string, body interface{}) (int, map[string]interface{}) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	out := map[string]interface{}{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func (a *testApp) createUser() string {
	code, body := a.call(http.MethodPost, "/api/v1/user/", nil)
	require.Equal(a.t, http.StatusOK, code)
	return body["userId"].(string)
}

func (a *testApp) send(body map[string]interface{}) fanout.Result {
	a.t.Helper()
	code, out := a.call(http.MethodPost, "/api/v1/send/", body)
	require.Equal(a.t, http.StatusOK, code, out)
	return fanout.Result{
		SuccessCount: int(out["successCount"].(float64)),
		FailureCount: int(out["failureCount"].(float64)),
	}
}

func webSubscription(t *testing.T, endpoint string) map[string]interface{} {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)
	return map[string]interface{}{
		"endpoint":       endpoint,
		"expirationTime": nil,
		"keys": map[string]string{
			"p256dh": base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
			"auth":   base64.RawURLEncoding.EncodeToString(secret),
		},
	}
}

// TestBroadcastLifecycle drives users, devices, groups and broadcasts through
// the HTTP surface against a real SQLite database and a fake push service.
func TestBroadcastLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// --- Test Setup ---
	gormDB, err := db.Init(&config.DatabaseConfig{
		Driver:   config.DriverSQLite,
		DSN:      filepath.Join(t.TempDir(), "push.db"),
		LogLevel: "silent",
	})
	require.NoError(t, err)
	sqlDB, _ := gormDB.DB()
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()

	appStore := cache.NewCachedStore(store.NewGormStore(gormDB), cache.NewMemoryClient(time.Minute), time.Minute)

	ps := newPushService(t)
	fcm := &fakeFCM{}
	sender := push.NewRouter().
		Handle(push.PlatformWeb, push.NewWebPushSender(ps.Client())).
		Handle(push.PlatformFCM, push.NewFCMSenderWithClient(fcm))

	logger := zap.NewNop().Sugar()
	engine := fanout.NewEngine(appStore, sender, 4, 5*time.Second, logger)
	handler := api.NewHandler(appStore, engine, push.Credentials{TTL: 60}, logger)
	app := &testApp{t: t, router: api.NewRouter(handler, config.ServerConfig{
		RateLimitPerSec:    1000,
		RateLimitBurst:     1000,
		CacheTTLSeconds:    60,
		CORSAllowedOrigins: []string{"*"},
	}, logger)}

	keys, err := push.GenerateVAPIDKeys()
	require.NoError(t, err)
	credentials := map[string]interface{}{
		"email":      "ops@example.com",
		"publicKey":  keys.PublicKey,
		"privateKey": keys.PrivateKey,
	}
	sendTo := func(targets, forbidden []string) fanout.Result {
		body := map[string]interface{}{
			"groupLabels":          targets,
			"forbiddenGroupLabels": forbidden,
			"payload":              "hello",
		}
		for k, v := range credentials {
			body[k] = v
		}
		return app.send(body)
	}

	// --- Users, devices and groups ---
	alice := app.createUser()
	bob := app.createUser()
	carol := app.createUser()

	code, _ := app.call(http.MethodPost, "/api/v1/user/"+alice+"/device/", webSubscription(t, ps.URL+"/alice"))
	require.Equal(t, http.StatusOK, code)
	code, _ = app.call(http.MethodPost, "/api/v1/user/"+bob+"/device/", webSubscription(t, ps.URL+"/bob"))
	require.Equal(t, http.StatusOK, code)
	code, _ = app.call(http.MethodPost, "/api/v1/user/"+bob+"/device/", webSubscription(t, ps.URL+"/gone"))
	require.Equal(t, http.StatusOK, code)
	code, _ = app.call(http.MethodPost, "/api/v1/user/"+carol+"/device/", map[string]string{"platform": "fcm", "token": "carol-token"})
	require.Equal(t, http.StatusOK, code)

	code, _ = app.call(http.MethodPost, "/api/v1/user/ghost/device/", webSubscription(t, ps.URL+"/ghost"))
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = app.call(http.MethodPost, "/api/v1/user/"+alice+"/groups/", []string{"news", "sports"})
	require.Equal(t, http.StatusOK, code)
	code, _ = app.call(http.MethodPost, "/api/v1/user/"+bob+"/groups/", []string{"news", "vip"})
	require.Equal(t, http.StatusOK, code)
	code, _ = app.call(http.MethodPost, "/api/v1/user/"+carol+"/groups/", []string{"sports"})
	require.Equal(t, http.StatusOK, code)

	// Joining again is a no-op.
	code, _ = app.call(http.MethodPost, "/api/v1/user/"+alice+"/groups/", []string{"news"})
	require.Equal(t, http.StatusOK, code)
	code, body := app.call(http.MethodGet, "/api/v1/user/"+alice+"/groups/", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []interface{}{"news", "sports"}, body["groupLabels"])

	// --- Broadcasts ---
	t.Run("forbidden group excludes its members", func(t *testing.T) {
		res := sendTo([]string{"news"}, []string{"vip"})
		assert.Equal(t, fanout.Result{SuccessCount: 1}, res)
		assert.Equal(t, 1, ps.count("/alice"))
		assert.Equal(t, 0, ps.count("/bob"))
	})

	t.Run("union of groups reaches each device once", func(t *testing.T) {
		res := sendTo([]string{"news", "sports"}, nil)
		assert.Equal(t, fanout.Result{SuccessCount: 3, FailureCount: 1}, res)
		assert.Equal(t, 2, ps.count("/alice"))
		assert.Equal(t, 1, ps.count("/bob"))
		assert.Equal(t, 1, ps.count("/gone"))
		assert.Equal(t, []string{"carol-token"}, fcm.tokens)
	})

	t.Run("left group no longer delivers", func(t *testing.T) {
		code, _ := app.call(http.MethodDelete, "/api/v1/user/"+alice+"/groups/", []string{"sports", "never-joined"})
		require.Equal(t, http.StatusOK, code)

		res := sendTo([]string{"sports"}, nil)
		assert.Equal(t, fanout.Result{SuccessCount: 1}, res)
		assert.Equal(t, 2, ps.count("/alice"))
	})

	t.Run("unknown labels resolve to nothing", func(t *testing.T) {
		res := sendTo([]string{"typo"}, nil)
		assert.Equal(t, fanout.Result{}, res)
	})

	t.Run("missing credentials are rejected", func(t *testing.T) {
		code, _ := app.call(http.MethodPost, "/api/v1/send/", map[string]interface{}{"groupLabels": []string{"news"}})
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("devices are listed without key material", func(t *testing.T) {
		code, body := app.call(http.MethodGet, "/api/v1/user/"+bob+"/devices/", nil)
		require.Equal(t, http.StatusOK, code)
		devices := body["devices"].([]interface{})
		require.Len(t, devices, 2)
		for _, d := range devices {
			assert.Equal(t, ps.URL, d.(map[string]interface{})["endpoint"])
		}
	})
}

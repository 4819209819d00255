package engine_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/dmitrymomot/dbconn/pkg/config"
	"github.com/dmitrymomot/dbconn/pkg/engine"
	"github.com/dmitrymomot/dbconn/pkg/engine/dialect"
	"github.com/dmitrymomot/dbconn/pkg/secrets"
	"github.com/dmitrymomot/dbconn/pkg/sshtunnel"
)

// newStoredDatabase builds a StoredDatabase around freshly generated keys,
// exercising the same decryption path production configurations use.
func newStoredDatabase(t *testing.T, uri string, extras map[engine.QuerySource]engine.Extra) *engine.StoredDatabase {
	t.Helper()

	appKey, err := secrets.GenerateKey()
	require.NoError(t, err)
	dbKey, err := secrets.GenerateKey()
	require.NoError(t, err)

	encryptedURI, err := secrets.EncryptString(appKey, dbKey, uri)
	require.NoError(t, err)

	return &engine.StoredDatabase{
		DatabaseID:   1,
		DatabaseName: "test",
		EncryptedURI: encryptedURI,
		Extras:       extras,
		AppKey:       appKey,
		DatabaseKey:  dbKey,
	}
}

func TestManagerPerConnection(t *testing.T) {
	m := engine.NewManager(engine.Config{Mode: engine.ModePerConnection})
	defer m.Close()

	db := newStoredDatabase(t, "stub://svc:p@db/main", nil)
	ctx := context.Background()

	t.Run("every acquisition builds a fresh engine", func(t *testing.T) {
		first, release1, err := m.AcquireEngine(ctx, db, "", "", engine.SourceUnknown)
		require.NoError(t, err)
		second, release2, err := m.AcquireEngine(ctx, db, "", "", engine.SourceUnknown)
		require.NoError(t, err)

		assert.NotEqual(t, first.ID(), second.ID())
		assert.Empty(t, m.EngineKeys(), "per-connection engines are never cached")

		release1()
		release2()
		assert.True(t, first.Disposed())
		assert.True(t, second.Disposed())
	})

	t.Run("release is idempotent", func(t *testing.T) {
		eng, release, err := m.AcquireEngine(ctx, db, "", "", engine.SourceUnknown)
		require.NoError(t, err)

		release()
		assert.NotPanics(t, release)
		assert.True(t, eng.Disposed())
	})

	t.Run("per-connection engines use the null pool", func(t *testing.T) {
		eng, release, err := m.AcquireEngine(ctx, db, "", "", engine.SourceUnknown)
		require.NoError(t, err)
		defer release()

		assert.Equal(t, engine.PoolNull, eng.PoolClass())
	})
}

func TestManagerPooled(t *testing.T) {
	ctx := context.Background()

	pooledExtras := map[engine.QuerySource]engine.Extra{
		engine.SourceUnknown: {PoolClass: "queue", PoolSize: 2},
	}

	t.Run("identical parameters share an engine", func(t *testing.T) {
		m := engine.NewManager(engine.Config{Mode: engine.ModePooled})
		defer m.Close()
		db := newStoredDatabase(t, "stub://svc:p@db/main", pooledExtras)

		first, release1, err := m.AcquireEngine(ctx, db, "", "", engine.SourceUnknown)
		require.NoError(t, err)
		second, release2, err := m.AcquireEngine(ctx, db, "", "", engine.SourceUnknown)
		require.NoError(t, err)

		assert.Equal(t, first.ID(), second.ID())
		assert.Len(t, m.EngineKeys(), 1)

		release1()
		release2()
		assert.False(t, first.Disposed(), "release must not dispose cached engines")
	})

	t.Run("catalog scoping separates engines", func(t *testing.T) {
		m := engine.NewManager(engine.Config{Mode: engine.ModePooled})
		defer m.Close()
		db := newStoredDatabase(t, "stub://svc:p@db/main", pooledExtras)

		first, release1, err := m.AcquireEngine(ctx, db, "sales", "", engine.SourceUnknown)
		require.NoError(t, err)
		defer release1()
		second, release2, err := m.AcquireEngine(ctx, db, "finance", "", engine.SourceUnknown)
		require.NoError(t, err)
		defer release2()

		assert.NotEqual(t, first.ID(), second.ID())
		assert.Len(t, m.EngineKeys(), 2)
	})

	t.Run("query source comes from the context when not passed", func(t *testing.T) {
		m := engine.NewManager(engine.Config{Mode: engine.ModePooled})
		defer m.Close()
		db := newStoredDatabase(t, "stub://svc:p@db/main", pooledExtras)

		chartCtx := engine.WithQuerySource(ctx, engine.SourceChart)
		labCtx := engine.WithQuerySource(ctx, engine.SourceSQLLab)

		first, release1, err := m.AcquireEngine(chartCtx, db, "", "", engine.SourceUnknown)
		require.NoError(t, err)
		defer release1()
		second, release2, err := m.AcquireEngine(labCtx, db, "", "", engine.SourceUnknown)
		require.NoError(t, err)
		defer release2()

		assert.NotEqual(t, first.ID(), second.ID())
	})

	t.Run("concurrent acquisitions construct once", func(t *testing.T) {
		m := engine.NewManager(engine.Config{Mode: engine.ModePooled})
		defer m.Close()
		db := newStoredDatabase(t, "stub://svc:p@db/main", pooledExtras)

		const callers = 20
		ids := make([]uuid.UUID, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				eng, release, err := m.AcquireEngine(ctx, db, "", "", engine.SourceUnknown)
				if !assert.NoError(t, err) {
					return
				}
				defer release()
				ids[i] = eng.ID()
			}()
		}
		wg.Wait()

		for _, id := range ids[1:] {
			assert.Equal(t, ids[0], id)
		}
		assert.Len(t, m.EngineKeys(), 1)
	})

	t.Run("external disposal evicts the cache entry", func(t *testing.T) {
		m := engine.NewManager(engine.Config{Mode: engine.ModePooled})
		defer m.Close()
		db := newStoredDatabase(t, "stub://svc:p@db/main", pooledExtras)

		eng, release, err := m.AcquireEngine(ctx, db, "", "", engine.SourceUnknown)
		require.NoError(t, err)
		release()

		require.NoError(t, eng.Dispose())
		assert.Empty(t, m.EngineKeys())

		replacement, release2, err := m.AcquireEngine(ctx, db, "", "", engine.SourceUnknown)
		require.NoError(t, err)
		defer release2()
		assert.NotEqual(t, eng.ID(), replacement.ID())
	})

	t.Run("close disposes cached engines", func(t *testing.T) {
		m := engine.NewManager(engine.Config{Mode: engine.ModePooled})
		db := newStoredDatabase(t, "stub://svc:p@db/main", pooledExtras)

		eng, release, err := m.AcquireEngine(ctx, db, "", "", engine.SourceUnknown)
		require.NoError(t, err)
		release()

		m.Close()
		assert.True(t, eng.Disposed())
		assert.Empty(t, m.EngineKeys())
	})
}

func TestManagerAcquireErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("nil database", func(t *testing.T) {
		m := engine.NewManager(engine.Config{})
		defer m.Close()

		_, _, err := m.AcquireEngine(ctx, nil, "", "", engine.SourceUnknown)
		assert.ErrorIs(t, err, engine.ErrNilDatabase)
	})

	t.Run("decryption failure propagates", func(t *testing.T) {
		m := engine.NewManager(engine.Config{})
		defer m.Close()

		db := newStoredDatabase(t, "stub://svc@db/main", nil)
		db.DatabaseKey = make([]byte, secrets.KeySize) // wrong key

		_, _, err := m.AcquireEngine(ctx, db, "", "", engine.SourceUnknown)
		assert.ErrorIs(t, err, secrets.ErrDecryptionFailed)
	})

	t.Run("reauth detector wraps matching failures", func(t *testing.T) {
		m := engine.NewManager(engine.Config{},
			engine.WithReauthDetector(func(err error) bool {
				return errors.Is(err, secrets.ErrDecryptionFailed)
			}),
		)
		defer m.Close()

		db := newStoredDatabase(t, "stub://svc@db/main", nil)
		db.DatabaseKey = make([]byte, secrets.KeySize)

		_, _, err := m.AcquireEngine(ctx, db, "", "", engine.SourceUnknown)
		assert.ErrorIs(t, err, engine.ErrReauthRequired)
		assert.ErrorIs(t, err, secrets.ErrDecryptionFailed)
	})

	t.Run("non-matching failures stay untouched", func(t *testing.T) {
		m := engine.NewManager(engine.Config{},
			engine.WithReauthDetector(func(error) bool { return false }),
		)
		defer m.Close()

		db := newStoredDatabase(t, "stub://svc@db/main", nil)
		db.DatabaseKey = make([]byte, secrets.KeySize)

		_, _, err := m.AcquireEngine(ctx, db, "", "", engine.SourceUnknown)
		assert.NotErrorIs(t, err, engine.ErrReauthRequired)
	})
}

func TestManagerEngineContextHook(t *testing.T) {
	ctx := context.Background()

	t.Run("hook wraps acquisition and cleanup runs on release", func(t *testing.T) {
		var entered, cleaned bool
		m := engine.NewManager(engine.Config{},
			engine.WithEngineContextHook(func(ctx context.Context, _ engine.Database, _, _ string) (context.Context, func(), error) {
				entered = true
				return ctx, func() { cleaned = true }, nil
			}),
		)
		defer m.Close()

		db := newStoredDatabase(t, "stub://svc@db/main", nil)
		_, release, err := m.AcquireEngine(ctx, db, "", "", engine.SourceUnknown)
		require.NoError(t, err)
		assert.True(t, entered)
		assert.False(t, cleaned)

		release()
		assert.True(t, cleaned)
	})

	t.Run("hook error aborts acquisition", func(t *testing.T) {
		hookErr := errors.New("quota exceeded")
		m := engine.NewManager(engine.Config{},
			engine.WithEngineContextHook(func(context.Context, engine.Database, string, string) (context.Context, func(), error) {
				return nil, nil, hookErr
			}),
		)
		defer m.Close()

		db := newStoredDatabase(t, "stub://svc@db/main", nil)
		_, _, err := m.AcquireEngine(ctx, db, "", "", engine.SourceUnknown)
		assert.ErrorIs(t, err, hookErr)
	})

	t.Run("cleanup runs when engine creation fails", func(t *testing.T) {
		var cleaned bool
		m := engine.NewManager(engine.Config{},
			engine.WithEngineContextHook(func(ctx context.Context, _ engine.Database, _, _ string) (context.Context, func(), error) {
				return ctx, func() { cleaned = true }, nil
			}),
		)
		defer m.Close()

		db := newStoredDatabase(t, "stub://svc@db/main", nil)
		db.DatabaseKey = make([]byte, secrets.KeySize)

		_, _, err := m.AcquireEngine(ctx, db, "", "", engine.SourceUnknown)
		require.Error(t, err)
		assert.True(t, cleaned)
	})
}

// startBastion runs a minimal SSH server that accepts password auth; the
// tunnel tests never forward through it, they only need the handshake.
func startBastion(t *testing.T) (host string, port int) {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(hostKey)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if string(password) == "hunter2" {
				return nil, nil
			}
			return nil, fmt.Errorf("wrong password")
		},
	}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				sconn, chans, reqs, err := ssh.NewServerConn(conn, config)
				if err != nil {
					conn.Close()
					return
				}
				go ssh.DiscardRequests(reqs)
				for newChan := range chans {
					newChan.Reject(ssh.Prohibited, "forwarding disabled")
				}
				sconn.Close()
			}()
		}
	}()

	return "127.0.0.1", ln.Addr().(*net.TCPAddr).Port
}

func TestManagerTunneledDatabase(t *testing.T) {
	host, port := startBastion(t)

	m := engine.NewManager(engine.Config{Mode: engine.ModePooled})
	defer m.Close()

	db := newStoredDatabase(t, "postgres://svc:p@db.internal:5432/main", map[engine.QuerySource]engine.Extra{
		engine.SourceUnknown: {PoolClass: "queue"},
	})
	db.Family = dialect.Generic{Driver: "stub"}
	db.Tunnel = &sshtunnel.Config{
		Host:     host,
		Port:     port,
		Username: "svc",
		Password: "hunter2",
	}

	eng, release, err := m.AcquireEngine(context.Background(), db, "", "", engine.SourceUnknown)
	require.NoError(t, err)
	defer release()

	// The engine connects to the tunnel's local endpoint, not the remote host.
	assert.NotContains(t, eng.URI(), "db.internal")
	assert.Contains(t, eng.URI(), "127.0.0.1")
	assert.Len(t, m.TunnelKeys(), 1)

	// A second engine over the same bastion reuses the tunnel.
	second, release2, err := m.AcquireEngine(context.Background(), db, "analytics", "", engine.SourceUnknown)
	require.NoError(t, err)
	defer release2()
	assert.NotEqual(t, eng.ID(), second.ID())
	assert.Len(t, m.TunnelKeys(), 1)
}

func TestConfigFromEnvironment(t *testing.T) {
	t.Setenv("DBCONN_MODE", "pooled")
	t.Setenv("DBCONN_CLEANUP_INTERVAL", "2m")
	t.Setenv("DBCONN_DEFAULT_POOL_SIZE", "9")

	var cfg engine.Config
	require.NoError(t, config.Load(&cfg))

	assert.Equal(t, engine.ModePooled, cfg.Mode)
	assert.Equal(t, 2*time.Minute, cfg.CleanupInterval)
	assert.Equal(t, 9, cfg.DefaultPoolSize)

	m := engine.NewManager(cfg)
	defer m.Close()
	assert.Equal(t, engine.ModePooled, m.Mode())
}

func TestManagerReaperControls(t *testing.T) {
	m := engine.NewManager(engine.Config{})
	defer m.Close()

	assert.NotPanics(t, func() {
		m.StartReaper()
		m.StartReaper()
		m.Cleanup()
		m.StopReaper()
		m.StopReaper()
	})
}

func TestStoredDatabase(t *testing.T) {
	appKey, err := secrets.GenerateKey()
	require.NoError(t, err)
	dbKey, err := secrets.GenerateKey()
	require.NoError(t, err)

	encrypt := func(t *testing.T, plaintext string) string {
		t.Helper()
		ciphertext, err := secrets.EncryptString(appKey, dbKey, plaintext)
		require.NoError(t, err)
		return ciphertext
	}

	t.Run("uri decrypts", func(t *testing.T) {
		db := &engine.StoredDatabase{
			EncryptedURI: encrypt(t, "postgres://svc:p@db/main"),
			AppKey:       appKey,
			DatabaseKey:  dbKey,
		}

		uri, err := db.URI()
		require.NoError(t, err)
		assert.Equal(t, "postgres://svc:p@db/main", uri)
	})

	t.Run("encrypted params decrypt to an overlay", func(t *testing.T) {
		overlay, err := json.Marshal(map[string]any{"readonly": true})
		require.NoError(t, err)

		db := &engine.StoredDatabase{
			EncryptedParams: encrypt(t, string(overlay)),
			AppKey:          appKey,
			DatabaseKey:     dbKey,
		}

		params, err := db.EncryptedExtra()
		require.NoError(t, err)
		assert.Equal(t, true, params["readonly"])
	})

	t.Run("empty encrypted params mean no overlay", func(t *testing.T) {
		db := &engine.StoredDatabase{AppKey: appKey, DatabaseKey: dbKey}

		params, err := db.EncryptedExtra()
		require.NoError(t, err)
		assert.Nil(t, params)
	})

	t.Run("overlay must be a json object", func(t *testing.T) {
		db := &engine.StoredDatabase{
			EncryptedParams: encrypt(t, "not json"),
			AppKey:          appKey,
			DatabaseKey:     dbKey,
		}

		_, err := db.EncryptedExtra()
		assert.ErrorIs(t, err, engine.ErrInvalidEncryptedParams)
	})

	t.Run("extras fall back to the unknown source", func(t *testing.T) {
		db := &engine.StoredDatabase{
			Extras: map[engine.QuerySource]engine.Extra{
				engine.SourceUnknown: {PoolClass: "queue"},
				engine.SourceChart:   {PoolClass: "singleton"},
			},
		}

		chart, err := db.Extra(engine.SourceChart)
		require.NoError(t, err)
		assert.Equal(t, "singleton", chart.PoolClass)

		dashboard, err := db.Extra(engine.SourceDashboard)
		require.NoError(t, err)
		assert.Equal(t, "queue", dashboard.PoolClass)
	})

	t.Run("dialect defaults to generic", func(t *testing.T) {
		db := &engine.StoredDatabase{}
		assert.IsType(t, dialect.Generic{}, db.Dialect())
	})
}

func TestUserIDContext(t *testing.T) {
	ctx := context.Background()

	_, ok := engine.UserIDFromContext(ctx)
	assert.False(t, ok)

	userID, ok := engine.UserIDFromContext(engine.WithUserID(ctx, 42))
	assert.True(t, ok)
	assert.Equal(t, int64(42), userID)
}

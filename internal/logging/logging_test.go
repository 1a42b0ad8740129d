package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiforge-labs/testorder-backend/internal/api/http/middleware"
)

func TestInitLogs(t *testing.T) {
	t.Run("parses the level", func(t *testing.T) {
		log := InitLogs("debug", "development")
		assert.Equal(t, logrus.DebugLevel, log.GetLevel())
		assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)
	})

	t.Run("falls back to info", func(t *testing.T) {
		log := InitLogs("loud", "development")
		assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	})

	t.Run("production writes json", func(t *testing.T) {
		log := InitLogs("info", "production")
		var buf bytes.Buffer
		log.SetOutput(&buf)

		log.WithField("suite_id", "s-1").Info("proposal created")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "proposal created", entry["msg"])
		assert.Equal(t, "s-1", entry["suite_id"])
	})
}

func TestWithReqIDFromCtx(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, hook := test.NewNullLogger()

	r := gin.New()
	r.Use(middleware.RequestIDMiddleware(logger))
	r.GET("/ping", func(c *gin.Context) {
		WithReqIDFromCtx(c.Request.Context(), logger).Info("handled")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-Id", "req-42")
	r.ServeHTTP(httptest.NewRecorder(), req)

	var found bool
	for _, e := range hook.AllEntries() {
		if e.Message == "handled" {
			found = true
			assert.Equal(t, "req-42", e.Data["request_id"])
		}
	}
	assert.True(t, found)

	plain := WithReqIDFromCtx(context.Background(), logger)
	assert.Equal(t, logger, plain)
}

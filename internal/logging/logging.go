package logging

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/apiforge-labs/testorder-backend/internal/api/http/middleware"
)

// InitLogs creates the process logger. Production emits JSON; other
// environments use the text formatter. Unknown levels fall back to info.
func InitLogs(level, env string) *logrus.Logger {
	log := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if env == "production" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return log
}

// WithReqIDFromCtx tags inner with the request id set by RequestIDMiddleware.
func WithReqIDFromCtx(ctx context.Context, inner logrus.FieldLogger) logrus.FieldLogger {
	rid := middleware.GetRequestID(ctx)
	if rid == "" {
		return inner
	}
	return inner.WithField("request_id", rid)
}

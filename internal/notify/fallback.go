package notify

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DmitryPavl/hackreality-main-bot/internal/models"
)

// FallbackLog is the durable sink for notifications that could not
// reach the admin channel. Events are appended as JSON lines so an
// external process can replay them later.
type FallbackLog struct {
	file *os.File
	log  *zap.Logger
}

func NewFallbackLog(path string) (*FallbackLog, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open fallback log: %w", err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(file),
		zapcore.InfoLevel,
	)

	return &FallbackLog{file: file, log: zap.New(core)}, nil
}

// Append records an undelivered event. It never fails; a broken
// fallback log only loses the admin copy, not user-facing state.
func (l *FallbackLog) Append(ev models.NotificationEvent) {
	l.log.Info("undelivered notification",
		zap.String("kind", string(ev.Kind)),
		zap.Int64("user_id", ev.UserID),
		zap.Time("at", ev.At),
		zap.Any("payload", ev.Payload),
	)
}

func (l *FallbackLog) Close() error {
	_ = l.log.Sync()
	return l.file.Close()
}

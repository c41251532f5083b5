package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"attendance-sync-service/internal/logger"
	"attendance-sync-service/internal/store"
)

type Prober struct {
	connector Connector
	timeout   time.Duration
}

func NewProber(connector Connector, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{connector: connector, timeout: timeout}
}

// Probe reports whether loc accepts a connection and answers SELECT 1 within
// the probe timeout. It never returns an error.
func (p *Prober) Probe(ctx context.Context, loc *store.Location) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	log := logger.Log.With(zap.Int64("location_id", loc.ID), zap.String("host", loc.Host))

	db, err := p.connector.Connect(loc)
	if err != nil {
		log.Warn("Probe failed to open connection", zap.Error(err))
		return false
	}
	defer db.Close()

	var one int
	if err := db.DB.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		log.Warn("Probe query failed", zap.Error(err))
		return false
	}

	return one == 1
}

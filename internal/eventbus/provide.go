package eventbus

import "github.com/fleetmcp/coordinator/internal/common/logger"

// Provide selects NATS when cfg.URL is set, falling back to the
// in-memory bus otherwise, mirroring the teacher's events.Provide.
func Provide(cfg NATSConfig, log *logger.Logger) (Bus, error) {
	if cfg.URL == "" {
		return NewMemory(log), nil
	}
	return NewNATS(cfg, log)
}

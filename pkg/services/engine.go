package services

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/coursedeck/guest-engine/pkg/pseudonym"
	"github.com/coursedeck/guest-engine/pkg/repositories"
)

// EngineConfig carries the lifecycle parameters shared across services.
type EngineConfig struct {
	SessionTTL        time.Duration
	AIRequestsLimit   int
	DeletionGraceDays int
}

// Engine bundles the full service surface for in-process consumers. The
// HTTP layer that exposes these operations to clients lives outside this
// module and takes an *Engine.
type Engine struct {
	Sessions   SessionService
	Consent    ConsentManager
	Recognizer ReturningGuestRecognizer
	Lifecycle  DeletionLifecycleManager
	Analytics  AnalyticsExporter
	Audit      AuditLogger
}

// NewEngine wires every service against the given repositories. The salt
// passed to the audit logger is the same process-wide secret that keys the
// pseudonymization engine.
func NewEngine(
	sessionRepo repositories.SessionRepository,
	auditRepo repositories.AuditRepository,
	consentRepo repositories.ConsentRepository,
	hasher *pseudonym.Engine,
	salt []byte,
	cfg EngineConfig,
	clk clock.Clock,
	logger *zap.Logger,
) *Engine {
	audit := NewAuditLogger(auditRepo, salt, clk, logger)
	sessions := NewSessionService(sessionRepo, audit, hasher, SessionConfig{
		TTL:             cfg.SessionTTL,
		AIRequestsLimit: cfg.AIRequestsLimit,
	}, clk, logger)

	return &Engine{
		Sessions:   sessions,
		Consent:    NewConsentManager(sessionRepo, consentRepo, audit, hasher, clk, logger),
		Recognizer: NewReturningGuestRecognizer(sessionRepo, sessions, hasher, logger),
		Lifecycle:  NewDeletionLifecycleManager(sessionRepo, sessions, audit, cfg.DeletionGraceDays, clk, logger),
		Analytics:  NewAnalyticsExporter(sessionRepo, logger),
		Audit:      audit,
	}
}

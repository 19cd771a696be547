package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gate-service/internal/config"
	"gate-service/internal/gate"
	"gate-service/internal/metrics"
	"gate-service/internal/models"
	redisrepo "gate-service/internal/repository/redis"
	"gate-service/internal/util"
)

// Counter namespaces. Unlock attempts and submissions are throttled in
// separate windows even though one per-kind cap governs both.
const (
	actionUnlock = "unlock"
	actionSubmit = "create"
)

const systemSender = "system"

// GateService is the policy engine behind both public endpoints. It is
// stateless in-process: every mutable bit lives in the shared store, and all
// security checks re-read fresh state on every call.
type GateService struct {
	cfg      *config.Config
	cache    *redisrepo.GateCache
	sessions *redisrepo.SessionCache
	groups   *redisrepo.GroupDirectory
	identity *ClientIdentifier

	messenger Messenger
	auditor   Auditor
	logger    *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewGateService(
	cfg *config.Config,
	cache *redisrepo.GateCache,
	sessions *redisrepo.SessionCache,
	groups *redisrepo.GroupDirectory,
	identity *ClientIdentifier,
	messenger Messenger,
	auditor Auditor,
	logger *zap.Logger,
) *GateService {
	return &GateService{
		cfg:       cfg,
		cache:     cache,
		sessions:  sessions,
		groups:    groups,
		identity:  identity,
		messenger: messenger,
		auditor:   auditor,
		logger:    logger,
		now:       time.Now,
	}
}

// UnlockRequest carries one door-code attempt. RemoteAddress is used only to
// derive the anonymous client id and is never stored or logged.
type UnlockRequest struct {
	Kind          gate.Kind
	SessionID     string
	RemoteAddress string
	DoorCode      string
	Honeypot      string
}

// SubmitRequest carries one message submission.
type SubmitRequest struct {
	Kind      gate.Kind
	SessionID string
	Subject   string
	Message   string
	Honeypot  string
}

// Enabled reports whether the kind's endpoint is live: the feature flag must
// be on and the hourly cap positive.
func (s *GateService) Enabled(kind gate.Kind) bool {
	gc := s.cfg.GateFor(kind)
	return gc.Enabled && gc.RateLimitPerHour > 0
}

// AttemptUnlock runs one door-code attempt through the gate. On success the
// session is marked unlocked for the kind; on failure the client's lockout
// bucket escalates.
func (s *GateService) AttemptUnlock(ctx context.Context, req *UnlockRequest) error {
	kind := req.Kind
	gc := s.cfg.GateFor(kind)

	if !gc.Enabled || gc.RateLimitPerHour <= 0 {
		return s.decided(kind, actionUnlock, ErrFeatureDisabled)
	}

	// Honeypot short-circuits before any bucket mutation, indistinguishable
	// from a wrong code.
	if strings.TrimSpace(req.Honeypot) != "" {
		return s.decided(kind, actionUnlock, ErrInvalidCode)
	}

	count, remaining, err := s.cache.IncrementGlobalCounter(ctx, kind, actionUnlock)
	if err != nil {
		return s.failed(kind, actionUnlock, err)
	}
	if count > int64(gc.RateLimitPerHour) {
		return s.decided(kind, actionUnlock, waitError(ErrRateLimited, remaining))
	}

	clientID, err := s.identity.Derive(ctx, kind, req.RemoteAddress, gc.SecretRotation())
	if err != nil {
		return s.failed(kind, actionUnlock, err)
	}

	now := s.now()

	bucket, err := s.cache.GetLockoutBucket(ctx, kind, clientID)
	if err != nil {
		return s.failed(kind, actionUnlock, err)
	}
	if err := checkBucket(bucket, now); err != nil {
		return s.decided(kind, actionUnlock, err)
	}

	// The attempt is stamped before the code is evaluated, so even a failed
	// attempt restarts the pacing floor and extends the record's lifetime.
	if err := s.cache.RecordAttempt(ctx, kind, clientID, now); err != nil {
		return s.failed(kind, actionUnlock, err)
	}

	if !doorCodeMatches(req.DoorCode, gc.DoorCode) {
		fails, err := s.cache.IncrementFailCount(ctx, kind, clientID)
		if err != nil {
			return s.failed(kind, actionUnlock, err)
		}
		if block, ok := blockFor(fails); ok {
			if err := s.cache.SetBlockedUntil(ctx, kind, clientID, now.Add(block)); err != nil {
				return s.failed(kind, actionUnlock, err)
			}
		}
		return s.decided(kind, actionUnlock, ErrInvalidCode)
	}

	// Success: all lockout history for the client is forgotten.
	if err := s.cache.ClearLockoutBucket(ctx, kind, clientID); err != nil {
		return s.failed(kind, actionUnlock, err)
	}
	if err := s.sessions.SetUnlocked(ctx, req.SessionID, kind); err != nil {
		return s.failed(kind, actionUnlock, err)
	}

	return s.decided(kind, actionUnlock, nil)
}

// Submit forwards an unlocked session's message to the configured group. One
// unlock buys one message; the unlock survives a delivery failure so the
// caller can resubmit without re-unlocking.
func (s *GateService) Submit(ctx context.Context, req *SubmitRequest) error {
	kind := req.Kind
	gc := s.cfg.GateFor(kind)

	if !gc.Enabled || gc.RateLimitPerHour <= 0 {
		return s.decided(kind, actionSubmit, ErrFeatureDisabled)
	}

	if strings.TrimSpace(req.Honeypot) != "" {
		return s.decided(kind, actionSubmit, ErrInvalidCode)
	}

	unlocked, err := s.sessions.IsUnlocked(ctx, req.SessionID, kind)
	if err != nil {
		return s.failed(kind, actionSubmit, err)
	}
	if !unlocked {
		return s.decided(kind, actionSubmit, ErrNotUnlocked)
	}

	count, remaining, err := s.cache.IncrementGlobalCounter(ctx, kind, actionSubmit)
	if err != nil {
		return s.failed(kind, actionSubmit, err)
	}
	if count > int64(gc.RateLimitPerHour) {
		return s.decided(kind, actionSubmit, waitError(ErrRateLimited, remaining))
	}

	subject := util.CleanSubject(req.Subject)
	message := util.CleanMessage(req.Message)
	if subject == "" || strings.TrimSpace(message) == "" {
		return s.decided(kind, actionSubmit, ErrMissingFields)
	}

	if gc.MaxMessageLength > 0 && utf8.RuneCountInString(message) > gc.MaxMessageLength {
		return s.decided(kind, actionSubmit, ErrTooLong)
	}

	groupName := strings.TrimSpace(gc.TargetGroup)
	if groupName == "" {
		return s.decided(kind, actionSubmit, ErrGroupNotConfigured)
	}
	if _, err := s.groups.Resolve(ctx, groupName); err != nil {
		if errors.Is(err, redisrepo.ErrGroupNotFound) {
			return s.decided(kind, actionSubmit, ErrGroupNotFound)
		}
		return s.failed(kind, actionSubmit, err)
	}

	sender := strings.TrimSpace(gc.BotUsername)
	if sender == "" {
		sender = systemSender
	}

	msg := &models.PrivateMessage{
		MessageID:   uuid.NewString(),
		Sender:      sender,
		Title:       kind.SubjectPrefix() + subject,
		Body:        message,
		TargetGroup: groupName,
		MessageType: "private",
		CreatedAt:   s.now().Unix(),
	}

	if err := s.messenger.Deliver(ctx, msg); err != nil {
		// No retry, no content or identifier in the log, and the unlock
		// stays usable for a resubmission.
		s.logger.Error("Message delivery failed",
			util.String("kind", kind.Namespace()),
			util.ErrorField(err))
		metrics.RecordDelivery(kind.Namespace(), "failed")
		return s.decided(kind, actionSubmit, ErrSendFailed)
	}
	metrics.RecordDelivery(kind.Namespace(), "delivered")

	if err := s.sessions.ClearUnlocked(ctx, req.SessionID, kind); err != nil {
		return s.failed(kind, actionSubmit, err)
	}

	return s.decided(kind, actionSubmit, nil)
}

// doorCodeMatches hashes both sides before a constant-time compare so that
// neither timing nor length of the expected code leaks. Empty codes on
// either side never match.
func doorCodeMatches(provided, expected string) bool {
	provided = strings.TrimSpace(provided)
	expected = strings.TrimSpace(expected)
	if provided == "" || expected == "" {
		return false
	}

	providedSum := sha256.Sum256([]byte(provided))
	expectedSum := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(providedSum[:], expectedSum[:]) == 1
}

// decided records the decision (audit + metrics) and passes the caller-facing
// error through.
func (s *GateService) decided(kind gate.Kind, action string, err error) error {
	s.record(kind, action, outcomeOf(err))
	return err
}

// failed handles store-side errors: logged as a category, audited, and
// surfaced for the handler's generic 500.
func (s *GateService) failed(kind gate.Kind, action string, err error) error {
	s.logger.Error("Gate store operation failed",
		util.String("kind", kind.Namespace()),
		util.String("action", action),
		util.ErrorField(err))
	s.record(kind, action, "error")
	return err
}

func (s *GateService) record(kind gate.Kind, action, outcome string) {
	metrics.RecordDecision(kind.Namespace(), action, outcome)
	if s.auditor != nil {
		s.auditor.Record(models.GateAuditEvent{
			EventTime: s.now().UTC(),
			Kind:      kind.Namespace(),
			Action:    action,
			Outcome:   outcome,
		})
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrFeatureDisabled):
		return "feature_disabled"
	case errors.Is(err, ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, ErrLocked):
		return "locked"
	case errors.Is(err, ErrTooFast):
		return "too_fast"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrNotUnlocked):
		return "not_unlocked"
	case errors.Is(err, ErrMissingFields):
		return "missing_fields"
	case errors.Is(err, ErrTooLong):
		return "too_long"
	case errors.Is(err, ErrGroupNotConfigured):
		return "group_not_configured"
	case errors.Is(err, ErrGroupNotFound):
		return "group_not_found"
	case errors.Is(err, ErrSendFailed):
		return "send_failed"
	default:
		return "error"
	}
}

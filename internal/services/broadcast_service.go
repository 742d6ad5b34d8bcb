package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tavolohq/tavolo/internal/models"
	"github.com/tavolohq/tavolo/internal/webpush"
	apperrors "github.com/tavolohq/tavolo/pkg/errors"
	"github.com/tavolohq/tavolo/pkg/logger"
	"github.com/tavolohq/tavolo/pkg/metrics"
)

// DefaultDeliveryTTL is the TTL header sent to push services: how long an
// undelivered message may be queued, in seconds.
const DefaultDeliveryTTL = 86400

// BroadcastInput is a ready-made notification to fan out to a tenant's
// audience.
type BroadcastInput struct {
	Title    string
	Message  string
	URL      string
	ImageURL string
	Icon     string
	Badge    string
	Color    string
	Debug    bool
}

// TargetError reports one failed delivery attempt.
type TargetError struct {
	SubscriptionID string `json:"target_id"`
	Error          string `json:"error"`
	Status         int    `json:"status,omitempty"`
}

// TargetTrace is the ordered step log of one delivery attempt, collected
// only when BroadcastInput.Debug is set.
type TargetTrace struct {
	SubscriptionID string   `json:"target_id"`
	Steps          []string `json:"steps"`
}

// BroadcastResult aggregates per-target outcomes. Counts are always
// populated, partial failure included.
type BroadcastResult struct {
	NotificationID string        `json:"notification_id,omitempty"`
	SentCount      int           `json:"sent_count"`
	TotalAttempted int           `json:"total_attempted"`
	Errors         []TargetError `json:"errors"`
	DebugInfo      []TargetTrace `json:"debug_info,omitempty"`
}

// notificationPayload is the JSON structure encrypted for each subscriber.
type notificationPayload struct {
	Title string      `json:"title"`
	Body  string      `json:"body"`
	Icon  string      `json:"icon,omitempty"`
	Image string      `json:"image,omitempty"`
	Badge string      `json:"badge,omitempty"`
	Color string      `json:"color,omitempty"`
	Data  payloadData `json:"data"`
}

type payloadData struct {
	URL string `json:"url"`
}

// requestSigner issues VAPID Authorization headers scoped to an endpoint's
// push-service origin.
type requestSigner interface {
	AuthorizationHeader(endpoint string) (string, error)
}

type encryptFunc func(sub *webpush.Subscription, plaintext []byte) (*webpush.EncryptedMessage, error)

// BroadcastService encrypts and delivers one notification per active
// subscription of a tenant, reconciling outcomes against subscription
// state.
type BroadcastService struct {
	db            *gorm.DB
	subscriptions *SubscriptionService
	signer        requestSigner
	client        *http.Client
	encrypt       encryptFunc
	now           func() time.Time
	log           *zap.Logger
	deliveryTTL   int
}

// BroadcastOption customises the BroadcastService.
type BroadcastOption func(*BroadcastService)

// WithHTTPClient injects the outbound HTTP client, primarily for testing.
func WithHTTPClient(client *http.Client) BroadcastOption {
	return func(s *BroadcastService) {
		if client != nil {
			s.client = client
		}
	}
}

// WithEncryptFunc overrides the message encryption function for tests.
func WithEncryptFunc(fn encryptFunc) BroadcastOption {
	return func(s *BroadcastService) {
		if fn != nil {
			s.encrypt = fn
		}
	}
}

// WithClock overrides the clock used for receipts and audit timestamps.
func WithClock(now func() time.Time) BroadcastOption {
	return func(s *BroadcastService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger overrides the service logger.
func WithLogger(log *zap.Logger) BroadcastOption {
	return func(s *BroadcastService) {
		if log != nil {
			s.log = log
		}
	}
}

// WithDeliveryTTL overrides the TTL header sent to push services.
func WithDeliveryTTL(seconds int) BroadcastOption {
	return func(s *BroadcastService) {
		if seconds > 0 {
			s.deliveryTTL = seconds
		}
	}
}

// NewBroadcastService constructs a BroadcastService. The signer may be nil
// when VAPID keys are not configured; broadcasts then fail before any
// per-target work.
func NewBroadcastService(db *gorm.DB, subscriptions *SubscriptionService, signer requestSigner, opts ...BroadcastOption) (*BroadcastService, error) {
	if db == nil {
		return nil, errors.New("broadcast service: db is required")
	}
	if subscriptions == nil {
		return nil, errors.New("broadcast service: subscription service is required")
	}

	service := &BroadcastService{
		db:            db,
		subscriptions: subscriptions,
		signer:        signer,
		client:        &http.Client{Timeout: 30 * time.Second},
		encrypt:       webpush.Encrypt,
		now:           time.Now,
		log:           logger.WithModule("broadcast"),
		deliveryTTL:   DefaultDeliveryTTL,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Broadcast fans the notification out to every active subscription of the
// restaurant. Per-target failures are isolated and surfaced in the result;
// only missing VAPID configuration fails the broadcast as a whole.
func (s *BroadcastService) Broadcast(ctx context.Context, restaurantID string, input BroadcastInput) (*BroadcastResult, error) {
	ctx = ensureContext(ctx)
	restaurantID = strings.TrimSpace(restaurantID)
	if restaurantID == "" {
		return nil, errors.New("broadcast service: restaurant id is required")
	}

	if s.signer == nil {
		metrics.Broadcasts.WithLabelValues("error").Inc()
		return nil, apperrors.ErrPushNotConfigured
	}

	payload := s.buildPayload(ctx, restaurantID, input)
	plaintext, err := json.Marshal(payload)
	if err != nil {
		metrics.Broadcasts.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("broadcast service: marshal payload: %w", err)
	}

	targets, err := s.subscriptions.ListActive(ctx, restaurantID)
	if err != nil {
		metrics.Broadcasts.WithLabelValues("error").Inc()
		return nil, err
	}

	result := &BroadcastResult{Errors: []TargetError{}}
	if len(targets) == 0 {
		metrics.Broadcasts.WithLabelValues("ok").Inc()
		return result, nil
	}

	notificationID := s.createAuditRecord(ctx, restaurantID, input, plaintext)
	result.NotificationID = notificationID
	result.TotalAttempted = len(targets)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, target := range targets {
		wg.Add(1)
		go func(target models.PushSubscription) {
			defer wg.Done()

			outcome := s.deliver(ctx, restaurantID, notificationID, target, plaintext, input.Debug)

			mu.Lock()
			defer mu.Unlock()
			if outcome.err == nil {
				result.SentCount++
			} else {
				result.Errors = append(result.Errors, *outcome.err)
			}
			if outcome.trace != nil {
				result.DebugInfo = append(result.DebugInfo, *outcome.trace)
			}
		}(target)
	}
	wg.Wait()

	s.finaliseAuditRecord(ctx, notificationID, result)
	metrics.Broadcasts.WithLabelValues("ok").Inc()
	return result, nil
}

// buildPayload fills cosmetic defaults from tenant branding. A failed
// branding lookup never aborts the broadcast.
func (s *BroadcastService) buildPayload(ctx context.Context, restaurantID string, input BroadcastInput) notificationPayload {
	payload := notificationPayload{
		Title: input.Title,
		Body:  input.Message,
		Icon:  input.Icon,
		Image: input.ImageURL,
		Badge: input.Badge,
		Color: input.Color,
		Data:  payloadData{URL: input.URL},
	}

	if payload.Icon != "" && payload.Badge != "" && payload.Color != "" {
		return payload
	}

	var restaurant models.Restaurant
	if err := s.db.WithContext(ctx).First(&restaurant, "id = ?", restaurantID).Error; err != nil {
		s.log.Warn("branding lookup failed; using payload as-is",
			zap.String("restaurant_id", restaurantID),
			zap.Error(err))
		return payload
	}

	if payload.Icon == "" {
		payload.Icon = restaurant.LogoURL
	}
	if payload.Badge == "" {
		payload.Badge = restaurant.LogoURL
	}
	if payload.Color == "" {
		payload.Color = restaurant.AccentColor
	}
	return payload
}

type deliveryOutcome struct {
	err   *TargetError
	trace *TargetTrace
}

// deliver runs the full per-target pipeline: parse, encrypt, sign, post,
// reconcile. All failures are converted into a TargetError; nothing
// escapes to the caller.
func (s *BroadcastService) deliver(ctx context.Context, restaurantID, notificationID string, target models.PushSubscription, plaintext []byte, debug bool) deliveryOutcome {
	started := s.now()
	var trace *TargetTrace
	step := func(format string, args ...any) {
		if trace != nil {
			trace.Steps = append(trace.Steps, fmt.Sprintf(format, args...))
		}
	}
	if debug {
		trace = &TargetTrace{SubscriptionID: target.ID}
	}

	fail := func(status int, err error, result string) deliveryOutcome {
		step("failed: %v", err)
		s.recordReceipt(ctx, notificationID, target.ID, false, status, err.Error())
		metrics.Deliveries.WithLabelValues(result).Inc()
		metrics.DeliveryLatency.Observe(time.Since(started).Seconds())
		return deliveryOutcome{
			err:   &TargetError{SubscriptionID: target.ID, Error: err.Error(), Status: status},
			trace: trace,
		}
	}

	sub, err := webpush.ParseSubscription(target.Token)
	if err != nil {
		return fail(0, err, "failed")
	}
	step("parsed subscription for %s", sub.Endpoint)

	message, err := s.encrypt(sub, plaintext)
	if err != nil {
		return fail(0, err, "failed")
	}
	step("encrypted payload (%d bytes)", len(message.Ciphertext))

	authorization, err := s.signer.AuthorizationHeader(sub.Endpoint)
	if err != nil {
		return fail(0, err, "failed")
	}
	step("issued vapid token")

	status, err := s.post(ctx, sub.Endpoint, authorization, message.Body())
	if err != nil {
		return fail(0, err, "failed")
	}
	step("push service responded %d", status)

	if status < 200 || status >= 300 {
		result := "rejected"
		// 404/410 mean the endpoint is gone for good; retire the target.
		if status == http.StatusNotFound || status == http.StatusGone {
			result = "expired"
			if err := s.subscriptions.Deactivate(ctx, restaurantID, target.ID); err != nil {
				s.log.Warn("failed to deactivate expired subscription",
					zap.String("subscription_id", target.ID),
					zap.Error(err))
			} else {
				step("deactivated subscription")
			}
		}
		return fail(status, fmt.Errorf("push service returned %d", status), result)
	}

	s.recordReceipt(ctx, notificationID, target.ID, true, status, "")
	metrics.Deliveries.WithLabelValues("sent").Inc()
	metrics.DeliveryLatency.Observe(time.Since(started).Seconds())
	return deliveryOutcome{trace: trace}
}

func (s *BroadcastService) post(ctx context.Context, endpoint, authorization string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("TTL", strconv.Itoa(s.deliveryTTL))
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Encoding", "aes128gcm")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("deliver: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

// createAuditRecord writes the broadcast audit row. Audit state is
// best-effort relative to delivery: a write failure is logged and the
// broadcast proceeds without receipts.
func (s *BroadcastService) createAuditRecord(ctx context.Context, restaurantID string, input BroadcastInput, plaintext []byte) string {
	notification := models.Notification{
		RestaurantID: restaurantID,
		Title:        input.Title,
		Message:      input.Message,
		Payload:      plaintext,
		Status:       models.NotificationStatusSending,
	}
	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		s.log.Warn("failed to create broadcast audit record",
			zap.String("restaurant_id", restaurantID),
			zap.Error(err))
		return ""
	}
	return notification.ID
}

func (s *BroadcastService) finaliseAuditRecord(ctx context.Context, notificationID string, result *BroadcastResult) {
	if notificationID == "" {
		return
	}
	if err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ?", notificationID).
		Updates(map[string]any{
			"status":          models.NotificationStatusSent,
			"sent_count":      result.SentCount,
			"total_attempted": result.TotalAttempted,
		}).Error; err != nil {
		s.log.Warn("failed to finalise broadcast audit record",
			zap.String("notification_id", notificationID),
			zap.Error(err))
	}
}

// recordReceipt upserts the per-broadcast per-target outcome row.
func (s *BroadcastService) recordReceipt(ctx context.Context, notificationID, subscriptionID string, sent bool, status int, errMessage string) {
	if notificationID == "" {
		return
	}

	receipt := models.DeliveryReceipt{
		NotificationID: notificationID,
		SubscriptionID: subscriptionID,
		Sent:           sent,
		StatusCode:     status,
		Error:          errMessage,
		AttemptedAt:    s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "notification_id"}, {Name: "subscription_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"sent", "status_code", "error", "attempted_at", "updated_at"}),
		}).
		Create(&receipt).Error; err != nil {
		s.log.Warn("failed to record delivery receipt",
			zap.String("subscription_id", subscriptionID),
			zap.Error(err))
	}
}

// ListRecent returns the latest broadcast audit records for a restaurant.
func (s *BroadcastService) ListRecent(ctx context.Context, restaurantID string, limit int) ([]models.Notification, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	var rows []models.Notification
	if err := s.db.WithContext(ctx).
		Where("restaurant_id = ?", restaurantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("broadcast service: list recent: %w", err)
	}
	return rows, nil
}

package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tavolohq/tavolo/internal/database/testutil"
	"github.com/tavolohq/tavolo/internal/models"
	"github.com/tavolohq/tavolo/internal/webpush"
	apperrors "github.com/tavolohq/tavolo/pkg/errors"
)

// staticSigner satisfies the signer dependency without real VAPID keys.
type staticSigner struct {
	calls atomic.Int64
}

func (s *staticSigner) AuthorizationHeader(endpoint string) (string, error) {
	s.calls.Add(1)
	return "vapid t=test-token, k=test-key", nil
}

// countingTransport fails every request while counting them; used to prove
// the empty-tenant path never touches the network.
type countingTransport struct {
	calls atomic.Int64
}

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return nil, http.ErrHandlerTimeout
}

func newBroadcastService(t *testing.T, db *gorm.DB, signer requestSigner, opts ...BroadcastOption) *BroadcastService {
	t.Helper()

	subs, err := NewSubscriptionService(db)
	require.NoError(t, err)
	svc, err := NewBroadcastService(db, subs, signer, opts...)
	require.NoError(t, err)
	return svc
}

func TestBroadcastPartialFailureIsolation(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	restaurant := createRestaurant(t, db, "cantina-sole")

	var mu sync.Mutex
	seenAuth := map[string]string{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seenAuth[r.URL.Path] = r.Header.Get("Authorization")
		mu.Unlock()

		require.Equal(t, "86400", r.Header.Get("TTL"))
		require.Equal(t, "aes128gcm", r.Header.Get("Content-Encoding"))
		require.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))

		if strings.HasSuffix(r.URL.Path, "/gone") {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	first := createSubscription(t, db, restaurant.ID, server.URL+"/send/first", true)
	gone := createSubscription(t, db, restaurant.ID, server.URL+"/send/gone", true)
	third := createSubscription(t, db, restaurant.ID, server.URL+"/send/third", true)

	svc := newBroadcastService(t, db, &staticSigner{})
	result, err := svc.Broadcast(context.Background(), restaurant.ID, BroadcastInput{
		Title:   "Happy hour",
		Message: "Half price aperitivo until 7pm",
	})
	require.NoError(t, err)

	require.Equal(t, 2, result.SentCount)
	require.Equal(t, 3, result.TotalAttempted)
	require.Len(t, result.Errors, 1)
	require.Equal(t, gone.ID, result.Errors[0].SubscriptionID)
	require.Equal(t, http.StatusGone, result.Errors[0].Status)

	// Only the 410 target is retired.
	for id, wantActive := range map[string]bool{first.ID: true, gone.ID: false, third.ID: true} {
		var row models.PushSubscription
		require.NoError(t, db.First(&row, "id = ?", id).Error)
		require.Equal(t, wantActive, row.IsActive)
	}

	require.NotEmpty(t, seenAuth["/send/first"])
}

func TestBroadcastWritesAuditRecordAndReceipts(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	restaurant := createRestaurant(t, db, "forno-antico")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	ok := createSubscription(t, db, restaurant.ID, server.URL+"/send/ok", true)
	missing := createSubscription(t, db, restaurant.ID, server.URL+"/send/missing", true)

	svc := newBroadcastService(t, db, &staticSigner{})
	result, err := svc.Broadcast(context.Background(), restaurant.ID, BroadcastInput{Title: "Sunday roast"})
	require.NoError(t, err)
	require.NotEmpty(t, result.NotificationID)

	var notification models.Notification
	require.NoError(t, db.First(&notification, "id = ?", result.NotificationID).Error)
	require.Equal(t, models.NotificationStatusSent, notification.Status)
	require.Equal(t, 1, notification.SentCount)
	require.Equal(t, 2, notification.TotalAttempted)

	var receipts []models.DeliveryReceipt
	require.NoError(t, db.Where("notification_id = ?", result.NotificationID).Find(&receipts).Error)
	require.Len(t, receipts, 2)

	byTarget := map[string]models.DeliveryReceipt{}
	for _, receipt := range receipts {
		byTarget[receipt.SubscriptionID] = receipt
	}
	require.True(t, byTarget[ok.ID].Sent)
	require.False(t, byTarget[missing.ID].Sent)
	require.Equal(t, http.StatusNotFound, byTarget[missing.ID].StatusCode)
}

func TestBroadcastEmptyTenantShortCircuits(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	restaurant := createRestaurant(t, db, "quiet-place")

	var encryptCalls atomic.Int64
	transport := &countingTransport{}
	signer := &staticSigner{}

	svc := newBroadcastService(t, db, signer,
		WithHTTPClient(&http.Client{Transport: transport}),
		WithEncryptFunc(func(sub *webpush.Subscription, plaintext []byte) (*webpush.EncryptedMessage, error) {
			encryptCalls.Add(1)
			return webpush.Encrypt(sub, plaintext)
		}),
	)

	result, err := svc.Broadcast(context.Background(), restaurant.ID, BroadcastInput{Title: "anyone there?"})
	require.NoError(t, err)

	require.Equal(t, 0, result.SentCount)
	require.Equal(t, 0, result.TotalAttempted)
	require.Empty(t, result.Errors)
	require.Empty(t, result.NotificationID)

	require.EqualValues(t, 0, encryptCalls.Load())
	require.EqualValues(t, 0, transport.calls.Load())
	require.EqualValues(t, 0, signer.calls.Load())

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Where("restaurant_id = ?", restaurant.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestBroadcastFailsWithoutSigner(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	restaurant := createRestaurant(t, db, "unconfigured")
	createSubscription(t, db, restaurant.ID, "https://push.example.net/send/a", true)

	svc := newBroadcastService(t, db, nil)
	_, err := svc.Broadcast(context.Background(), restaurant.ID, BroadcastInput{Title: "nope"})
	require.ErrorIs(t, err, apperrors.ErrPushNotConfigured)
}

func TestBroadcastIsolatesMalformedTokens(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	restaurant := createRestaurant(t, db, "mixed-bag")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	good := createSubscription(t, db, restaurant.ID, server.URL+"/send/good", true)

	broken := models.PushSubscription{
		RestaurantID: restaurant.ID,
		Token:        []byte(`{"endpoint": ""}`),
		IsActive:     true,
	}
	require.NoError(t, db.Create(&broken).Error)

	svc := newBroadcastService(t, db, &staticSigner{})
	result, err := svc.Broadcast(context.Background(), restaurant.ID, BroadcastInput{Title: "still works"})
	require.NoError(t, err)

	require.Equal(t, 1, result.SentCount)
	require.Equal(t, 2, result.TotalAttempted)
	require.Len(t, result.Errors, 1)
	require.Equal(t, broken.ID, result.Errors[0].SubscriptionID)
	require.Zero(t, result.Errors[0].Status)

	// Parse failures never deactivate: only 404/410 do.
	var row models.PushSubscription
	require.NoError(t, db.First(&row, "id = ?", broken.ID).Error)
	require.True(t, row.IsActive)
	_ = good
}

func TestBroadcastAppliesBrandingDefaults(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	restaurant := createRestaurant(t, db, "branded-bistro")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()
	createSubscription(t, db, restaurant.ID, server.URL+"/send/a", true)

	var captured []byte
	svc := newBroadcastService(t, db, &staticSigner{},
		WithEncryptFunc(func(sub *webpush.Subscription, plaintext []byte) (*webpush.EncryptedMessage, error) {
			captured = append([]byte{}, plaintext...)
			return webpush.Encrypt(sub, plaintext)
		}),
	)

	_, err := svc.Broadcast(context.Background(), restaurant.ID, BroadcastInput{
		Title:   "New menu",
		Message: "Autumn menu is live",
		URL:     "https://branded-bistro.example/menu",
		Color:   "#101010",
	})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(captured, &payload))
	require.Equal(t, "New menu", payload["title"])
	require.Equal(t, "Autumn menu is live", payload["body"])
	require.Equal(t, restaurant.LogoURL, payload["icon"])
	require.Equal(t, restaurant.LogoURL, payload["badge"])
	require.Equal(t, "#101010", payload["color"]) // explicit value wins over branding
	require.Equal(t, "https://branded-bistro.example/menu",
		payload["data"].(map[string]any)["url"])
}

func TestBroadcastDebugTraces(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	restaurant := createRestaurant(t, db, "debuggable")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()
	sub := createSubscription(t, db, restaurant.ID, server.URL+"/send/a", true)

	svc := newBroadcastService(t, db, &staticSigner{})
	result, err := svc.Broadcast(context.Background(), restaurant.ID, BroadcastInput{
		Title: "trace me",
		Debug: true,
	})
	require.NoError(t, err)
	require.Len(t, result.DebugInfo, 1)
	require.Equal(t, sub.ID, result.DebugInfo[0].SubscriptionID)
	require.GreaterOrEqual(t, len(result.DebugInfo[0].Steps), 4)
}

func TestBroadcastSendsConformantBody(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	restaurant := createRestaurant(t, db, "wire-format")

	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		body = buf
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()
	createSubscription(t, db, restaurant.ID, server.URL+"/send/a", true)

	svc := newBroadcastService(t, db, &staticSigner{})
	_, err := svc.Broadcast(context.Background(), restaurant.ID, BroadcastInput{Title: "hi"})
	require.NoError(t, err)

	require.Greater(t, len(body), 86)
	require.EqualValues(t, 4096, binary.BigEndian.Uint32(body[16:20]))
	require.EqualValues(t, 65, body[20])
}

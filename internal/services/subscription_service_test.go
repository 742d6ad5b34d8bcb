package services

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tavolohq/tavolo/internal/database/testutil"
	"github.com/tavolohq/tavolo/internal/models"
	"github.com/tavolohq/tavolo/internal/webpush"
	apperrors "github.com/tavolohq/tavolo/pkg/errors"
)

func createRestaurant(t *testing.T, db *gorm.DB, name string) models.Restaurant {
	t.Helper()

	restaurant := models.Restaurant{
		Name:        name,
		Slug:        name,
		LogoURL:     "https://cdn.tavolo.app/" + name + "/logo.png",
		AccentColor: "#d94f30",
	}
	require.NoError(t, db.Create(&restaurant).Error)
	return restaurant
}

// subscriptionToken builds a valid stored subscription for the endpoint,
// returning the token JSON alongside the subscriber's private material.
func subscriptionToken(t *testing.T, endpoint string) ([]byte, *ecdh.PrivateKey, []byte) {
	t.Helper()

	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	token, err := json.Marshal(webpush.Subscription{
		Endpoint: endpoint,
		Keys: webpush.Keys{
			P256dh: webpush.EncodeBase64URL(key.PublicKey().Bytes()),
			Auth:   webpush.EncodeBase64URL(auth),
		},
	})
	require.NoError(t, err)
	return token, key, auth
}

func createSubscription(t *testing.T, db *gorm.DB, restaurantID, endpoint string, active bool) models.PushSubscription {
	t.Helper()

	token, _, _ := subscriptionToken(t, endpoint)
	sub := models.PushSubscription{
		RestaurantID: restaurantID,
		Token:        token,
		IsActive:     active,
	}
	require.NoError(t, db.Create(&sub).Error)
	if !active {
		// gorm default:true overrides a zero-value field on insert.
		require.NoError(t, db.Model(&sub).Update("is_active", false).Error)
	}
	return sub
}

func TestSubscriptionServiceListActiveFiltersTenantsAndFlags(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc, err := NewSubscriptionService(db)
	require.NoError(t, err)

	mine := createRestaurant(t, db, "trattoria-roma")
	other := createRestaurant(t, db, "cafe-luna")

	active := createSubscription(t, db, mine.ID, "https://push.example.net/send/a", true)
	createSubscription(t, db, mine.ID, "https://push.example.net/send/b", false)
	createSubscription(t, db, other.ID, "https://push.example.net/send/c", true)

	rows, err := svc.ListActive(context.Background(), mine.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, active.ID, rows[0].ID)

	count, err := svc.CountActive(context.Background(), mine.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestSubscriptionServiceDeactivateIsIdempotent(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc, err := NewSubscriptionService(db)
	require.NoError(t, err)

	restaurant := createRestaurant(t, db, "bistro-verde")
	sub := createSubscription(t, db, restaurant.ID, "https://push.example.net/send/x", true)

	require.NoError(t, svc.Deactivate(context.Background(), restaurant.ID, sub.ID))
	require.NoError(t, svc.Deactivate(context.Background(), restaurant.ID, sub.ID))

	var row models.PushSubscription
	require.NoError(t, db.First(&row, "id = ?", sub.ID).Error)
	require.False(t, row.IsActive)
}

func TestSubscriptionServiceDeactivateUnknownTarget(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc, err := NewSubscriptionService(db)
	require.NoError(t, err)

	restaurant := createRestaurant(t, db, "osteria-blu")
	err = svc.Deactivate(context.Background(), restaurant.ID, "no-such-id")
	require.ErrorIs(t, err, apperrors.ErrSubscriptionNotFound)
}

func TestSubscriptionServiceListReturnsAllTargets(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc, err := NewSubscriptionService(db)
	require.NoError(t, err)

	restaurant := createRestaurant(t, db, "pizzeria-nove")
	createSubscription(t, db, restaurant.ID, "https://push.example.net/send/1", true)
	createSubscription(t, db, restaurant.ID, "https://push.example.net/send/2", false)

	rows, err := svc.List(context.Background(), restaurant.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tavolohq/tavolo/internal/database/testutil"
	"github.com/tavolohq/tavolo/internal/middleware"
	"github.com/tavolohq/tavolo/internal/models"
	"github.com/tavolohq/tavolo/internal/services"
	"github.com/tavolohq/tavolo/pkg/response"
)

type stubSigner struct{}

func (stubSigner) AuthorizationHeader(string) (string, error) {
	return "vapid t=stub, k=stub", nil
}

func newBroadcastHandler(t *testing.T, db *gorm.DB) *BroadcastHandler {
	t.Helper()

	subscriptions, err := services.NewSubscriptionService(db)
	require.NoError(t, err)

	service, err := services.NewBroadcastService(db, subscriptions, stubSigner{})
	require.NoError(t, err)

	handler, err := NewBroadcastHandler(service)
	require.NoError(t, err)
	return handler
}

func createTestRestaurant(t *testing.T, db *gorm.DB) models.Restaurant {
	t.Helper()

	restaurant := models.Restaurant{
		Name:         "Trattoria Roma",
		Slug:         "trattoria-roma",
		ContactEmail: "owner@trattoria.example",
	}
	require.NoError(t, db.Create(&restaurant).Error)
	return restaurant
}

func postJSON(t *testing.T, handler gin.HandlerFunc, restaurantID, body string) *httptest.ResponseRecorder {
	t.Helper()

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/broadcasts", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	if restaurantID != "" {
		c.Set(middleware.CtxRestaurantIDKey, restaurantID)
	}
	handler(c)
	return recorder
}

func TestBroadcastHandlerSendEmptyTenant(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	restaurant := createTestRestaurant(t, db)
	handler := newBroadcastHandler(t, db)

	recorder := postJSON(t, handler.Send, restaurant.ID,
		`{"title":"Lunch special","message":"Fresh pasta today"}`)

	require.Equal(t, http.StatusOK, recorder.Code)

	var payload response.Response
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.True(t, payload.Success)

	dataBytes, err := json.Marshal(payload.Data)
	require.NoError(t, err)

	var result broadcastResponse
	require.NoError(t, json.Unmarshal(dataBytes, &result))
	require.Zero(t, result.SentCount)
	require.Zero(t, result.TotalAttempted)
	require.Empty(t, result.Errors)
	require.Empty(t, result.NotificationID)
}

func TestBroadcastHandlerSendValidation(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	restaurant := createTestRestaurant(t, db)
	handler := newBroadcastHandler(t, db)

	cases := []struct {
		name string
		body string
	}{
		{name: "missing title", body: `{"message":"hi"}`},
		{name: "missing message", body: `{"title":"hi"}`},
		{name: "bad url", body: `{"title":"t","message":"m","url":"not-a-url"}`},
		{name: "bad color", body: `{"title":"t","message":"m","color":"bluish"}`},
		{name: "invalid json", body: `{`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := postJSON(t, handler.Send, restaurant.ID, tc.body)
			require.Equal(t, http.StatusBadRequest, recorder.Code)

			var payload response.Response
			require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
			require.False(t, payload.Success)
			require.NotNil(t, payload.Error)
		})
	}
}

func TestBroadcastHandlerSendRequiresTenant(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	handler := newBroadcastHandler(t, db)

	recorder := postJSON(t, handler.Send, "", `{"title":"t","message":"m"}`)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestBroadcastHandlerList(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	restaurant := createTestRestaurant(t, db)
	handler := newBroadcastHandler(t, db)

	notification := models.Notification{
		RestaurantID:   restaurant.ID,
		Title:          "Weekend brunch",
		Message:        "Book a table",
		Status:         models.NotificationStatusSent,
		SentCount:      3,
		TotalAttempted: 4,
	}
	require.NoError(t, db.Create(&notification).Error)

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/broadcasts?limit=10", nil)
	c.Set(middleware.CtxRestaurantIDKey, restaurant.ID)
	handler.List(c)

	require.Equal(t, http.StatusOK, recorder.Code)

	var payload response.Response
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.True(t, payload.Success)

	dataBytes, err := json.Marshal(payload.Data)
	require.NoError(t, err)

	var items []models.Notification
	require.NoError(t, json.Unmarshal(dataBytes, &items))
	require.Len(t, items, 1)
	require.Equal(t, "Weekend brunch", items[0].Title)
	require.Equal(t, 3, items[0].SentCount)
}

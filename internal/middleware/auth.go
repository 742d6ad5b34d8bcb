package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tavolohq/tavolo/internal/models"
	"github.com/tavolohq/tavolo/pkg/crypto"
	"github.com/tavolohq/tavolo/pkg/errors"
	"github.com/tavolohq/tavolo/pkg/response"
)

const (
	CtxRestaurantIDKey = "restaurantID"
	CtxRestaurantKey   = "restaurant"

	apiKeyHeader = "X-API-Key"
)

// RequireAPIKey authenticates tenant requests. Keys have the form
// "<slug>.<secret>"; the slug resolves the restaurant and the secret is
// checked against its stored bcrypt hash.
func RequireAPIKey(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(apiKeyHeader))
		slug, secret, ok := strings.Cut(key, ".")
		if !ok || slug == "" || secret == "" {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		var restaurant models.Restaurant
		if err := db.First(&restaurant, "slug = ?", slug).Error; err != nil {
			// Indistinguishable from a bad secret on purpose.
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		if restaurant.APIKeyHash == "" || !crypto.VerifyAPIKey(restaurant.APIKeyHash, secret) {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxRestaurantIDKey, restaurant.ID)
		c.Set(CtxRestaurantKey, &restaurant)

		c.Next()
	}
}

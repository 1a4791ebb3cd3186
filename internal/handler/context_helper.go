package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/study-analytics-api/internal/middleware"
	"github.com/noah-isme/study-analytics-api/internal/models"
	"github.com/noah-isme/study-analytics-api/internal/service"
	appErrors "github.com/noah-isme/study-analytics-api/pkg/errors"
	"github.com/noah-isme/study-analytics-api/pkg/middleware/requestid"
)

type endpointSource interface {
	Endpoints(ctx context.Context) (models.Endpoints, error)
}

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.Claims(c)
}

// requestContext assembles the acting lecturer and the analytics endpoints for this request.
func requestContext(c *gin.Context, endpoints endpointSource) (models.RequestContext, error) {
	claims := claimsFromContext(c)
	if claims == nil {
		return models.RequestContext{}, appErrors.ErrUnauthorized
	}
	rc := models.RequestContext{
		UserID:    claims.UserID,
		Login:     claims.Username,
		Identity:  service.ExternalIdentity(claims.Username),
		RequestID: requestid.Value(c),
	}
	if endpoints != nil {
		resolved, err := endpoints.Endpoints(c.Request.Context())
		if err != nil {
			return models.RequestContext{}, err
		}
		rc.Endpoints = resolved
	}
	return rc, nil
}

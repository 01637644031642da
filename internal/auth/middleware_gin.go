package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKeyDigest is the gin context key holding the caller's key digest.
const ContextKeyDigest = "api_key_digest"

// RequireAPIKeyGin creates Gin middleware for bearer API key authentication.
func RequireAPIKeyGin(g *Gate) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token, ok := bearerToken(ctx)
		if !ok {
			abortUnauthorized(ctx, "Missing API key")
			return
		}

		status, err := g.Validate(ctx.Request.Context(), token)
		if err != nil {
			g.logger.Error().Err(err).Msg("API key validation failed")
			ctx.JSON(http.StatusInternalServerError, gin.H{
				"error":   http.StatusText(http.StatusInternalServerError),
				"message": "Unable to validate API key",
			})
			ctx.Abort()
			return
		}

		if status != StatusValid {
			g.logger.Debug().Str("status", status.String()).Msg("Rejected API key")
			abortUnauthorized(ctx, "Invalid or expired API key")
			return
		}

		ctx.Set(ContextKeyDigest, Digest(token))
		ctx.Next()
	}
}

// bearerToken extracts the key from the Authorization header, falling
// back to the api_key query parameter older clients send.
func bearerToken(ctx *gin.Context) (string, bool) {
	authHeader := ctx.GetHeader("Authorization")
	if authHeader == "" {
		token := ctx.Query("api_key")
		return token, token != ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func abortUnauthorized(ctx *gin.Context, message string) {
	ctx.Header("WWW-Authenticate", "Bearer")
	ctx.JSON(http.StatusUnauthorized, gin.H{
		"error":   http.StatusText(http.StatusUnauthorized),
		"message": message,
	})
	ctx.Abort()
}

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	apperrors "mailroute/pkg/errors"
)

const SubjectKey = "auth_subject"

type AuthConfig struct {
	Secret string
	Issuer string
}

// JWTAuthMiddleware accepts HS256 bearer tokens signed with cfg.Secret.
// When cfg.Issuer is set the iss claim must match it.
func JWTAuthMiddleware(cfg AuthConfig) gin.HandlerFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (interface{}, error) {
			return []byte(cfg.Secret), nil
		})
		if err != nil || !token.Valid {
			abortUnauthorized(c, "invalid token")
			return
		}

		c.Set(SubjectKey, claims.Subject)
		c.Next()
	}
}

// IssueToken signs an HS256 token for subject. Used by operators and tests.
func IssueToken(cfg AuthConfig, subject string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = subject
	if claims.Issuer == "" {
		claims.Issuer = cfg.Issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}

func abortUnauthorized(c *gin.Context, msg string) {
	err := apperrors.ErrUnauthorized.WithMessage("%s", msg)
	c.AbortWithStatusJSON(apperrors.ToHTTPStatus(err), apperrors.ToErrorResponse(err))
}

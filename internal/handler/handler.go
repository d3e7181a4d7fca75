package handler

import (
	"log"
	"net/http"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"marketescrow/internal/auth"
	"marketescrow/internal/errors"
	"marketescrow/internal/model"
	"marketescrow/internal/service"
)

const principalKey = "principal"

// Authenticate runs after the echo-jwt middleware. It rejects blacklisted
// access tokens and stores the caller's Principal on the context.
func Authenticate(tokens auth.TokenStoreInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := c.Get("user").(*jwt.Token)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, errors.ErrorResponse{Error: "invalid token", Code: "UNAUTHORIZED"})
			}
			claims, ok := token.Claims.(*auth.Claims)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, errors.ErrorResponse{Error: "invalid token", Code: "UNAUTHORIZED"})
			}
			if tokens != nil && claims.ID != "" {
				revoked, err := tokens.IsAccessTokenBlacklisted(c.Request().Context(), claims.ID)
				if err != nil {
					log.Printf("auth: blacklist lookup failed: %v", err)
				}
				if revoked {
					return echo.NewHTTPError(http.StatusUnauthorized, errors.ErrorResponse{Error: "token revoked", Code: "TOKEN_REVOKED"})
				}
			}
			c.Set(principalKey, claims.Principal())
			return next(c)
		}
	}
}

// RequireRole allows only callers holding one of roles.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := c.Get(principalKey).(auth.Principal)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, errors.ErrorResponse{Error: "missing credentials", Code: "UNAUTHORIZED"})
			}
			for _, r := range roles {
				if p.Role == r {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, errors.ErrorResponse{Error: "forbidden", Code: "FORBIDDEN"})
		}
	}
}

func principal(c echo.Context) auth.Principal {
	p, _ := c.Get(principalKey).(auth.Principal)
	return p
}

func actor(c echo.Context) service.Actor {
	p := principal(c)
	return service.Actor{ID: p.UserID, Role: p.Role}
}

func requestID(c echo.Context) string {
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return c.Request().Header.Get(echo.HeaderXRequestID)
}

// fail maps a service error to a JSON error response carrying the request id.
func fail(c echo.Context, err error) error {
	ref := requestID(c)
	if errors.Is(err, errors.ErrAlreadyProcessed) {
		return c.JSON(http.StatusOK, map[string]string{"status": "already_processed"})
	}
	httpErr := errors.MapErrorToHTTP(err, ref)
	if httpErr.StatusCode >= http.StatusInternalServerError {
		log.Printf("http: %s %s failed ref=%s: %v", c.Request().Method, c.Path(), ref, err)
	}
	return c.JSON(httpErr.StatusCode, httpErr.ToErrorResponse())
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{Error: msg, Code: "INVALID_INPUT"})
}

// bind decodes and validates the request body into req.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return badRequest("invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return badRequest(err.Error())
	}
	return nil
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	return parseUUID(c.Param(name), name)
}

func parseUUID(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, badRequest("invalid " + name)
	}
	return id, nil
}

func limitParam(c echo.Context, def int) int {
	n, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

package router

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	echoSwagger "github.com/swaggo/echo-swagger"

	"marketescrow/internal/auth"
	"marketescrow/internal/handler"
	"marketescrow/internal/model"
)

// Handlers groups every HTTP handler the router mounts.
type Handlers struct {
	Auth     *handler.AuthHandler
	Slices   *handler.SliceHandler
	Disputes *handler.DisputeHandler
	Aura     *handler.AuraHandler
	Admin    *handler.AdminHandler
	Webhooks *handler.WebhookHandler
}

// Register wires routes and middleware.
func Register(e *echo.Echo, jwtSecret []byte, tokens auth.TokenStoreInterface, h Handlers) {
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.Validator = &CustomValidator{validator: validator.New()}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.GET("/swagger/*", echoSwagger.WrapHandler)

	api := e.Group("/api")

	// Public routes
	api.POST("/auth/register", h.Auth.Register)
	api.POST("/auth/login", h.Auth.Login)
	api.POST("/auth/refresh", h.Auth.Refresh)
	api.GET("/fees", h.Aura.FeeBreakdown)
	api.POST("/webhooks/payments/:provider", h.Webhooks.Payment)

	// Secured routes (require JWT authentication)
	secured := api.Group("",
		echojwt.WithConfig(echojwt.Config{
			SigningKey:    jwtSecret,
			TokenLookup:   "header:" + echo.HeaderAuthorization + ":Bearer ",
			NewClaimsFunc: func(echo.Context) jwt.Claims { return new(auth.Claims) },
		}),
		handler.Authenticate(tokens),
	)

	secured.GET("/me", h.Auth.Me)
	secured.POST("/auth/logout", h.Auth.Logout)

	// Slices and escrow
	secured.POST("/slices", h.Slices.CreateSlice, handler.RequireRole(model.RoleClient, model.RoleAdmin))
	secured.GET("/slices", h.Slices.ListSlices)
	secured.GET("/slices/:id", h.Slices.GetSlice)
	secured.POST("/slices/:id/assign", h.Slices.AssignProvider)
	secured.POST("/slices/:id/escrow", h.Slices.CreateEscrow)
	secured.GET("/slices/:id/escrow", h.Slices.GetEscrow)
	secured.POST("/slices/:id/evidence", h.Slices.SubmitEvidence)
	secured.GET("/slices/:id/evidence", h.Slices.ListEvidence)
	secured.POST("/slices/:id/complete", h.Slices.Complete)
	secured.POST("/slices/:id/release", h.Slices.Release)
	secured.POST("/slices/:id/refund", h.Slices.Refund)
	secured.POST("/slices/:id/advance", h.Slices.RequestAdvance)
	secured.POST("/slices/:id/advance/approve", h.Slices.ApproveAdvance)
	secured.POST("/slices/:id/advance/reject", h.Slices.RejectAdvance)
	secured.POST("/slices/:id/rating", h.Slices.Rate)
	secured.GET("/providers/:id/ratings", h.Slices.ProviderRatings)

	// Disputes
	secured.POST("/slices/:id/disputes", h.Disputes.CreateDispute)
	secured.GET("/disputes/:id", h.Disputes.GetDispute)
	secured.POST("/disputes/:id/evidence", h.Disputes.SubmitEvidence)

	// Aura
	secured.GET("/aura/me", h.Aura.MyProfile)
	secured.GET("/aura/me/history", h.Aura.History)
	secured.GET("/aura/:id", h.Aura.Profile)
	secured.GET("/aura/:id/capacity", h.Aura.Capacity)

	admin := secured.Group("/admin", handler.RequireRole(model.RoleAdmin))
	admin.POST("/disputes/:id/finalize", h.Disputes.Finalize)
	admin.POST("/honeypots", h.Disputes.SeedHoneypot)
	admin.GET("/honeypots/accuracy", h.Disputes.HoneypotAccuracy)
	admin.GET("/payouts", h.Admin.ListPayouts)
	admin.GET("/payouts/preview", h.Admin.PayoutPreview)
	admin.POST("/payouts/run", h.Admin.RunPayout)
	admin.POST("/escrows/auto-release", h.Admin.RunAutoRelease)
	admin.POST("/aura/decay", h.Admin.RunDecay)
}

// CustomValidator wraps validator for Echo.
type CustomValidator struct {
	validator *validator.Validate
}

// Validate implements echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

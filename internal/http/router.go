package http

import (
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/dlbhoang/shop-dunk/internal/config"
	"github.com/dlbhoang/shop-dunk/internal/domain"
	"github.com/dlbhoang/shop-dunk/internal/http/handler"
	httpmiddleware "github.com/dlbhoang/shop-dunk/internal/http/middleware"
)

// Vietnamese mobile numbers: optional +84 country code, valid carrier prefix.
var vnMobilePattern = regexp.MustCompile(`^(0|\+84)(3|5|7|8|9)[0-9]{8}$`)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, authMiddleware *httpmiddleware.Auth, logger *zap.Logger) (*gin.Engine, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Unknown fields in request bodies are rejected, not silently dropped.
	binding.EnableDecoderDisallowUnknownFields = true
	if err := registerValidators(); err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	users := r.Group("/api/v1/users")
	{
		users.POST("/signup", authHandler.Signup)
		users.POST("/login", authHandler.Login)
		users.GET("/logout", authHandler.Logout)
		users.POST("/forgotPassword", authHandler.ForgotPassword)
		users.PATCH("/resetPassword/:token", authHandler.ResetPassword)

		protected := users.Group("")
		protected.Use(authMiddleware.Protect)
		{
			protected.PATCH("/updateMyPassword", authHandler.UpdatePassword)
			protected.GET("/me", authHandler.Me)
			protected.GET("", httpmiddleware.RestrictTo(domain.RoleAdmin), authHandler.ListUsers)
		}
	}

	return r, nil
}

func registerValidators() error {
	engine, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return engine.RegisterValidation("vnmobile", func(fl validator.FieldLevel) bool {
		return vnMobilePattern.MatchString(fl.Field().String())
	})
}

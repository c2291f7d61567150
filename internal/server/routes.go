// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"github.com/labstack/echo/v4"
	"github.com/taskdeck/taskdeck/internal/handlers"
	appmw "github.com/taskdeck/taskdeck/internal/middleware"
	"github.com/taskdeck/taskdeck/internal/repository"
	authsvc "github.com/taskdeck/taskdeck/internal/services/auth"
	"github.com/taskdeck/taskdeck/internal/services/token"
)

func setupRoutes(e *echo.Echo, repo *repository.Repository, svc *authsvc.Service, validator *token.Validator) {
	h := handlers.New(repo)
	a := handlers.NewAuth(svc)

	e.GET("/health", h.Health)

	g := e.Group("/auth")
	g.POST("/signup", a.Signup)
	g.POST("/signup/verify_otp", a.VerifyOTP)
	g.POST("/signup/verify_otp/resend", a.ResendOTP)
	g.POST("/login", a.Login)
	g.POST("/login/sso", a.LoginSSO)

	protected := g.Group("", appmw.RequireAuth(validator))
	protected.GET("/me", a.Me)
	protected.POST("/logout", a.Logout)
}

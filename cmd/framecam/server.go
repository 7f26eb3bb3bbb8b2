package main

import (
	"embed"
	"io/fs"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wachiwi/framecam/cmd/framecam/handlers"
	"github.com/wachiwi/framecam/cmd/framecam/middleware"
	"github.com/wachiwi/framecam/pkg/camera"
	"github.com/wachiwi/framecam/pkg/store"
	"github.com/wachiwi/framecam/pkg/trigger"
)

//go:embed templates/*
var templateFS embed.FS

type routes struct {
	Latest  *camera.Cell
	Preview *camera.Cell
	Store   *store.Store
	Trigger trigger.Requester

	User          string
	Password      string
	SessionSecret string
	Templates     fs.FS
}

func newRouter(r routes) *gin.Engine {
	if r.Templates == nil {
		r.Templates = templateFS
	}
	secret := r.SessionSecret
	if secret == "" {
		// Sessions do not survive a restart without a configured secret.
		secret = uuid.NewString()
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.SetTrustedProxies([]string{"127.0.0.1"})
	router.Use(sessions.Sessions("framecam", cookie.NewStore([]byte(secret))))

	auth := &handlers.AuthHandler{User: r.User, Password: r.Password, TemplateFS: r.Templates}
	cam := &handlers.CameraHandler{Latest: r.Latest, Preview: r.Preview, Requester: r.Trigger, Store: r.Store}
	frames := &handlers.FrameHandler{
		Store:      r.Store,
		TemplateFS: r.Templates,
		Streaming:  r.Preview != nil,
		OnDemand:   r.Trigger != nil,
	}

	router.GET("/login", auth.LoginPage)
	router.POST("/login", auth.Login)
	router.GET("/logout", auth.Logout)

	authorized := router.Group("/")
	if r.User != "" {
		authorized.Use(middleware.AuthRequired)
	}
	authorized.GET("/", frames.Index)
	authorized.GET("/stream", cam.Stream)
	authorized.GET("/snapshot", cam.Snapshot)
	authorized.POST("/trigger", cam.Trigger)
	authorized.POST("/save", cam.Save)
	authorized.GET("/frames", frames.List)
	authorized.GET("/frames/:name", frames.Download)

	return router
}

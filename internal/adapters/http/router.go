package http

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/dkeye/classroom/internal/adapters/signal"
	"github.com/dkeye/classroom/internal/app/orch"
	"github.com/dkeye/classroom/internal/config"
	"github.com/dkeye/classroom/internal/domain"
	"github.com/dkeye/classroom/internal/identity"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const sessionName = "ClassroomSessions"

// TokenIssuer signs messaging login tokens. Nil disables /api/token.
type TokenIssuer interface {
	Issue(uid domain.ParticipantID) (string, error)
}

type Deps struct {
	Orch   *orch.Orchestrator
	Signal *signal.SignalWSController
	Tokens TokenIssuer
}

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// sessionStore keeps identity keys in the cookie session of one request.
type sessionStore struct {
	s sessions.Session
}

func (s sessionStore) Get(key string) (string, bool, error) {
	v, ok := s.s.Get(key).(string)
	return v, ok, nil
}

func (s sessionStore) Set(key, value string) error {
	s.s.Set(key, value)
	return s.s.Save()
}

type identityResponse struct {
	UID  domain.ParticipantID `json:"uid"`
	Name string               `json:"name"`
	Room domain.RoomID        `json:"room"`
}

func SetupRouter(ctx context.Context, cfg config.ServerConfig, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	key := []byte(cfg.Secret)
	if len(key) == 0 {
		log.Warn().Str("module", "adapters.http").Msg("no server secret, session cookies use an ephemeral key")
		key = []byte(uuid.NewString())
	}
	store := cookie.NewStore(key)
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(filepath.Join(cfg.StaticPath, "index.html"))
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": d.Orch.Rooms.List()})
	})

	api.GET("/identity", func(c *gin.Context) {
		res := identity.NewResolver(sessionStore{s: sessions.Default(c)})
		id := res.Resolve(c.Request.URL.Query())
		c.JSON(http.StatusOK, identityResponse{UID: id.ParticipantID, Name: id.DisplayName, Room: id.RoomID})
	})

	api.GET("/token", func(c *gin.Context) {
		if d.Tokens == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "tokens are disabled"})
			return
		}
		uid := domain.ParticipantID(c.Query("uid"))
		if uid == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing uid"})
			return
		}
		token, err := d.Tokens.Issue(uid)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Str("uid", string(uid)).Msg("issue token")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client_token", c.GetString("client_token")).Msg("ws signal endpoint hit")
		d.Signal.HandleSignal(ctx, c)
	})

	return r
}

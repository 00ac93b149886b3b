package http

import (
	"context"
	"log"
	"time"

	"authcore/internal/config"
	"authcore/internal/domain"
	"authcore/internal/infra/authz"
	"authcore/internal/infra/cache"
	"authcore/internal/infra/db"
	"authcore/internal/infra/keys/soft"
	"authcore/internal/infra/policy"
	"authcore/internal/infra/ratelimit"
	"authcore/internal/usecase"

	"github.com/gin-gonic/gin"
)

type Server struct {
	cfg   config.Config
	store *db.Store
	r     *gin.Engine

	tenants     *usecase.TenantService
	keyManager  *usecase.KeyManager
	issuer      *usecase.TokenIssuer
	validator   *usecase.TokenValidator
	apiKeys     *usecase.APIKeyService
	apiKeyRepo  usecase.APIKeyRepository
	revocations *usecase.RevocationRegistry

	adminAPIKey string
	authorizer  domain.Authorizer
	initErr     error

	rateLimiter          domain.RateLimiter
	rateLimitRequests    int
	rateLimitWindow      time.Duration
	rateLimitWithSubject bool
	rateLimitFailClosed  bool
}

func NewServer(cfg config.Config, store *db.Store) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{cfg: cfg, store: store, r: r}
	s.initDeps()
	s.routes()
	return s
}

// ServerDeps lets tests and embedders wire their own collaborators.
type ServerDeps struct {
	Tenants     *usecase.TenantService
	KeyManager  *usecase.KeyManager
	Issuer      *usecase.TokenIssuer
	Validator   *usecase.TokenValidator
	APIKeys     *usecase.APIKeyService
	APIKeyRepo  usecase.APIKeyRepository
	Revocations *usecase.RevocationRegistry
	AdminAPIKey string
	Authorizer  domain.Authorizer
	RateLimiter domain.RateLimiter
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:         cfg,
		r:           r,
		tenants:     deps.Tenants,
		keyManager:  deps.KeyManager,
		issuer:      deps.Issuer,
		validator:   deps.Validator,
		apiKeys:     deps.APIKeys,
		apiKeyRepo:  deps.APIKeyRepo,
		revocations: deps.Revocations,
		adminAPIKey: deps.AdminAPIKey,
		authorizer:  deps.Authorizer,
	}
	if s.authorizer == nil {
		s.authorizer = authz.NewAuthorizer()
	}
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initDeps() {
	s.adminAPIKey = s.cfg.AdminAPIKey

	fastCache := s.buildCache()

	var (
		tenantRepo usecase.TenantRepository
		keyRepo    usecase.KeyRepository
		epochRepo  usecase.RevocationEpochRepository
		material   usecase.KeyMaterialStore
	)
	if s.store != nil && s.store.DB != nil {
		tenantRepo = db.NewTenantRepository(s.store.DB)
		keyRepo = db.NewSigningKeyRepository(s.store.DB)
		epochRepo = db.NewRevocationEpochRepository(s.store.DB)
		material = db.NewKeyMaterialRepository(s.store.DB)
		s.apiKeyRepo = db.NewAPIKeyRepository(s.store.DB)
	} else {
		tenantRepo = db.NewTenantRepository(nil)
		keyRepo = db.NewSigningKeyRepository(nil)
		material = soft.NewStore()
		s.apiKeyRepo = db.NewAPIKeyRepository(nil)
	}

	s.keyManager = usecase.NewKeyManager(keyRepo, material, nil, s.cfg.KeyRotationGrace())
	s.revocations = usecase.NewRevocationRegistry(fastCache, epochRepo, nil)
	s.validator = &usecase.TokenValidator{
		Keys:         s.keyManager,
		Revocations:  s.revocations,
		Skew:         s.cfg.ClockSkew(),
		StoreTimeout: s.cfg.StoreTimeout(),
	}
	s.issuer = &usecase.TokenIssuer{
		Keys:        s.keyManager,
		Revocations: s.revocations,
		Validator:   s.validator,
		AccessTTL:   s.cfg.AccessTokenTTL(),
		RefreshTTL:  s.cfg.RefreshTokenTTL(),
	}
	apiKeys, err := usecase.NewAPIKeyService(s.apiKeyRepo, s.cfg.APIKeyHashCost, nil)
	if err != nil {
		s.initErr = err
		return
	}
	apiKeys.StoreTimeout = s.cfg.StoreTimeout()
	s.apiKeys = apiKeys
	s.tenants = &usecase.TenantService{
		Tenants:     tenantRepo,
		KeyManager:  s.keyManager,
		Revocations: s.revocations,
		MaxTokenTTL: s.cfg.RefreshTokenTTL(),
	}

	s.authorizer = s.buildAuthorizer()
	s.initRateLimit(nil)
}

func (s *Server) buildCache() usecase.Cache {
	if s.cfg.RedisAddr != "" {
		if redisCache, err := cache.NewRedisCache(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB); err == nil {
			return redisCache
		}
	}
	return cache.NewMemoryCache(nil)
}

func (s *Server) buildAuthorizer() domain.Authorizer {
	if s.cfg.PolicyBundlePath != "" {
		engine, err := policy.NewEngineFromBundlePath(context.Background(), s.cfg.PolicyBundlePath)
		if err == nil {
			return engine
		}
		log.Printf("policy bundle load failed, falling back to scope authorizer: %v", err)
	}
	return authz.NewAuthorizer()
}

func (s *Server) initRateLimit(override domain.RateLimiter) {
	if override != nil {
		s.rateLimiter = override
	}
	if s.rateLimiter == nil && s.cfg.RateLimitRequests > 0 {
		if s.cfg.RedisAddr != "" {
			if limiter, err := ratelimit.NewRedisLimiter(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, nil); err == nil {
				s.rateLimiter = limiter
			}
		}
		if s.rateLimiter == nil {
			s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
				MaxKeys: s.cfg.RateLimitMaxKeys,
			})
		}
	}
	s.rateLimitRequests = s.cfg.RateLimitRequests
	s.rateLimitWindow = s.cfg.RateLimitWindow()
	s.rateLimitWithSubject = s.cfg.RateLimitIncludeSubject
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		dbMode := "no-db"
		if s.store != nil && s.store.DB != nil {
			dbMode = "db"
		}
		c.JSON(200, gin.H{"status": "ok", "mode": dbMode})
	})

	v1 := s.r.Group("/v1")
	{
		v1.POST("/tenants", s.handleOnboardTenant)
		v1.DELETE("/tenants/:tenant_id", s.handleOffboardTenant)
		v1.POST("/tenants/:tenant_id/keys/rotate", s.handleRotateKeys)
		v1.GET("/tenants/:tenant_id/keys", s.handleListKeys)

		v1.POST("/tokens", s.handleIssueTokens)
		v1.POST("/tokens/refresh", s.handleRefreshTokens)
		v1.POST("/tokens/revoke", s.handleRevokeToken)
		v1.GET("/me", s.handleMe)

		v1.POST("/tenants/:tenant_id/api-keys", s.handleCreateAPIKey)
		v1.GET("/tenants/:tenant_id/api-keys", s.handleListAPIKeys)
		v1.DELETE("/tenants/:tenant_id/api-keys/:key_id", s.handleRevokeAPIKey)
	}

	s.r.NoRoute(s.handleNoRoute)
}

func (s *Server) Run() error {
	if s.initErr != nil {
		return s.initErr
	}
	return s.r.Run(s.cfg.HTTPAddr)
}

// Handler exposes the router for httptest.
func (s *Server) Handler() *gin.Engine {
	return s.r
}

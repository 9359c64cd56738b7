package config

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	infisical "github.com/infisical/go-sdk"
	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	DatabaseURL    string
	FrontendOrigin string
	RedisURL       string
	RedisPassword  string
	AdminToken     string
	RequireAPIKey  bool

	OctantBaseURL string
	GivethBaseURL string
	DAOIP5BaseURL string

	KarmaBaseURL     string
	CoinGeckoBaseURL string
	CoinGeckoAPIKey  string

	// Epochs whose applications are known to exist even when the upstream
	// activity flags say otherwise. Consulted by the round-selection
	// fallback; comma-separated epoch numbers.
	OctantKnownGoodEpochs []int

	// Per-key/IP rate limit for the public API, requests per minute.
	RateLimitPerMinute int
}

func Load() Config {
	// Local development convenience; ignored when no .env file exists.
	_ = godotenv.Load()

	cfg := Config{
		Port:           envOr("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		FrontendOrigin: envOr("FRONTEND_ORIGIN", "*"),
		RedisURL:       envOr("REDIS_URL", "redis://localhost:6379/0"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		AdminToken:     os.Getenv("ADMIN_TOKEN"),
		RequireAPIKey:  envOr("REQUIRE_API_KEY", "false") == "true",

		OctantBaseURL: envOr("OCTANT_BASE_URL", "https://backend.mainnet.octant.app"),
		GivethBaseURL: envOr("GIVETH_BASE_URL", "https://mainnet.serve.giveth.io/graphql"),
		DAOIP5BaseURL: envOr("DAOIP5_BASE_URL", "https://daoip5.daostar.org"),

		KarmaBaseURL:     envOr("KARMA_BASE_URL", "https://gapapi.karmahq.xyz"),
		CoinGeckoBaseURL: envOr("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
		CoinGeckoAPIKey:  os.Getenv("COINGECKO_API_KEY"),

		OctantKnownGoodEpochs: parseIntList(os.Getenv("OCTANT_KNOWN_GOOD_EPOCHS")),
		RateLimitPerMinute:    envInt("RATE_LIMIT_PER_MINUTE", 120),
	}

	// If Infisical credentials are available, fetch secrets from Infisical
	clientID := os.Getenv("INFISICAL_CLIENT_ID")
	clientSecret := os.Getenv("INFISICAL_CLIENT_SECRET")
	if clientID != "" && clientSecret != "" {
		loadFromInfisical(&cfg, clientID, clientSecret)
	}

	return cfg
}

func loadFromInfisical(cfg *Config, clientID, clientSecret string) {
	siteURL := envOr("INFISICAL_SITE_URL", "https://app.infisical.com")
	projectID := os.Getenv("INFISICAL_PROJECT_ID")
	envSlug := envOr("INFISICAL_ENV", "prod")

	if projectID == "" {
		slog.Warn("INFISICAL_PROJECT_ID not set, skipping Infisical")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          siteURL,
		AutoTokenRefresh: false,
	})

	_, err := client.Auth().UniversalAuthLogin(clientID, clientSecret)
	if err != nil {
		slog.Error("infisical auth failed", "error", err)
		return
	}

	secrets := map[string]*string{
		"REDIS_PASSWORD":    &cfg.RedisPassword,
		"ADMIN_TOKEN":       &cfg.AdminToken,
		"COINGECKO_API_KEY": &cfg.CoinGeckoAPIKey,
	}

	for key, target := range secrets {
		if *target != "" {
			continue // env var already set, skip
		}
		secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
			SecretKey:   key,
			Environment: envSlug,
			ProjectID:   projectID,
			SecretPath:  "/",
		})
		if err != nil {
			slog.Warn("failed to retrieve secret from infisical", "key", key, "error", err)
			continue
		}
		*target = secret.SecretValue
		slog.Info("loaded secret from infisical", "key", key)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer env var, using fallback", "key", key, "value", v)
		return fallback
	}
	return n
}

func parseIntList(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			slog.Warn("skipping non-numeric entry in int list", "value", part)
			continue
		}
		out = append(out, n)
	}
	return out
}

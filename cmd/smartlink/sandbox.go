package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/apolo-dex/smartlink/adapters/backend/backendtest"
	"github.com/apolo-dex/smartlink/adapters/tokenizer"
	"github.com/apolo-dex/smartlink/config"
	"github.com/apolo-dex/smartlink/service"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func runSandbox(cmd *cobra.Command, args []string) error {
	logger := newLogger(slog.LevelInfo)

	// Tokens only need to verify within this process, so a fresh key per run is enough
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate signing key: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	sandbox := backendtest.New(tokenizer.NewJWTTokenizer(privateKey))

	for _, link := range sandboxLinks {
		wallet, subject, ok := strings.Cut(link, "=")
		if !ok || subject == "" {
			return fmt.Errorf("invalid --link %q, want address=telegram_id", link)
		}
		normalized, err := service.NormalizeWallet(wallet)
		if err != nil || normalized == "" {
			return fmt.Errorf("invalid --link address %q", wallet)
		}
		sandbox.Link(normalized, subject)
		logger.Info("Pre-linked wallet", "wallet", normalized, "subject_id", subject)
	}

	listen := port
	if listen == "" {
		listen = config.SandboxPort()
	}

	srv := &http.Server{
		Addr:              ":" + listen,
		Handler:           sandbox.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("Starting sandbox backend", "port", listen)
	return srv.ListenAndServe()
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/novatrade/internal/exchange/sandbox"
	"github.com/ksred/novatrade/internal/market"
)

const keyName = "organizations/sandbox/apiKeys/local"

// init configures the logger for the sandbox with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// main serves an in-memory exchange with a fresh key pair and prints the
// settings the server needs to trade against it
func main() {
	_ = godotenv.Load()

	port := getenv("SANDBOX_PORT", "3100")
	quote := strings.ToUpper(getenv("QUOTE_CURRENCY", "USDT"))
	host := "localhost:" + port

	key, pemKey, err := sandbox.GenerateKey()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to generate sandbox key")
	}

	ex := sandbox.New(&key.PublicKey, host, quote)
	balance := getenv("SANDBOX_BALANCE", "1000")
	if _, err := decimal.NewFromString(balance); err != nil {
		log.Fatal().Err(err).Str("balance", balance).Msg("Invalid SANDBOX_BALANCE")
	}
	ex.SetBalance(quote, balance)
	for _, c := range market.DefaultCoins {
		ex.SetPrice(c.Symbol, strconv.FormatFloat(c.Price, 'f', -1, 64))
	}

	lo, _ := time.ParseDuration(getenv("SANDBOX_LATENCY_MIN", "20ms"))
	hi, _ := time.ParseDuration(getenv("SANDBOX_LATENCY_MAX", "150ms"))
	ex.SetLatency(lo, hi)

	fmt.Println("# novatrade sandbox credentials")
	fmt.Printf("EXCHANGE_BASE_URL=http://%s\n", host)
	fmt.Printf("EXCHANGE_HOST=%s\n", host)
	fmt.Printf("COINBASE_KEY_NAME=%s\n", keyName)
	fmt.Printf("COINBASE_PRIVATE_KEY=\"%s\"\n", strings.ReplaceAll(strings.TrimSpace(pemKey), "\n", `\n`))

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: ex.Handler(),
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("quote", quote).Msg("Sandbox exchange listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	accounts, orders := ex.Calls()
	log.Info().
		Int("account_calls", accounts).
		Int("order_calls", orders).
		Int("fills", len(ex.Orders())).
		Str("quote_balance", ex.Balance(quote).String()).
		Msg("Shutting down sandbox")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Sandbox forced to shutdown")
	}
}

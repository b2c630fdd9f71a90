package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ayo6706/stablecoin-gateway/internal/api/middleware"
	"github.com/ayo6706/stablecoin-gateway/internal/config"
	"github.com/ayo6706/stablecoin-gateway/internal/db"
	"github.com/ayo6706/stablecoin-gateway/internal/domain"
	"github.com/ayo6706/stablecoin-gateway/internal/keygen"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const migrateTimeout = 2 * time.Minute

// migrator applies and inspects schema migrations.
type migrator interface {
	Up(ctx context.Context, dbURL string) error
	Version(ctx context.Context, dbURL string) (int64, error)
}

type gooseMigrator struct{}

func (gooseMigrator) Up(ctx context.Context, dbURL string) error { return db.Migrate(ctx, dbURL) }

func (gooseMigrator) Version(ctx context.Context, dbURL string) (int64, error) {
	return db.Version(ctx, dbURL)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "gatewayctl",
		Short:        "Operator tooling for the stablecoin gateway",
		SilenceUsage: true,
	}
	root.AddCommand(NewKeygenCmd())
	root.AddCommand(NewAddressCmd())
	root.AddCommand(NewMigrateCmd(gooseMigrator{}))
	root.AddCommand(NewTokenCmd())
	return root
}

// NewKeygenCmd prints fresh secp256k1 wallets.
func NewKeygenCmd() *cobra.Command {
	var (
		count          int
		showPrivateKey bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate wallet keypairs",
		Long: `Generate one or more secp256k1 keypairs and print their addresses.

Private keys are printed only with --show-private-key. Store them in the
operator settings or the environment and clear your terminal history.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return errors.New("--count must be at least 1")
			}
			out := cmd.OutOrStdout()
			for i := 0; i < count; i++ {
				kp, err := keygen.Generate()
				if err != nil {
					return err
				}
				if showPrivateKey {
					fmt.Fprintf(out, "%s %s\n", kp.Address, kp.Hex())
				} else {
					fmt.Fprintln(out, kp.Address)
				}
				kp.Wipe()
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of keypairs")
	cmd.Flags().BoolVar(&showPrivateKey, "show-private-key", false, "also print the hex private key")
	return cmd
}

// NewAddressCmd derives the address of a private key read from stdin, so the
// key never appears in shell history.
func NewAddressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the address controlled by a private key read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read private key: %w", err)
			}
			addr, err := keygen.AddressFromPrivateKey(strings.TrimSpace(line))
			if err != nil {
				return errors.New("invalid private key")
			}
			fmt.Fprintln(cmd.OutOrStdout(), addr)
			return nil
		},
	}
}

// NewMigrateCmd applies pending migrations, or prints the schema version.
func NewMigrateCmd(m migrator) *cobra.Command {
	var (
		dbURL       string
		showVersion bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbURL == "" {
				_ = godotenv.Load()
				dbURL = env("DATABASE_URL")
			}
			if dbURL == "" || dbURL == db.MemoryURL {
				return errors.New("a postgres DATABASE_URL is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
			defer cancel()

			if !showVersion {
				if err := m.Up(ctx, dbURL); err != nil {
					return err
				}
			}
			v, err := m.Version(ctx, dbURL)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbURL, "database-url", "", "postgres URL (defaults to $DATABASE_URL)")
	cmd.Flags().BoolVar(&showVersion, "version", false, "print the current schema version without migrating")
	return cmd
}

// NewTokenCmd signs an API bearer token with the server's JWT settings.
func NewTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		Long: `Issue an HS256 bearer token signed with JWT_SECRET for JWT_ISSUER and
JWT_AUDIENCE. The subject is the owner reference the caller acts for.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			secret := env("JWT_SECRET")
			if len(secret) < 32 {
				return errors.New("JWT_SECRET must be set and at least 32 characters")
			}
			auth := middleware.NewAuthenticator(secret, envOr("JWT_ISSUER", config.DefaultJWTIssuer), envOr("JWT_AUDIENCE", config.DefaultJWTAudience))
			token, err := auth.Sign(subject, role, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "owner reference of the caller")
	cmd.Flags().StringVar(&role, "role", domain.RoleUser, "user or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

// env reads name, falling back to its GATEWAY_ prefixed alias.
func env(name string) string {
	return firstNonEmpty(os.Getenv(name), os.Getenv("GATEWAY_"+name))
}

func envOr(name, fallback string) string {
	return firstNonEmpty(env(name), fallback)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	redisstore "github.com/khaledrokaya2/goldpin/internal/redis"
	"github.com/khaledrokaya2/goldpin/services/runner/config"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <order-id>",
	Short: "Ask a running job to stop",
	Long: `Cancel sets the shared cancel flag for the order. The runner polls it
and stops pulling new tasks; attempts already past checkout still finish and
are recorded.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func runCancel(_ *cobra.Command, args []string) error {
	cfg := config.Load(viper.GetViper())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	redisClient := redisstore.NewClient(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()

	if err := redisstore.NewProgressStore(redisClient).RequestCancel(ctx, args[0]); err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	fmt.Printf("cancel requested for order %s\n", args[0])
	return nil
}

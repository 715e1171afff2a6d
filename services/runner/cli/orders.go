package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/khaledrokaya2/goldpin/internal/domain"
	"github.com/khaledrokaya2/goldpin/internal/postgres"
	redisstore "github.com/khaledrokaya2/goldpin/internal/redis"
	"github.com/khaledrokaya2/goldpin/services/runner/config"
)

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Create and inspect bulk purchase orders",
}

var ordersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new order",
	RunE:  runOrdersCreate,
}

var ordersStatusCmd = &cobra.Command{
	Use:   "status <order-id>",
	Short: "Show an order, its live progress and its purchase records",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrdersStatus,
}

func init() {
	ordersCreateCmd.Flags().String("account", "", "storefront account ID the order buys under")
	ordersCreateCmd.Flags().Int("quantity", 1, "how many codes to buy")
	_ = ordersCreateCmd.MarkFlagRequired("account")

	ordersCmd.AddCommand(ordersCreateCmd)
	ordersCmd.AddCommand(ordersStatusCmd)
}

func runOrdersCreate(cmd *cobra.Command, _ []string) error {
	account, _ := cmd.Flags().GetString("account")
	quantity, _ := cmd.Flags().GetInt("quantity")
	if quantity < 1 {
		return fmt.Errorf("quantity must be at least 1, got %d", quantity)
	}

	cfg := config.Load(viper.GetViper())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	now := time.Now().UTC()
	order := &domain.Order{
		ID:        uuid.New().String(),
		AccountID: account,
		Quantity:  quantity,
		Status:    domain.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := postgres.NewRepository(pool).CreateOrder(ctx, order); err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	fmt.Println(order.ID)
	return nil
}

func runOrdersStatus(_ *cobra.Command, args []string) error {
	cfg := config.Load(viper.GetViper())
	orderID := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	repo := postgres.NewRepository(pool)

	order, err := repo.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}

	fmt.Printf("order %s\n", order.ID)
	fmt.Printf("  account:   %s\n", order.AccountID)
	fmt.Printf("  status:    %s\n", order.Status)
	fmt.Printf("  completed: %d/%d\n", order.CompletedCount, order.Quantity)

	redisClient := redisstore.NewClient(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()
	if p, ok, err := redisstore.NewProgressStore(redisClient).GetProgress(ctx, orderID); err == nil && ok {
		fmt.Printf("  live:      %d/%d resolved (%d ok, %d failed)\n", p.Completed, p.Total, p.Success, p.Failed)
	}

	purchases, err := repo.ListPurchases(ctx, orderID)
	if err != nil {
		return fmt.Errorf("list purchases: %w", err)
	}
	for _, rec := range purchases {
		line := fmt.Sprintf("  [%s] card=%d result=%s stage=%s", rec.RecordedAt.Format(time.RFC3339), rec.Card, rec.Result, rec.Stage)
		if rec.TransactionID != "" {
			line += " tx=" + rec.TransactionID
		}
		if rec.RequiresManualReview {
			line += "  ** MANUAL REVIEW **"
		}
		fmt.Println(line)
	}
	return nil
}

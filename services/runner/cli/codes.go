package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/khaledrokaya2/goldpin/internal/postgres"
	"github.com/khaledrokaya2/goldpin/services/runner/config"
)

var codesCmd = &cobra.Command{
	Use:   "codes",
	Short: "Manage one-time backup codes",
}

var codesAddCmd = &cobra.Command{
	Use:   "add [codes...]",
	Short: "Load backup codes for an account",
	Long: `Add stores one-time backup codes for an account. Codes are passed as
arguments or read one per line from --file. Each code unlocks exactly one
browser session during a run and is burned when reserved.`,
	RunE: runCodesAdd,
}

var codesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show how many unconsumed codes an account has left",
	RunE:  runCodesList,
}

func init() {
	codesAddCmd.Flags().String("account", "", "storefront account ID the codes belong to")
	codesAddCmd.Flags().String("file", "", "file with one code per line")
	_ = codesAddCmd.MarkFlagRequired("account")

	codesListCmd.Flags().String("account", "", "storefront account ID")
	_ = codesListCmd.MarkFlagRequired("account")

	codesCmd.AddCommand(codesAddCmd)
	codesCmd.AddCommand(codesListCmd)
}

func runCodesAdd(cmd *cobra.Command, args []string) error {
	account, _ := cmd.Flags().GetString("account")
	file, _ := cmd.Flags().GetString("file")

	codes := make([]string, 0, len(args))
	for _, c := range args {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("open %s: %w", file, err)
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if c := strings.TrimSpace(scanner.Text()); c != "" {
				codes = append(codes, c)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
	}
	if len(codes) == 0 {
		return fmt.Errorf("no codes given (pass them as arguments or via --file)")
	}

	cfg := config.Load(viper.GetViper())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.NewCredentialStore(pool).AddCodes(ctx, account, codes); err != nil {
		return fmt.Errorf("add codes: %w", err)
	}
	fmt.Printf("stored %d codes for %s\n", len(codes), account)
	return nil
}

func runCodesList(cmd *cobra.Command, _ []string) error {
	account, _ := cmd.Flags().GetString("account")

	cfg := config.Load(viper.GetViper())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	active, err := postgres.NewCredentialStore(pool).FetchActive(ctx, account)
	if err != nil {
		return fmt.Errorf("fetch codes: %w", err)
	}
	fmt.Printf("%d unconsumed codes for %s\n", len(active), account)
	return nil
}

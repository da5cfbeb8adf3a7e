package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vpn-bot/internal/config"
	"vpn-bot/internal/repository"
	"vpn-bot/internal/service"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var usersFile string

	root := &cobra.Command{
		Use:           "vpnctl",
		Short:         "Offline maintenance for the VPN bot user store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&usersFile, "users", "", "path to users.json (default USERS_FILE)")

	loadConfig := func() (*config.ToolConfig, error) {
		cfg, err := config.LoadToolConfig()
		if err != nil {
			return nil, err
		}
		if usersFile != "" {
			cfg.UsersFile = usersFile
		}
		return cfg, nil
	}

	root.AddCommand(
		newUsersCmd(loadConfig),
		newShowCmd(loadConfig),
		newGrantCmd(loadConfig),
		newSweepCmd(loadConfig),
		newTokenCmd(loadConfig),
	)
	return root
}

type configLoader func() (*config.ToolConfig, error)

func openStore(cfg *config.ToolConfig) (*repository.UserStore, error) {
	store, err := repository.OpenUserStore(cfg.UsersFile)
	if errors.Is(err, repository.ErrStoreLocked) {
		return nil, fmt.Errorf("%w: the server is running, use the admin API instead", err)
	}
	return store, err
}

func newUsersCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List users with their subscription state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			users := store.Snapshot()
			ids := make([]int64, 0, len(users))
			for id := range users {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

			now := time.Now()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tSTATE\tUNTIL\tADDRESS")
			for _, id := range ids {
				rec := users[id]
				state, until, addr := "never", "-", "-"
				if rec.SubscriptionEnd != nil {
					until = rec.SubscriptionEnd.UTC().Format(time.RFC3339)
					state = "expired"
					if rec.IsActive(now) {
						state = "active"
					}
				}
				if rec.Profile != nil {
					addr = rec.Profile.Address
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", id, state, until, addr)
			}
			return w.Flush()
		},
	}
}

func newShowCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user_id>",
		Short: "Show one user record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, ok := store.Get(userID)
			if !ok {
				return fmt.Errorf("user %d not found", userID)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user:       %d\n", userID)
			fmt.Fprintf(out, "subscribed: %t\n", rec.Subscribed)
			fmt.Fprintf(out, "active:     %t\n", rec.IsActive(time.Now()))
			if rec.SubscriptionStart != nil {
				fmt.Fprintf(out, "start:      %s\n", rec.SubscriptionStart.UTC().Format(time.RFC3339))
			}
			if rec.SubscriptionEnd != nil {
				fmt.Fprintf(out, "end:        %s\n", rec.SubscriptionEnd.UTC().Format(time.RFC3339))
			}
			if rec.Profile != nil {
				fmt.Fprintf(out, "public key: %s\n", rec.Profile.PublicKey)
				fmt.Fprintf(out, "address:    %s\n", rec.Profile.Address)
			}
			return nil
		},
	}
}

func newGrantCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <user_id> [days]",
		Short: "Activate a subscription and provision the WireGuard profile",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			days := cfg.SubDays
			if len(args) == 2 {
				if days, err = strconv.Atoi(args[1]); err != nil || days <= 0 {
					return fmt.Errorf("invalid days %q", args[1])
				}
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			logger := zap.NewNop()
			subs := service.NewSubscriptionService(logger, store)
			prov := service.NewProvisioningService(logger, store, service.AddressPool{
				Prefix:    cfg.WGAddressPrefix,
				CIDR:      cfg.WGAddressCIDR,
				StartHost: cfg.WGStartHost,
			}, nil)
			payments := service.NewPaymentService(logger, nil, nil, subs, prov, service.PaymentConfig{Days: cfg.SubDays})

			res, err := payments.Grant(userID, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d active until %s\n", userID, res.Until.Format(time.RFC3339))
			if res.ProfileErr != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "warning: profile not provisioned: %v\n", res.ProfileErr)
			}
			return nil
		},
	}
}

func newSweepCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark expired subscriptions (no chat notices are sent)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := service.NewSubscriptionService(zap.NewNop(), store).SweepExpired(time.Now().UTC())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired: %d\n", len(ids))
			return nil
		},
	}
}

func newTokenCmd(load configLoader) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			tokens := service.NewAdminTokenService(cfg.AdminJWTSecret, ttl)
			if !tokens.Enabled() {
				return errors.New("ADMIN_JWT_SECRET is not set")
			}
			token, err := tokens.Issue(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "ops", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

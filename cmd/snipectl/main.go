// snipectl is the command line client for the snipebot daemon.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"snipebot/pkg/client"
)

var (
	serverURL string
	tokenPath string
)

func main() {
	root := &cobra.Command{
		Use:           "snipectl",
		Short:         "Control a running snipebot daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8088", "snipebot API address")
	root.PersistentFlags().StringVar(&tokenPath, "token-file", defaultTokenPath(), "path to the cached access token")

	root.AddCommand(
		authCmd(),
		addCmd(),
		bulkCmd(),
		listCmd(),
		statusCmd(),
		removeCmd(),
		logsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".snipebot-token"
	}
	return filepath.Join(home, ".snipebot", "token")
}

func apiClient() (*client.Client, error) {
	b, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("no cached token (run \"snipectl auth\" first): %w", err)
	}
	return client.New(serverURL, strings.TrimSpace(string(b))), nil
}

func authCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Log in and cache an access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				fmt.Fprint(os.Stderr, "password: ")
				if _, err := fmt.Scanln(&password); err != nil {
					return err
				}
			}
			c := client.New(serverURL, "")
			tok, err := c.Login(cmd.Context(), password)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(tokenPath), 0o700); err != nil {
				return err
			}
			if err := os.WriteFile(tokenPath, []byte(tok), 0o600); err != nil {
				return err
			}
			fmt.Println("token saved to", tokenPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "API password (prompted when omitted)")
	return cmd
}

func addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <listing> <max_bid>",
		Short: "Schedule a snipe for one listing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient()
			if err != nil {
				return err
			}
			a, err := c.Add(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("scheduled %s (%s) ends %s, max bid %s\n", a.ListingNumber, a.ItemTitle, a.EndTime, a.MaxBid)
			return nil
		},
	}
}

func bulkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bulk <file>",
		Short: "Schedule snipes from a file (one \"<listing> <max_bid>\" per line)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			items, err := client.ParseBulk(f)
			if err != nil {
				return err
			}

			c, err := apiClient()
			if err != nil {
				return err
			}
			results, err := c.AddBulk(cmd.Context(), items)
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				if r.Error != "" {
					failed++
					fmt.Printf("%s: FAILED: %s\n", r.Listing, r.Error)
					continue
				}
				fmt.Printf("%s: scheduled, ends %s\n", r.Listing, r.Auction.EndTime)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d snipes failed", failed, len(results))
			}
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all tracked auctions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := apiClient()
			if err != nil {
				return err
			}
			auctions, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LISTING\tTITLE\tPRICE\tMAX BID\tENDS\tSTATUS\tOUTCOME")
			for _, a := range auctions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					a.ListingNumber, truncate(a.ItemTitle, 40), a.CurrentPrice, a.MaxBid, a.EndTime, a.Status, a.Outcome)
			}
			return w.Flush()
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id-or-listing>",
		Short: "Show one auction with a fresh price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient()
			if err != nil {
				return err
			}
			a, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("listing:  %s\ntitle:    %s\nseller:   %s\nprice:    %s %s\nmax bid:  %s\nends:     %s\nstatus:   %s\n",
				a.ListingNumber, a.ItemTitle, a.SellerName, a.CurrentPrice, a.Currency, a.MaxBid, a.EndTime, a.Status)
			if a.StatusDetail != "" {
				fmt.Printf("detail:   %s\n", a.StatusDetail)
			}
			if a.Outcome != "" {
				fmt.Printf("outcome:  %s (final price %s)\n", a.Outcome, a.FinalPrice)
			}
			return nil
		},
	}
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id-or-listing>",
		Short: "Cancel a scheduled snipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient()
			if err != nil {
				return err
			}
			if err := c.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("cancelled")
			return nil
		},
	}
}

func logsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <id-or-listing>",
		Short: "Show the bid attempt record for an auction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient()
			if err != nil {
				return err
			}
			att, err := c.Logs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if att == nil {
				fmt.Println("no bid attempt recorded")
				return nil
			}
			fmt.Printf("time:    %s\nresult:  %s\n", att.Time, att.Result)
			if att.Error != "" {
				fmt.Printf("error:   %s\n", att.Error)
			}
			return nil
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

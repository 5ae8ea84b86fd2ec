package main

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var upgradeFlags struct {
	all    bool
	dryRun bool
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade [subdomain...]",
	Short: "Upgrade customer deployments to the latest template revision",
	Long: `Upgrade backs up each customer's data, syncs the deployment unit to the
latest template revision, restores the data, runs the template's migration
hook if present, and rebuilds the container.`,
	Example: `  minipassctl upgrade acme
  minipassctl upgrade --all
  minipassctl upgrade --all --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !upgradeFlags.all && len(args) == 0 {
			return fmt.Errorf("name at least one subdomain or pass --all")
		}

		client := newAPIClient(apiURL, adminToken)

		body := map[string]any{
			"subdomains": args,
			"all":        upgradeFlags.all,
			"dryRun":     upgradeFlags.dryRun,
		}

		if upgradeFlags.dryRun {
			var out upgradeBatchData
			if err := client.post("/upgrades", body, &out); err != nil {
				return err
			}
			if len(out.Upgrades) == 0 {
				fmt.Println("Nothing to upgrade.")
				return nil
			}
			for _, u := range out.Upgrades {
				if u.Error != nil {
					fmt.Printf("%s: would fail: %s\n", u.Subdomain, *u.Error)
					continue
				}
				fmt.Printf("%s: %s\n", u.Subdomain, strings.Join(u.Planned, " -> "))
			}
			return nil
		}

		if err := client.post("/upgrades", body, nil); err != nil {
			return err
		}
		fmt.Println("Upgrade accepted; the server works through customers sequentially.")
		return nil
	},
}

var teardownFlags struct {
	yes bool
}

var teardownCmd = &cobra.Command{
	Use:   "teardown <subdomain>",
	Short: "Permanently remove a customer deployment",
	Long: `Teardown stops and removes the customer's container, deletes its images
and volumes, removes the deployment unit from disk and deletes the
registry record. Customer data is NOT recoverable afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sub := args[0]

		if !teardownFlags.yes {
			fmt.Printf("This permanently destroys %q including all customer data.\n", sub)
			fmt.Printf("Type the subdomain to confirm: ")
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("reading confirmation: %w", err)
			}
			if strings.TrimSpace(line) != sub {
				return fmt.Errorf("confirmation did not match; aborted")
			}
		}

		client := newAPIClient(apiURL, adminToken)

		var out acceptedData
		path := fmt.Sprintf("/customers/%s?confirm=%s", url.PathEscape(sub), url.QueryEscape(sub))
		if err := client.delete(path, &out); err != nil {
			return err
		}

		fmt.Printf("Teardown of %s accepted.\n", out.Subdomain)
		return nil
	},
}

var resetPasswordFlags struct {
	password string
}

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password <subdomain>",
	Short: "Reset a customer's admin password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sub := args[0]

		password := resetPasswordFlags.password
		if password == "" {
			pw, err := promptPassword("New admin password: ")
			if err != nil {
				return err
			}
			password = pw
		}

		client := newAPIClient(apiURL, adminToken)

		var out acceptedData
		err := client.post("/customers/"+url.PathEscape(sub)+"/password",
			map[string]string{"newPassword": password}, &out)
		if err != nil {
			return err
		}

		fmt.Printf("Password reset for %s accepted; the deployment is rebuilt with the new credential.\n", out.Subdomain)
		return nil
	},
}

func init() {
	upgradeCmd.Flags().BoolVar(&upgradeFlags.all, "all", false, "upgrade every deployed customer")
	upgradeCmd.Flags().BoolVar(&upgradeFlags.dryRun, "dry-run", false, "show the plan without changing anything")

	teardownCmd.Flags().BoolVar(&teardownFlags.yes, "yes", false, "skip the interactive confirmation")

	resetPasswordCmd.Flags().StringVar(&resetPasswordFlags.password, "password", "", "new password (prompted when omitted)")
}

package main

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listFlags struct {
	deployed string
	status   string
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List customers",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(apiURL, adminToken)

		q := url.Values{}
		if listFlags.deployed != "" {
			q.Set("deployed", listFlags.deployed)
		}
		if listFlags.status != "" {
			q.Set("status", listFlags.status)
		}
		path := "/customers"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var out customerListData
		if err := client.get(path, &out); err != nil {
			return err
		}

		if out.Total == 0 {
			fmt.Println("No customers.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SUBDOMAIN\tPORT\tPLAN\tDEPLOYED\tSUBSCRIPTION\tMAILBOX\tEMAIL")
		for _, c := range out.Customers {
			mailbox := c.Mailbox.Status
			if c.Mailbox.Address != nil {
				mailbox = *c.Mailbox.Address
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%t\t%s\t%s\t%s\n",
				c.Subdomain, c.Port, c.Plan, c.Deployed, c.SubscriptionStatus, mailbox, c.Email)
		}
		return w.Flush()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <subdomain>",
	Short: "Show one customer in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(apiURL, adminToken)

		var c customerData
		if err := client.get("/customers/"+url.PathEscape(args[0]), &c); err != nil {
			return err
		}

		fmt.Printf("Subdomain:     %s\n", c.Subdomain)
		fmt.Printf("URL:           %s\n", c.URL)
		fmt.Printf("Email:         %s\n", c.Email)
		if c.OrganizationName != "" {
			fmt.Printf("Organization:  %s\n", c.OrganizationName)
		}
		fmt.Printf("Plan:          %s (%s)\n", c.Plan, c.BillingFrequency)
		fmt.Printf("Port:          %d\n", c.Port)
		fmt.Printf("Deployed:      %t\n", c.Deployed)
		fmt.Printf("Subscription:  %s\n", c.SubscriptionStatus)
		if c.RenewsAt != nil {
			fmt.Printf("Renews at:     %s\n", *c.RenewsAt)
		}
		if c.Mailbox.Address != nil {
			fmt.Printf("Mailbox:       %s (%s)\n", *c.Mailbox.Address, c.Mailbox.Status)
		} else {
			fmt.Printf("Mailbox:       %s\n", c.Mailbox.Status)
		}
		fmt.Printf("Created:       %s\n", c.CreatedAt)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove orphaned containers and prune unused images and volumes",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(apiURL, adminToken)

		var out sweepData
		if err := client.post("/system/sweep", nil, &out); err != nil {
			return err
		}

		fmt.Printf("Containers seen:  %d\n", out.ContainersSeen)
		fmt.Printf("Orphans removed:  %d\n", out.OrphansRemoved)
		fmt.Printf("Drift warnings:   %d\n", out.DriftWarnings)
		fmt.Printf("Images pruned:    %d\n", out.Prune.ImagesRemoved)
		fmt.Printf("Volumes pruned:   %d\n", out.Prune.VolumesRemoved)
		fmt.Printf("Space reclaimed:  %s\n", humanBytes(out.Prune.SpaceReclaimed))
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show control plane health",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(apiURL, adminToken)

		var out healthData
		if err := client.get("/health", &out); err != nil {
			return err
		}

		fmt.Printf("Status:    %s (version %s)\n", out.Status, out.Version)
		if out.Docker.Connected && out.Docker.APIVersion != nil {
			fmt.Printf("Docker:    connected (API %s)\n", *out.Docker.APIVersion)
		} else {
			fmt.Printf("Docker:    disconnected\n")
		}
		if out.Database.Connected {
			fmt.Printf("Database:  connected\n")
		} else {
			fmt.Printf("Database:  disconnected\n")
		}
		if out.Queue != nil {
			fmt.Printf("Queue:     %d/%d jobs\n", out.Queue.Depth, out.Queue.Capacity)
		}
		return nil
	},
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	listCmd.Flags().StringVar(&listFlags.deployed, "deployed", "", "filter by deployed state: true or false")
	listCmd.Flags().StringVar(&listFlags.status, "status", "", "filter by subscription status: active, cancelled or expired")
}

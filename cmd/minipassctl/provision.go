package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var provisionFlags struct {
	appName          string
	email            string
	password         string
	organization     string
	plan             string
	billingFrequency string
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision a new customer deployment",
	Example: `  minipassctl provision --app-name "Acme Hockey" --email owner@acme.test
  minipassctl provision --app-name demo --email demo@acme.test --plan basic --billing yearly`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if provisionFlags.password == "" {
			pw, err := promptPassword("Admin password: ")
			if err != nil {
				return err
			}
			provisionFlags.password = pw
		}

		client := newAPIClient(apiURL, adminToken)

		var out acceptedData
		err := client.post("/customers", map[string]string{
			"appName":          provisionFlags.appName,
			"adminEmail":       provisionFlags.email,
			"adminPassword":    provisionFlags.password,
			"organizationName": provisionFlags.organization,
			"plan":             provisionFlags.plan,
			"billingFrequency": provisionFlags.billingFrequency,
		}, &out)
		if err != nil {
			return err
		}

		fmt.Printf("Provisioning accepted.\n")
		fmt.Printf("  Subdomain: %s\n", out.Subdomain)
		fmt.Printf("  URL:       %s\n", out.URL)
		fmt.Printf("\nWatch progress with: minipassctl status %s\n", out.Subdomain)
		return nil
	},
}

func init() {
	f := provisionCmd.Flags()
	f.StringVar(&provisionFlags.appName, "app-name", "", "application name; shaped into the subdomain (required)")
	f.StringVar(&provisionFlags.email, "email", "", "admin email address (required)")
	f.StringVar(&provisionFlags.password, "password", "", "admin password (prompted when omitted)")
	f.StringVar(&provisionFlags.organization, "org", "", "organization name")
	f.StringVar(&provisionFlags.plan, "plan", "standard", "plan tier: basic, standard or pro")
	f.StringVar(&provisionFlags.billingFrequency, "billing", "monthly", "billing frequency: monthly or yearly")
	_ = provisionCmd.MarkFlagRequired("app-name")
	_ = provisionCmd.MarkFlagRequired("email")
}

// promptPassword reads a password without echoing. Falls back to plain
// reads when stdin is not a terminal, so piping still works.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(raw), nil
	}

	var pw string
	if _, err := fmt.Fscanln(os.Stdin, &pw); err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return pw, nil
}

package deploy

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/windseeker5/minipass-env-sub001/internal/registry"
)

// envTemplate is the application .env file rendered into each unit's app
// checkout. It carries everything the application needs to run standalone:
// identity, admin credentials, plan and billing display fields, and the
// shared third-party API key. Billing identifiers (price references,
// gateway customer IDs) are deliberately absent; those live only in the
// customer registry.
var envTemplate = template.Must(template.New("env").Parse(`# Managed by the MiniPass control plane. Regenerated on every deploy.
APP_NAME={{ .Subdomain }}
APP_URL=https://{{ .Host }}
ORG_NAME={{ .OrganizationName }}
ADMIN_EMAIL={{ .AdminEmail }}
ADMIN_PASSWORD_HASH={{ .AdminPasswordHash }}
PLAN={{ .Plan }}
BILLING_FREQUENCY={{ .BillingFrequency }}
PAYMENT_AMOUNT={{ .PaymentAmount }}
CURRENCY={{ .Currency }}
{{- if .MailboxAddress }}
MAILBOX_ADDRESS={{ .MailboxAddress }}
{{- end }}
SHARED_API_KEY={{ .SharedAPIKey }}
`))

type envParams struct {
	Subdomain         string
	Host              string
	OrganizationName  string
	AdminEmail        string
	AdminPasswordHash string
	Plan              string
	BillingFrequency  string
	PaymentAmount     int64
	Currency          string
	MailboxAddress    string
	SharedAPIKey      string
}

func renderEnvFile(c *registry.Customer, baseDomain, sharedAPIKey string) ([]byte, error) {
	params := envParams{
		Subdomain:         c.Subdomain,
		Host:              fmt.Sprintf("%s.%s", c.Subdomain, baseDomain),
		OrganizationName:  c.OrganizationName,
		AdminEmail:        c.Email,
		AdminPasswordHash: c.AdminPasswordHash,
		Plan:              c.Plan,
		BillingFrequency:  c.BillingFrequency,
		PaymentAmount:     c.PaymentAmount,
		Currency:          c.Currency,
		SharedAPIKey:      sharedAPIKey,
	}
	if c.MailboxAddress != nil {
		params.MailboxAddress = *c.MailboxAddress
	}

	var buf bytes.Buffer
	if err := envTemplate.Execute(&buf, params); err != nil {
		return nil, fmt.Errorf("executing env template: %w", err)
	}
	return buf.Bytes(), nil
}

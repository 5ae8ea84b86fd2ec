package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds control-plane configuration loaded from environment variables.
type Config struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Version  string `envconfig:"VERSION" default:"dev"`

	DatabaseURL   string `envconfig:"DATABASE_URL" required:"true"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"true"`

	// BaseDomain is the apex domain customer apps are served under; a
	// customer's app answers at <subdomain>.<BaseDomain>.
	BaseDomain string `envconfig:"BASE_DOMAIN" default:"minipass.me"`

	// DeployedRoot is the directory holding one deployment unit per customer.
	DeployedRoot string `envconfig:"DEPLOYED_ROOT" default:"/srv/minipass/deployed"`

	// TemplateRepoURL is the git remote of the customer application template.
	TemplateRepoURL string `envconfig:"TEMPLATE_REPO_URL" default:"https://github.com/windseeker5/minipass.git"`
	TemplateBranch  string `envconfig:"TEMPLATE_BRANCH" default:"main"`

	// BasePort is the first published host port handed out when the registry
	// is empty; later customers get max(existing)+1.
	BasePort int `envconfig:"BASE_PORT" default:"8001"`

	// SharedAPIKey is the non-customer-specific third-party key rendered into
	// every deployment unit's env file. Customer billing identifiers are
	// never written there.
	SharedAPIKey string `envconfig:"SHARED_API_KEY" default:""`

	AdminToken    string `envconfig:"ADMIN_TOKEN" default:""`
	WebhookSecret string `envconfig:"WEBHOOK_SECRET" default:""`

	// OpsEmail receives error notifications when a provisioning stage fails.
	OpsEmail string `envconfig:"OPS_EMAIL" default:""`

	MailboxAPIURL string `envconfig:"MAILBOX_API_URL" default:""`
	MailboxAPIKey string `envconfig:"MAILBOX_API_KEY" default:""`
	MailDomain    string `envconfig:"MAIL_DOMAIN" default:"minipass.me"`

	NotifyAPIURL string `envconfig:"NOTIFY_API_URL" default:""`
	NotifyAPIKey string `envconfig:"NOTIFY_API_KEY" default:""`

	GitTimeout   time.Duration `envconfig:"GIT_TIMEOUT" default:"2m"`
	BuildTimeout time.Duration `envconfig:"BUILD_TIMEOUT" default:"10m"`
	StopTimeout  time.Duration `envconfig:"STOP_TIMEOUT" default:"30s"`
	HTTPTimeout  time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`

	// HookTimeout bounds template-provided hook scripts such as data
	// migrations run during upgrades.
	HookTimeout time.Duration `envconfig:"HOOK_TIMEOUT" default:"5m"`

	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"15m"`
	QueueSize     int           `envconfig:"QUEUE_SIZE" default:"64"`

	BcryptCost int `envconfig:"BCRYPT_COST" default:"12"`
}

// Load reads configuration from environment variables into a Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

package deploy

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/windseeker5/minipass-env-sub001/internal/registry"
	"github.com/windseeker5/minipass-env-sub001/internal/runtime"
)

// appPort is the port the application listens on inside its container.
const appPort = 5000

// proxyNetwork is the external network shared with the reverse proxy.
// The proxy watches for containers joining it and routes requests based
// on their VIRTUAL_HOST environment variable.
const proxyNetwork = "proxy"

// composeProject models the docker-compose.yml rendered into each
// deployment unit. Only the subset of the compose schema the platform
// uses is represented; rendering through typed structs keeps YAML
// quoting and indentation correct without string templates.
type composeProject struct {
	Services map[string]composeService `yaml:"services"`
	Networks map[string]composeNetwork `yaml:"networks,omitempty"`
}

type composeService struct {
	Build         string            `yaml:"build"`
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name"`
	Restart       string            `yaml:"restart"`
	Ports         []string          `yaml:"ports"`
	Environment   map[string]string `yaml:"environment"`
	Volumes       []string          `yaml:"volumes"`
	Labels        map[string]string `yaml:"labels"`
	Networks      []string          `yaml:"networks,omitempty"`
}

type composeNetwork struct {
	External bool `yaml:"external"`
}

// buildComposeProject assembles the compose descriptor for a customer.
//
// The container publishes the customer's allocated host port and joins the
// reverse-proxy network with a VIRTUAL_HOST of <subdomain>.<baseDomain>, so
// the deployment is reachable both directly by port and through the proxy
// by hostname. Instance data and uploads are bind-mounted from the unit so
// they survive container replacement.
func buildComposeProject(c *registry.Customer, baseDomain string) composeProject {
	host := fmt.Sprintf("%s.%s", c.Subdomain, baseDomain)

	svc := composeService{
		Build:         "./" + appDirName,
		Image:         runtime.ImageTag(c.Subdomain),
		ContainerName: runtime.ContainerName(c.Subdomain),
		Restart:       "unless-stopped",
		Ports: []string{
			fmt.Sprintf("%d:%d", c.Port, appPort),
		},
		Environment: map[string]string{
			"VIRTUAL_HOST": host,
			"VIRTUAL_PORT": fmt.Sprintf("%d", appPort),
		},
		Volumes: []string{
			fmt.Sprintf("./%s/%s:/app/%s", appDirName, instanceDirName, instanceDirName),
			fmt.Sprintf("./%s/%s:/app/%s", appDirName, uploadsDirName, uploadsDirName),
		},
		Labels: map[string]string{
			runtime.ManagedLabel:   "true",
			runtime.SubdomainLabel: c.Subdomain,
		},
		Networks: []string{proxyNetwork},
	}

	return composeProject{
		Services: map[string]composeService{"web": svc},
		Networks: map[string]composeNetwork{proxyNetwork: {External: true}},
	}
}

func renderCompose(c *registry.Customer, baseDomain string) ([]byte, error) {
	out, err := yaml.Marshal(buildComposeProject(c, baseDomain))
	if err != nil {
		return nil, fmt.Errorf("marshaling compose project: %w", err)
	}
	return out, nil
}

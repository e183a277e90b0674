package persona

// DefaultID names the persona used when none is configured.
const DefaultID = "gamedev"

// Persona describes the Linux host the honeypot pretends to be.
type Persona struct {
	ID          string   `json:"id"`
	Hostname    string   `json:"hostname"`
	Title       string   `json:"title"`
	OS          string   `json:"os"`
	PromptHint  string   `json:"promptHint"`
	Description string   `json:"description,omitempty"`
	Services    []string `json:"services,omitempty"`
	Artifacts   []string `json:"artifacts,omitempty"`
}

// Seed provides the built-in host personas.
func Seed() []Persona {
	return []Persona{
		{
			ID:          "gamedev",
			Hostname:    "forge-ws07",
			Title:       "video game developer's workstation",
			OS:          "Ubuntu 22.04.4 LTS",
			PromptHint:  "Include realistic users, processes and files, especially video game source and asset files.",
			Description: "Build box of a small studio working on an Unreal Engine title.",
			Services:    []string{"sshd", "perforce p4d", "docker", "jenkins agent"},
			Artifacts:   []string{"~/projects/ember/Source", "~/projects/ember/Content/*.uasset", "~/builds/ember-win64-shipping.zip", ".p4config"},
		},
		{
			ID:          "webserver",
			Hostname:    "web-prod-01",
			Title:       "production web server",
			OS:          "Debian GNU/Linux 12 (bookworm)",
			PromptHint:  "Show a busy nginx + PHP-FPM host with a MySQL client config and deploy scripts.",
			Description: "Customer-facing storefront behind a load balancer.",
			Services:    []string{"nginx", "php8.2-fpm", "redis-server", "cron"},
			Artifacts:   []string{"/var/www/shop/.env", "/etc/nginx/sites-enabled/shop.conf", "/home/deploy/deploy.sh", "/var/log/nginx/access.log"},
		},
		{
			ID:          "database",
			Hostname:    "pg-replica-2",
			Title:       "PostgreSQL replica",
			OS:          "Rocky Linux 9.3 (Blue Onyx)",
			PromptHint:  "Show a database host with large data directories, backup jobs and monitoring agents.",
			Description: "Streaming replica used by the analytics team.",
			Services:    []string{"postgresql-15", "pgbackrest", "node_exporter"},
			Artifacts:   []string{"/var/lib/pgsql/15/data", "/etc/pgbackrest.conf", "/root/.pgpass", "/backup/nightly"},
		},
	}
}

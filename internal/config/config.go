package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	SSHAddr     string `envconfig:"SSH_ADDR" default:":22"`
	HostKeyPath string `envconfig:"HOST_KEY_PATH" default:"/app/data/ssh_host_ed25519_key"`
	AdminAddr   string `envconfig:"ADMIN_ADDR" default:""`
	DataPath    string `envconfig:"DATA_PATH" default:"/app/data"`
	LogPath     string `envconfig:"LOG_PATH" default:""`
	MaxWidth    int    `envconfig:"MAX_WIDTH" default:"100"`
	ContentPath string `envconfig:"CONTENT_PATH" default:""`

	// SSH admission
	AllowedIPs        string `envconfig:"ALLOWED_IPS" default:""`
	MaxConnsPerMinute int    `envconfig:"MAX_CONNS_PER_MINUTE" default:"30"`

	// Relay backend (the sandbox host reached over a nested SSH client)
	BackendAddr       string `envconfig:"BACKEND_ADDR" default:"localhost:2222"`
	BackendUser       string `envconfig:"BACKEND_USER" default:"cargo-cult"`
	BackendKeyPath    string `envconfig:"BACKEND_KEY_PATH" default:"id_ed25519"`
	RelayTimeout      string `envconfig:"RELAY_TIMEOUT" default:"30m"`
	InactivityTimeout string `envconfig:"INACTIVITY_TIMEOUT" default:"1h"`
	RecordingDir      string `envconfig:"RECORDING_DIR" default:""`
	SandboxImage      string `envconfig:"SANDBOX_IMAGE" default:"cargo-cult"`
	DockerHost        string `envconfig:"DOCKER_HOST" default:""`

	// Submission store
	StoreBackend   string `envconfig:"STORE_BACKEND" default:"airtable"`
	AirtableKey    string `envconfig:"AIRTABLE_KEY" default:""`
	AirtableBaseID string `envconfig:"AIRTABLE_BASE_ID" default:"appIR4uCzXiIgTrWC"`
	AirtableTable  string `envconfig:"AIRTABLE_TABLE" default:"Submissions"`
	AirtableView   string `envconfig:"AIRTABLE_VIEW" default:"Approved"`
	AirtableURL    string `envconfig:"AIRTABLE_URL" default:"https://api.airtable.com/v0"`
	DatabasePath   string `envconfig:"DATABASE_PATH" default:"/app/data/cargocult.db"`
	FernetKey      string `envconfig:"FERNET_KEY" default:""`
	GalleryRefresh string `envconfig:"GALLERY_REFRESH" default:"@every 5m"`

	AuditRetentionDays int `envconfig:"AUDIT_RETENTION_DAYS" default:"30"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("CARGOCULT", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

// Duration parses a duration setting, returning fallback when it is empty
// or malformed. "0" parses to zero; callers decide what a zero timeout
// means. The inactivity reaper treats it as off, while the relay falls back
// to its default budget.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("invalid duration %q, using %s", value, fallback)
		return fallback
	}
	return d
}

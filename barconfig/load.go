package barconfig

import (
	"os"

	"github.com/ausocean/utils/logging"

	"github.com/iasaudio/bar/barerr"
)

// ConfigEnvVar is the environment variable naming the configuration
// file's location.
const ConfigEnvVar = "IAS_AUDIO_CONFIG"

// DefaultPath is used when ConfigEnvVar is unset.
const DefaultPath = "/etc/ias_audio/bar.conf"

// Path resolves the configuration file location: the env var if set,
// otherwise DefaultPath.
func Path() string {
	if p := os.Getenv(ConfigEnvVar); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads and parses the configuration file at Path(), once. This is
// the "parsed once at process start" entry point a caller uses when it
// does not want to react to later edits; see Watcher for that.
func Load(l logging.Logger) (*Config, error) {
	return LoadFrom(Path(), l)
}

// LoadFrom reads and parses the configuration file at an explicit path.
func LoadFrom(path string, l logging.Logger) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, barerr.Wrap(barerr.NotInitialized, "barconfig.LoadFrom", err)
	}
	defer f.Close()
	return Parse(f, l)
}

package config

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"
)

// extraEnvKeys are read outside of Load (cmd/api, cmd/chatctl)
var extraEnvKeys = []string{"CONFIG_PATH", "CHAT_TOKEN", "JWT_ISSUER"}

// DotEnvFile reports what one .env file contributed
type DotEnvFile struct {
	Path    string
	Applied []string // keys set from this file
	Unknown []string // keys nothing in the chat server reads
}

// LoadDotEnv applies dir/.env.local then dir/.env. A key already present in
// the process environment (OS or an earlier file) is never overwritten, so
// OS env > .env.local > .env.
func LoadDotEnv(dir string) []DotEnvFile {
	known := knownEnvKeys()
	var out []DotEnvFile
	for _, name := range []string{".env.local", ".env"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		vars, err := godotenv.Read(path)
		if err != nil {
			continue
		}
		f := DotEnvFile{Path: path}
		for k, v := range vars {
			if !known[k] {
				f.Unknown = append(f.Unknown, k)
			}
			if _, set := os.LookupEnv(k); set {
				continue
			}
			if os.Setenv(k, v) == nil && known[k] {
				f.Applied = append(f.Applied, k)
			}
		}
		sort.Strings(f.Applied)
		sort.Strings(f.Unknown)
		out = append(out, f)
	}
	return out
}

func knownEnvKeys() map[string]bool {
	known := make(map[string]bool)
	for _, b := range envBindings(Default()) {
		known[b.key] = true
	}
	for _, k := range extraEnvKeys {
		known[k] = true
	}
	return known
}

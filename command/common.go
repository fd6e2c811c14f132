// Package command implements the zerostash-sub000 CLI commands, in the
// same mitchellh/cli Help/Synopsis/Run shape the teacher's command
// package uses.
package command

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/cli"

	zcrypto "github.com/symmetree-labs/zerostash-sub000/crypto"
	"github.com/symmetree-labs/zerostash-sub000/repository"
)

// ConfigFileName is the stash configuration file every command looks
// for in the current directory, written by `0s init`.
const ConfigFileName = ".zerostash.conf"

// writeConf renders conf as the flat `key = value` shape
// Conf.OverwriteFromFile parses back.
func writeConf(path string, conf *repository.Conf) error {
	var b strings.Builder
	fmt.Fprintf(&b, "backend = %s\n", conf.Backend)
	fmt.Fprintf(&b, "local_path = %s\n", conf.LocalPath)
	fmt.Fprintf(&b, "local_cache_size = %d\n", conf.LocalCacheSize)
	fmt.Fprintf(&b, "s3_domain = %s\n", conf.S3Domain)
	fmt.Fprintf(&b, "s3_bucket = %s\n", conf.S3Bucket)
	fmt.Fprintf(&b, "s3_access_key = %s\n", conf.S3AccessKey)
	fmt.Fprintf(&b, "s3_secret_key = %s\n", conf.S3SecretKey)
	fmt.Fprintf(&b, "balancer_writers = %d\n", conf.BalancerWriters)
	return os.WriteFile(path, []byte(b.String()), 0600)
}

func readConf(path string) (*repository.Conf, error) {
	conf := repository.DefaultConf()
	if err := conf.OverwriteFromFile(path); err != nil {
		return nil, err
	}
	return conf, nil
}

// openRepository loads the stash configuration from the current
// directory, prompts for credentials, and opens the repository against
// its configured backend.
func openRepository(ui cli.Ui) (*repository.Repository, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}

	conf, err := readConf(filepath.Join(wd, ConfigFileName))
	if err != nil {
		return nil, err
	}

	username, err := ui.Ask("Username:")
	if err != nil {
		return nil, fmt.Errorf("reading username: %w", err)
	}
	password, err := ui.AskSecret("Password:")
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}

	schedule, err := zcrypto.NewSchedule(username, password)
	if err != nil {
		return nil, fmt.Errorf("deriving key schedule: %w", err)
	}

	be, err := repository.OpenBackend(conf)
	if err != nil {
		return nil, fmt.Errorf("opening backend: %w", err)
	}

	return repository.Open(schedule, be, conf, nil)
}

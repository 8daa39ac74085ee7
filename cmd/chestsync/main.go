package main

import (
	"fmt"
	"log"
	"path/filepath"
	"runtime"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/mdouchement/chestsync/internal/database"
	"github.com/mdouchement/chestsync/internal/logger"
	"github.com/muesli/coral"
	"github.com/pkg/errors"
)

const dbname = "chestsync.db"

var (
	version  = "dev"
	revision = "none"
	date     = "unknown"

	cfg string
)

var defaults = map[string]interface{}{
	"address":            ":5000",
	"database_path":      "",
	"database_codec":     "msgpack",
	"history_ttl":        "720h",
	"retention_interval": "1h",
	"hub.queue_size":     64,
	"hub.ping_interval":  "30s",
	"legacy.enabled":     true,
	"log.level":          "info",
	"log.file":           "",
}

func main() {
	c := &coral.Command{
		Use:     "chestsync",
		Short:   "Real-time chest state synchronization server",
		Version: fmt.Sprintf("%s - build %.7s @ %s - %s", version, revision, date, runtime.Version()),
		Args:    coral.ExactArgs(0),
	}
	c.PersistentFlags().StringVarP(&cfg, "config", "c", "", "Configuration file")

	c.AddCommand(consoleCmd)
	c.AddCommand(initCmd)
	c.AddCommand(reindexCmd)
	c.AddCommand(serverCmd)
	c.AddCommand(sweepCmd)
	c.AddCommand(tokenCmd)

	if err := c.Execute(); err != nil {
		log.Fatalf("%+v", err)
	}
}

// config loads the defaults then the configuration file, if any.
func config() (*koanf.Koanf, error) {
	konf := koanf.New(".")
	if err := konf.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, errors.Wrap(err, "could not load defaults")
	}

	if cfg != "" {
		if err := konf.Load(file.Provider(cfg), yaml.Parser()); err != nil {
			return nil, errors.Wrap(err, "could not load configuration")
		}
	}

	if err := database.SetCodec(konf.String("database_codec")); err != nil {
		return nil, err
	}

	err := logger.Configure(logger.Config{
		Level: konf.String("log.level"),
		File:  konf.String("log.file"),
	})
	return konf, err
}

func dbnameWithPath(path string) string {
	if len(path) == 0 {
		return dbname
	}
	return filepath.Join(path, dbname)
}

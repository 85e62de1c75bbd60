package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/maap/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.JobQueueSize, convey.ShouldEqual, 1024)
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 10_000)
				convey.So(cfg.ArchiveCompression, convey.ShouldEqual, "zstd")
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("MAAP_ADDR", ":8080")
			_ = os.Setenv("MAAP_STORE_DRIVER", "memory")
			_ = os.Setenv("MAAP_BATCH_CONCURRENCY", "16")
			_ = os.Setenv("MAAP_JOB_QUEUE_SIZE", "64")
			_ = os.Setenv("MAAP_ARCHIVE_S3_PATH_STYLE", "true")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreMemory)
				convey.So(cfg.BatchConcurrency, convey.ShouldEqual, 16)
				convey.So(cfg.JobQueueSize, convey.ShouldEqual, 64)
				convey.So(cfg.ArchiveS3PathStyle, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			path := writeConfigFile(t, `
# archive reports to disk
addr: ":9090"
store_driver: postgres
postgres_dsn: "postgres://maap@localhost/maap"
archive_driver: fs
archive_fs_root: /var/lib/maap/reports  # inline comment
batch_max_attempts: 5
`)
			_ = os.Setenv("MAAP_CONFIG", path)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from the file and keep other defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StorePostgres)
				convey.So(cfg.PostgresDSN, convey.ShouldEqual, "postgres://maap@localhost/maap")
				convey.So(cfg.ArchiveDriver, convey.ShouldEqual, "fs")
				convey.So(cfg.ArchiveFSRoot, convey.ShouldEqual, "/var/lib/maap/reports")
				convey.So(cfg.BatchMaxAttempts, convey.ShouldEqual, 5)
				convey.So(cfg.JobWorkerCount, convey.ShouldEqual, 2)
			})

			convey.Convey("Then environment variables override file values", func() {
				_ = os.Setenv("MAAP_ADDR", ":7070")
				_ = os.Setenv("MAAP_BATCH_MAX_ATTEMPTS", "2")

				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.BatchMaxAttempts, convey.ShouldEqual, 2)
				convey.So(cfg.ArchiveDriver, convey.ShouldEqual, "fs")
			})
		})

		convey.Convey("When loading an explicit file path", func() {
			path := writeConfigFile(t, "log_format: json\nlog_level: debug\n")

			cfg, err := config.LoadFile(ctx, path)

			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.LogFormat, convey.ShouldEqual, "json")
			convey.So(cfg.LogLevel, convey.ShouldEqual, "debug")
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			_ = os.Setenv("MAAP_CONFIG", writeConfigFile(t, `invalid: yaml: content: [`))

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("MAAP_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("MAAP_ADDR", "")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("MAAP_JOB_QUEUE_SIZE", "invalid")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with zero workers", func() {
			_ = os.Setenv("MAAP_JOB_WORKER_COUNT", "0")

			cfg, err := config.Load(ctx)

			convey.Convey("Then validation rejects it", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, config.EnvPrefix) {
			_ = os.Unsetenv(name)
		}
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "maap-config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

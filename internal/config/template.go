package config

import (
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Template returns a commented sample configuration file
func Template() string {
	return `# sqlferry configuration
# Every key can also be set through SQLFERRY_<SECTION>_<KEY>, for example
# SQLFERRY_BACKUP_COMPRESSION=zstd.

# Connections. A URL wins over the structured block of the same side.
source_url: ""                  # mysql://user@host/db, postgres://..., sqlite:///path.db
target_url: ""
source:
  dialect: mysql
  host: localhost
  port: 3306
  username: root
  password: ""                  # prefer SQLFERRY_SOURCE_PASSWORD
  database: app
  timeout: 30s
target:
  dialect: sqlite
  path: ./restored.db

backup:
  strategy: ""                  # empty selects automatically
  compression: none             # none, gzip, zstd, lz4
  compression_level: 0          # 0 uses the algorithm default
  batch_size: 100               # rows per generated INSERT
  tool_timeout: 0s              # limit for mysqldump/pg_dump/sqlite3
  output_dir: .
  target_dialect: ""            # write the backup for another engine
  encrypt: false
  passphrase_env: SQLFERRY_PASSPHRASE

restore:
  transaction: true
  disable_foreign_keys: true
  disable_unique_checks: false
  reset_sequences: true
  stop_on_error: false
  validate_statements: true
  infer_options: false          # derive options from the backup first
  progress_interval: 10
  max_failure_records: 100
  parser: scanner               # "line" is the degraded line-oriented fallback

storage:
  provider: local               # local, s3, azure, gcs
  local:
    base_path: ./backups
  # s3:
  #   bucket: my-backups
  #   region: us-east-1
  #   endpoint: ""              # set for MinIO and other S3 compatible stores
  #   force_path_style: false
  #   prefix: sqlferry/
  # azure:
  #   account_name: ""
  #   account_key: ""
  #   container_name: backups
  # gcs:
  #   bucket: my-backups
  #   credentials_path: ""
  #   project_id: ""

retention:                      # rules are additive; the newest backup is always kept
  max_backups: 0
  max_age: 0s
  keep_daily: 0
  keep_weekly: 0
  keep_monthly: 0

display:
  color_enabled: true
  theme: dark                   # dark, light, high-contrast, plain
  format: table                 # table, json, yaml
  show_progress: true
  quiet: false

logging:
  level: normal                 # quiet, normal, verbose, debug
  format: text                  # text, json
  file: ""

metrics_file: ""                # write Prometheus metrics here after each command
timeout: 0s
`
}

// EnvironmentVariables lists the variables that override configuration
// keys, sorted
func EnvironmentVariables() []string {
	v := viper.New()
	setDefaults(v)

	keys := v.AllKeys()
	vars := make([]string, 0, len(keys))
	for _, k := range keys {
		vars = append(vars, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(k, ".", "_")))
	}
	sort.Strings(vars)
	return vars
}

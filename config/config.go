/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PAGE_SIZE          = 100
	DEFAULT_MAX_CONCURRENCY    = 4
	DEFAULT_CRON_SPEC          = "0 */5 * * * *"
	DEFAULT_MONITORING_PORT    = "5004"
	DEFAULT_EXECUTION_TIMEOUT  = 60
	DEFAULT_LOCK_TIMEOUT       = 300
	DEFAULT_RECOVERY_THRESHOLD = 900
)

var ConfigStore atomic.Value

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"PAYOUTS_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"PAYOUTS_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"PAYOUTS_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	DispatchQueue  string `json:"dispatch_queue" envconfig:"PAYOUTS_QUEUE_DISPATCH"`
	BatchQueue     string `json:"batch_queue" envconfig:"PAYOUTS_QUEUE_BATCH"`
	WebhookQueue   string `json:"webhook_queue" envconfig:"PAYOUTS_QUEUE_WEBHOOK"`
	Concurrency    int    `json:"concurrency" envconfig:"PAYOUTS_QUEUE_CONCURRENCY"`
	MaxRetry       int    `json:"max_retry" envconfig:"PAYOUTS_QUEUE_MAX_RETRY"`
	MonitoringPort string `json:"monitoring_port" envconfig:"PAYOUTS_QUEUE_MONITORING_PORT"`
}

type DistributionConfig struct {
	PageSize                 int    `json:"page_size" envconfig:"PAYOUTS_PAGE_SIZE"`
	MaxConcurrency           int    `json:"max_concurrency" envconfig:"PAYOUTS_MAX_CONCURRENCY"`
	ExecutionTimeoutSec      int    `json:"execution_timeout_sec" envconfig:"PAYOUTS_EXECUTION_TIMEOUT_SEC"`
	LockTimeoutSec           int    `json:"lock_timeout_sec" envconfig:"PAYOUTS_LOCK_TIMEOUT_SEC"`
	CronSpec                 string `json:"cron_spec" envconfig:"PAYOUTS_CRON_SPEC"`
	RecoveryThresholdSec     int    `json:"recovery_threshold_sec" envconfig:"PAYOUTS_RECOVERY_THRESHOLD_SEC"`
	RecoveryPollIntervalSec  int    `json:"recovery_poll_interval_sec" envconfig:"PAYOUTS_RECOVERY_POLL_INTERVAL_SEC"`
	AssetCacheTTLSec         int    `json:"asset_cache_ttl_sec" envconfig:"PAYOUTS_ASSET_CACHE_TTL_SEC"`
	DisableScheduler         bool   `json:"disable_scheduler" envconfig:"PAYOUTS_DISABLE_SCHEDULER"`
	DisableRecoveryProcessor bool   `json:"disable_recovery_processor" envconfig:"PAYOUTS_DISABLE_RECOVERY_PROCESSOR"`
}

type RetryConfig struct {
	MaxRetries         int     `json:"max_retries" envconfig:"PAYOUTS_RETRY_MAX_RETRIES"`
	InitialIntervalSec int     `json:"initial_interval_sec" envconfig:"PAYOUTS_RETRY_INITIAL_INTERVAL_SEC"`
	MaxIntervalSec     int     `json:"max_interval_sec" envconfig:"PAYOUTS_RETRY_MAX_INTERVAL_SEC"`
	Multiplier         float64 `json:"multiplier" envconfig:"PAYOUTS_RETRY_MULTIPLIER"`
}

type LedgerConfig struct {
	Url        string `json:"url" envconfig:"PAYOUTS_LEDGER_URL"`
	ApiKey     string `json:"api_key" envconfig:"PAYOUTS_LEDGER_API_KEY"`
	TimeoutSec int    `json:"timeout_sec" envconfig:"PAYOUTS_LEDGER_TIMEOUT_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName  string             `json:"project_name" envconfig:"PAYOUTS_PROJECT_NAME"`
	DataSource   DataSourceConfig   `json:"data_source"`
	Redis        RedisConfig        `json:"redis"`
	Queue        QueueConfig        `json:"queue"`
	Distribution DistributionConfig `json:"distribution"`
	Retry        RetryConfig        `json:"retry"`
	Ledger       LedgerConfig       `json:"ledger"`
	Notification Notification       `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("payouts", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called payouts.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Payouts Engine"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.Ledger.Url == "" {
		log.Println("Error: Ledger gateway URL is empty. It's a required field.")
		return errors.New("ledger gateway URL is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Ledger.Url = strings.TrimRight(strings.TrimSpace(cnf.Ledger.Url), "/")

	cnf.setQueueDefaults()
	cnf.setDistributionDefaults()
	cnf.setRetryDefaults()

	if cnf.Ledger.TimeoutSec <= 0 {
		cnf.Ledger.TimeoutSec = cnf.Distribution.ExecutionTimeoutSec
	}

	return nil
}

func (cnf *Configuration) setQueueDefaults() {
	if cnf.Queue.DispatchQueue == "" {
		cnf.Queue.DispatchQueue = "payouts:dispatch"
	}
	if cnf.Queue.BatchQueue == "" {
		cnf.Queue.BatchQueue = "payouts:batch"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "payouts:webhook"
	}
	if cnf.Queue.Concurrency <= 0 {
		cnf.Queue.Concurrency = 10
	}
	if cnf.Queue.MaxRetry <= 0 {
		cnf.Queue.MaxRetry = 5
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = DEFAULT_MONITORING_PORT
	}
}

func (cnf *Configuration) setDistributionDefaults() {
	d := &cnf.Distribution
	if d.PageSize <= 0 {
		d.PageSize = DEFAULT_PAGE_SIZE
		log.Printf("Warning: Page size not specified in config. Setting default page size: %d", DEFAULT_PAGE_SIZE)
	}
	if d.MaxConcurrency <= 0 {
		d.MaxConcurrency = DEFAULT_MAX_CONCURRENCY
	}
	if d.ExecutionTimeoutSec <= 0 {
		d.ExecutionTimeoutSec = DEFAULT_EXECUTION_TIMEOUT
	}
	if d.LockTimeoutSec <= 0 {
		d.LockTimeoutSec = DEFAULT_LOCK_TIMEOUT
	}
	// the lock must outlive one execution call
	if d.LockTimeoutSec < 2*d.ExecutionTimeoutSec {
		d.LockTimeoutSec = 2 * d.ExecutionTimeoutSec
		log.Printf("Warning: Lock timeout shorter than two execution timeouts. Setting lock timeout: %d seconds", d.LockTimeoutSec)
	}
	if d.CronSpec == "" {
		d.CronSpec = DEFAULT_CRON_SPEC
	}
	if d.RecoveryThresholdSec <= 0 {
		d.RecoveryThresholdSec = DEFAULT_RECOVERY_THRESHOLD
	}
	if d.RecoveryPollIntervalSec <= 0 {
		d.RecoveryPollIntervalSec = 60
	}
	if d.AssetCacheTTLSec <= 0 {
		d.AssetCacheTTLSec = 600
	}
}

func (cnf *Configuration) setRetryDefaults() {
	r := &cnf.Retry
	if r.MaxRetries <= 0 {
		r.MaxRetries = 5
	}
	if r.InitialIntervalSec <= 0 {
		r.InitialIntervalSec = 30
	}
	if r.MaxIntervalSec <= 0 {
		r.MaxIntervalSec = 1800
	}
	if r.MaxIntervalSec < r.InitialIntervalSec {
		r.MaxIntervalSec = r.InitialIntervalSec
	}
	if r.Multiplier < 1 {
		r.Multiplier = 2
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}

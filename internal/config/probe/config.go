package probe_config

import (
	"time"

	"github.com/softmech/journeyprobe/internal/dispatch"
	"github.com/softmech/journeyprobe/internal/obs"
	"github.com/softmech/journeyprobe/internal/report"
	pginfra "github.com/softmech/journeyprobe/internal/repository/postgres"
)

type KafkaCfg struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type IngressCfg struct {
	Addr string `mapstructure:"addr"`
}

type SchedCfg struct {
	ScheduleInterval  time.Duration `mapstructure:"schedule_interval"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	ThresholdInterval time.Duration `mapstructure:"threshold_interval"`
	ConcurrencyLimit  int64         `mapstructure:"concurrency_limit"`
	MetricsAddr       string        `mapstructure:"metrics_addr"`
}

type LogCfg struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	App    string `mapstructure:"app"`
	Env    string `mapstructure:"env"`
	Ver    string `mapstructure:"ver"`
}

func (c LogCfg) AsLoggerConfig() obs.LogConfig {
	return obs.LogConfig{Level: c.Level, Pretty: c.Pretty, App: c.App, Env: c.Env, Ver: c.Ver}
}

type OTELCfg struct {
	Enable      bool    `mapstructure:"enable"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

func (c OTELCfg) AsOTELConfig() *obs.OTELConfig {
	return &obs.OTELConfig{
		Enable:      c.Enable,
		Endpoint:    c.Endpoint,
		ServiceName: c.ServiceName,
		SampleRatio: c.SampleRatio,
	}
}

type Config struct {
	Platform     dispatch.ClientConfig `mapstructure:"platform"`
	Ingress      IngressCfg            `mapstructure:"ingress"`
	Sched        SchedCfg              `mapstructure:"sched"`
	Report       report.Config         `mapstructure:"report"`
	Kafka        KafkaCfg              `mapstructure:"kafka"`
	DB           pginfra.Config        `mapstructure:"db"`
	ScenarioFile string                `mapstructure:"scenario_file"`
	Log          LogCfg                `mapstructure:"log"`
	OTEL         OTELCfg               `mapstructure:"otel"`
}

// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/extract"
	"github.com/JakeFAU/listing-crawler/internal/sink"
)

// Fetcher kinds.
const (
	FetcherHeadless = "headless"
	FetcherStatic   = "static"
)

// Sink kinds.
const (
	SinkFile     = "file"
	SinkGCS      = "gcs"
	SinkPostgres = "postgres"
)

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Listing  ListingConfig  `mapstructure:"listing"`
	Detail   DetailConfig   `mapstructure:"detail"`
	Throttle ThrottleConfig `mapstructure:"throttle"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Sink     SinkConfig     `mapstructure:"sink"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlConfig bounds the run.
type CrawlConfig struct {
	Name               string `mapstructure:"name"`
	TargetCount        int    `mapstructure:"target_count"`
	ListingURLTemplate string `mapstructure:"listing_url_template"`
	MaxPages           int    `mapstructure:"max_pages"`
	Enrich             bool   `mapstructure:"enrich"`
}

// ListingConfig describes listing pages.
type ListingConfig struct {
	ReadySelector         string `mapstructure:"ready_selector"`
	extract.ListingSchema `mapstructure:",squash"`
}

// DetailConfig describes how detail URLs are found and what detail pages hold.
type DetailConfig struct {
	LinkField            string `mapstructure:"link_field"`
	URLTemplate          string `mapstructure:"url_template"`
	IDField              string `mapstructure:"id_field"`
	extract.DetailSchema `mapstructure:",squash"`
}

// ThrottleConfig holds the politeness delay ranges. MaxRPS optionally caps
// throughput on top of the random delays.
type ThrottleConfig struct {
	PageMin time.Duration `mapstructure:"page_min"`
	PageMax time.Duration `mapstructure:"page_max"`
	ItemMin time.Duration `mapstructure:"item_min"`
	ItemMax time.Duration `mapstructure:"item_max"`
	MaxRPS  float64       `mapstructure:"max_rps"`
	Burst   int           `mapstructure:"burst"`
}

// FetcherConfig selects and tunes the page fetcher.
type FetcherConfig struct {
	Kind          string            `mapstructure:"kind"`
	UserAgent     string            `mapstructure:"user_agent"`
	Headers       map[string]string `mapstructure:"headers"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	ShowBrowser   bool              `mapstructure:"show_browser"`
	ExecPath      string            `mapstructure:"exec_path"`
	RespectRobots bool              `mapstructure:"respect_robots"`
}

// SinkConfig selects the output destination and encoding.
type SinkConfig struct {
	Kind     string         `mapstructure:"kind"`
	Format   string         `mapstructure:"format"`
	Prefix   string         `mapstructure:"prefix"`
	Local    LocalConfig    `mapstructure:"local"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// LocalConfig configures the filesystem destination.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSConfig configures the Cloud Storage destination.
type GCSConfig struct {
	Bucket   string `mapstructure:"bucket"`
	Endpoint string `mapstructure:"endpoint"`
}

// PostgresConfig configures the relational destination.
type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	Table       string `mapstructure:"table"`
	CreateTable bool   `mapstructure:"create_table"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for the run summary notification. An empty
// topic disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
	Endpoint  string `mapstructure:"endpoint"`
}

// MetricsConfig points at an optional Pushgateway.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

const jobSummary = "div.jv_summary > div"

// setDefaults reproduces the job-category crawl: 500 postings, each enriched
// from its detail page.
func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.name", "jobs")
	v.SetDefault("crawl.target_count", 500)
	v.SetDefault("crawl.listing_url_template",
		"https://www.saramin.co.kr/zf_user/jobs/list/job-category?page={page}"+
			"&cat_mcls=16%2C14%2C3%2C5%2C4%2C2%2C15%2C8%2C21%2C18%2C12%2C7%2C10%2C11%2C22%2C6%2C9%2C19%2C13%2C17%2C20"+
			"&search_optional_item=n&search_done=y&panel_count=y&preview=y&isAjaxRequest=0&page_count=50&sort=RL&type=job-category")
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("crawl.enrich", true)

	v.SetDefault("listing.ready_selector", "#default_list_wrap > section > div")
	v.SetDefault("listing.candidate_selector", "#default_list_wrap > section > div > div")
	v.SetDefault("listing.id_prefix", "rec-")
	v.SetDefault("listing.fields", []map[string]any{
		{"name": "company_name", "selector": "div.box_item > div.col.company_nm > a", "required": true},
		{"name": "company_href", "selector": "div.box_item > div.col.company_nm > a", "attr": "href", "absolute": true},
		{"name": "job_title", "selector": "div.box_item > div.col.notification_info > a.job_tit", "attr": "title", "required": true},
		{"name": "job_href", "selector": "div.box_item > div.col.notification_info > a.job_tit", "attr": "href", "absolute": true, "required": true},
		{"name": "tech_stack", "selector": "div.box_item > div.col.notification_info > div.job_meta > span", "join": ", "},
	})

	v.SetDefault("detail.link_field", "job_href")
	v.SetDefault("detail.ready_selector", "#content > div:nth-of-type(3) > section:nth-of-type(1)")
	v.SetDefault("detail.fields", []map[string]any{
		{"name": "회사", "selector": "div.wrap_jv_header > div > h1"},
		{"name": "제목", "selector": "div.wrap_jv_header > div > div.title_inner > a.company"},
		{"name": "경력", "selector": jobSummary + " > div:nth-child(1) > dl:nth-child(1) > dd > strong"},
		{"name": "급여", "selector": jobSummary + " > div:nth-child(2) > dl:nth-child(1) > dd"},
		{"name": "학력", "selector": jobSummary + " > div:nth-child(1) > dl:nth-child(2) > dd > strong"},
		{"name": "직급", "selector": jobSummary + " > div:nth-child(2) > dl:nth-child(2) > dd"},
		{"name": "근무형태", "selector": jobSummary + " > div:nth-child(1) > dl:nth-child(3) > dd > strong"},
		{"name": "근무지역", "selector": jobSummary + " > div:nth-child(2) > dl:nth-child(3) > dd"},
		{"name": "시작일", "selector": "div.jv_howto > div > div > dl > dd:nth-child(2)"},
		{"name": "마감일", "selector": "div.jv_howto > div > div > dl > dd:nth-child(4)"},
	})
	v.SetDefault("detail.company_info.item_selector", "div.jv_company > div.cont.box > div > div.info_area > dl")
	v.SetDefault("detail.company_info.key_selector", "dt")
	v.SetDefault("detail.company_info.value_selector", "dd")

	v.SetDefault("throttle.page_min", 4*time.Second)
	v.SetDefault("throttle.page_max", 10*time.Second)
	v.SetDefault("throttle.item_min", 3*time.Second)
	v.SetDefault("throttle.item_max", 7*time.Second)
	v.SetDefault("throttle.max_rps", 0)
	v.SetDefault("throttle.burst", 1)

	v.SetDefault("fetcher.kind", FetcherHeadless)
	v.SetDefault("fetcher.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36")
	v.SetDefault("fetcher.headers", map[string]string{"accept-language": "ko-KR,ko;q=0.9"})
	v.SetDefault("fetcher.timeout", 10*time.Second)
	v.SetDefault("fetcher.show_browser", false)
	v.SetDefault("fetcher.respect_robots", false)

	v.SetDefault("sink.kind", SinkFile)
	v.SetDefault("sink.format", string(sink.FormatJSON))
	v.SetDefault("sink.prefix", "")
	v.SetDefault("sink.local.base_dir", "data")
	v.SetDefault("sink.postgres.table", "listing_records")
	v.SetDefault("sink.postgres.create_table", true)
	v.SetDefault("sink.postgres.max_conns", 4)

	v.SetDefault("metrics.job", "listing_crawler")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.CrawlerConfig().Validate(); err != nil {
		return err
	}
	if c.Listing.ReadySelector == "" {
		return errors.New("listing.ready_selector is required")
	}
	if err := c.Listing.ListingSchema.Validate(); err != nil {
		return err
	}
	if c.Crawl.Enrich {
		if err := c.Detail.DetailSchema.Validate(); err != nil {
			return err
		}
	}
	if err := validateRange("throttle.page", c.Throttle.PageMin, c.Throttle.PageMax); err != nil {
		return err
	}
	if err := validateRange("throttle.item", c.Throttle.ItemMin, c.Throttle.ItemMax); err != nil {
		return err
	}
	if c.Throttle.MaxRPS < 0 {
		return errors.New("throttle.max_rps must be >= 0")
	}
	if c.Fetcher.Timeout <= 0 {
		return errors.New("fetcher.timeout must be > 0")
	}
	switch c.Fetcher.Kind {
	case FetcherHeadless, FetcherStatic:
	default:
		return fmt.Errorf("fetcher.kind %q is not one of %s, %s", c.Fetcher.Kind, FetcherHeadless, FetcherStatic)
	}
	if _, err := sink.ParseFormat(c.Sink.Format); err != nil {
		return fmt.Errorf("sink.format: %w", err)
	}
	switch c.Sink.Kind {
	case SinkFile:
		if c.Sink.Local.BaseDir == "" {
			return errors.New("sink.local.base_dir is required for the file sink")
		}
	case SinkGCS:
		if c.Sink.GCS.Bucket == "" {
			return errors.New("sink.gcs.bucket is required for the gcs sink")
		}
	case SinkPostgres:
		if c.Sink.Postgres.DSN == "" {
			return errors.New("sink.postgres.dsn is required for the postgres sink")
		}
	default:
		return fmt.Errorf("sink.kind %q is not one of %s, %s, %s", c.Sink.Kind, SinkFile, SinkGCS, SinkPostgres)
	}
	if c.PubSub.TopicID != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic_id is set")
	}
	return nil
}

// CrawlerConfig projects the settings the controller needs.
func (c Config) CrawlerConfig() crawler.Config {
	return crawler.Config{
		TargetCount:          c.Crawl.TargetCount,
		ListingURLTemplate:   c.Crawl.ListingURLTemplate,
		ListingReadySelector: c.Listing.ReadySelector,
		MaxPages:             c.Crawl.MaxPages,
		Enrich:               c.Crawl.Enrich,
		Detail: crawler.DetailLink{
			LinkField:   c.Detail.LinkField,
			URLTemplate: c.Detail.URLTemplate,
			IDField:     c.Detail.IDField,
		},
		Name: c.Crawl.Name,
	}
}

func validateRange(key string, minDelay, maxDelay time.Duration) error {
	if minDelay < 0 || maxDelay < 0 {
		return fmt.Errorf("%s delays must be >= 0", key)
	}
	if minDelay > maxDelay {
		return fmt.Errorf("%s_min %s exceeds %s_max %s", key, minDelay, key, maxDelay)
	}
	return nil
}

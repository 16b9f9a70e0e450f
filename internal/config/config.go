package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/owid-pivot/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by PIVOT_FORMAT.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Config holds all converter settings, populated from environment variables
// and an optional YAML jobs file.
type Config struct {
	Input        string   `env:"PIVOT_INPUT" validate:"required"`
	OutputDir    string   `env:"PIVOT_OUTPUT_DIR" validate:"required"`
	Format       string   `env:"PIVOT_FORMAT" validate:"oneof=csv xlsx"`
	Metrics      []string `env:"PIVOT_METRICS"`
	RegionColumn int      `env:"PIVOT_REGION_COLUMN" validate:"gte=0"`
	DateColumn   int      `env:"PIVOT_DATE_COLUMN" validate:"gte=0,nefield=RegionColumn"`
	HasHeader    bool     `env:"PIVOT_HAS_HEADER"`
	Strict       bool     `env:"PIVOT_STRICT"`
	Duplicates   string   `env:"PIVOT_DUPLICATES" validate:"oneof=first last"`
	JobsFile     string   `env:"PIVOT_JOBS_FILE"`
	Outputs      []Output `env:"PIVOT_JOBS_FILE" validate:"dive"`

	MetricsTextfile string        `env:"METRICS_TEXTFILE"`
	KafkaBrokers    []string      `env:"KAFKA_BROKERS"`
	KafkaTopic      string        `env:"KAFKA_TOPIC" validate:"required"`
	HTTPAddr        string        `env:"HTTP_ADDR" validate:"required"`
	LogLevel        string        `env:"LOG_LEVEL"`
	LogFormat       string        `env:"LOG_FORMAT" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
}

// Output is one entry of the YAML jobs file. Either Metric names a catalog
// metric, or Column (with Name) selects an arbitrary measurement column.
type Output struct {
	Metric string `yaml:"metric"`
	Column int    `yaml:"column" validate:"gte=0"`
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
}

type jobsFile struct {
	Outputs []Output `yaml:"outputs"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by the variable that sets them.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("env"); name != "" {
			return name
		}
		if name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]; name != "" {
			return name
		}
		return fld.Name
	})
	return v
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	regionColumn, err := parseInt("PIVOT_REGION_COLUMN", domain.DefaultRegionColumn)
	if err != nil {
		return nil, err
	}
	dateColumn, err := parseInt("PIVOT_DATE_COLUMN", domain.DefaultDateColumn)
	if err != nil {
		return nil, err
	}
	hasHeader, err := parseBool("PIVOT_HAS_HEADER", true)
	if err != nil {
		return nil, err
	}
	strict, err := parseBool("PIVOT_STRICT", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Input:        sharedcfg.EnvOrDefault("PIVOT_INPUT", "covid-testing-all-observations.csv"),
		OutputDir:    sharedcfg.EnvOrDefault("PIVOT_OUTPUT_DIR", "."),
		Format:       strings.ToLower(sharedcfg.EnvOrDefault("PIVOT_FORMAT", FormatCSV)),
		Metrics:      parseList(sharedcfg.EnvOrDefault("PIVOT_METRICS", "cumulative_total")),
		RegionColumn: regionColumn,
		DateColumn:   dateColumn,
		HasHeader:    hasHeader,
		Strict:       strict,
		Duplicates:   sharedcfg.EnvOrDefault("PIVOT_DUPLICATES", string(domain.DuplicatesFirst)),
		JobsFile:     os.Getenv("PIVOT_JOBS_FILE"),

		MetricsTextfile: os.Getenv("METRICS_TEXTFILE"),
		KafkaBrokers:    parseList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:      sharedcfg.EnvOrDefault("KAFKA_TOPIC", "testing-data-wide"),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	if cfg.JobsFile != "" {
		if err := cfg.LoadJobsFile(cfg.JobsFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadJobsFile replaces Outputs with the entries of a YAML jobs file.
func (c *Config) LoadJobsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read PIVOT_JOBS_FILE: %w", err)
	}
	var f jobsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse PIVOT_JOBS_FILE %s: %w", path, err)
	}
	if len(f.Outputs) == 0 {
		return fmt.Errorf("PIVOT_JOBS_FILE %s lists no outputs", path)
	}
	c.JobsFile = path
	c.Outputs = f.Outputs
	return nil
}

// Validate checks struct constraints and that every requested output resolves.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if len(c.Outputs) == 0 && len(c.Metrics) == 0 {
		return errors.New("PIVOT_METRICS is required when no PIVOT_JOBS_FILE is set")
	}
	if _, err := c.Jobs(); err != nil {
		return err
	}
	return nil
}

// DuplicatePolicy returns the parsed PIVOT_DUPLICATES setting.
func (c *Config) DuplicatePolicy() domain.DuplicatePolicy {
	p, err := domain.ParseDuplicatePolicy(c.Duplicates)
	if err != nil {
		return domain.DuplicatesFirst
	}
	return p
}

// KafkaEnabled reports whether rows should also be published to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Jobs resolves the configured outputs into pivot jobs with final paths.
func (c *Config) Jobs() ([]domain.Job, error) {
	if len(c.Outputs) > 0 {
		return c.outputJobs()
	}

	jobs := make([]domain.Job, 0, len(c.Metrics))
	for _, name := range c.Metrics {
		m, err := domain.LookupMetric(name)
		if err != nil {
			return nil, fmt.Errorf("PIVOT_METRICS: %w", err)
		}
		jobs = append(jobs, domain.Job{Metric: m, Path: c.outputPath(m.File)})
	}
	return jobs, nil
}

func (c *Config) outputJobs() ([]domain.Job, error) {
	jobs := make([]domain.Job, 0, len(c.Outputs))
	for i, o := range c.Outputs {
		var m domain.Metric
		switch {
		case o.Metric != "":
			found, err := domain.LookupMetric(o.Metric)
			if err != nil {
				return nil, fmt.Errorf("PIVOT_JOBS_FILE output %d: %w", i, err)
			}
			m = found
		case o.Column > 0:
			if o.Name == "" {
				return nil, fmt.Errorf("PIVOT_JOBS_FILE output %d: column %d needs a name", i, o.Column)
			}
			m = domain.Metric{Name: o.Name, Column: o.Column, File: o.Name + ".csv"}
		default:
			return nil, fmt.Errorf("PIVOT_JOBS_FILE output %d: metric or column is required", i)
		}

		if m.Column == c.RegionColumn || m.Column == c.DateColumn {
			return nil, fmt.Errorf("PIVOT_JOBS_FILE output %d: column %d is a key column", i, m.Column)
		}

		file := m.File
		if o.Path != "" {
			file = o.Path
		}
		jobs = append(jobs, domain.Job{Metric: m, Path: c.outputPath(file)})
	}
	return jobs, nil
}

// outputPath places file under OutputDir (unless absolute) with the
// extension matching Format.
func (c *Config) outputPath(file string) string {
	if c.Format == FormatXLSX {
		file = strings.TrimSuffix(file, filepath.Ext(file)) + ".xlsx"
	}
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(c.OutputDir, file)
}

// Columns returns the key columns plus every value column the jobs read.
func (c *Config) Columns(jobs []domain.Job) domain.Columns {
	values := make([]int, 0, len(jobs))
	for _, j := range jobs {
		values = append(values, j.Metric.Column)
	}
	return domain.Columns{Region: c.RegionColumn, Date: c.DateColumn, Values: values}
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", key, s)
	}
	return b, nil
}

// Package config reads the taca YAML configuration into one typed struct
// that is handed to every component.
package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"code.cloudfoundry.org/bytefmt"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrMissingSection = Error("missing configuration section")
	ErrBadValue       = Error("invalid configuration value")
)

// Config holds every section of the configuration file
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Mail     MailConfig     `mapstructure:"mail"`
	StatusDB StatusDBConfig `mapstructure:"statusdb"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Backup   BackupConfig   `mapstructure:"backup"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`

	// set keeps the top level keys present in the file
	set map[string]bool
}

type LogConfig struct {
	File  string `mapstructure:"file"`
	Debug bool   `mapstructure:"debug"`
}

type MailConfig struct {
	Server     string   `mapstructure:"server"`
	Port       int      `mapstructure:"port"`
	Sender     string   `mapstructure:"sender"`
	Recipients []string `mapstructure:"recipients"`
	Prefix     string   `mapstructure:"prefix"`
}

type StatusDBConfig struct {
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	FlowcellDB  string `mapstructure:"flowcell_db"`
	NameView    string `mapstructure:"name_view"`
	TimeoutSecs int    `mapstructure:"timeout"`
}

// SlurmConfig mirrors utils.SlurmInfo for the demultiplexer allocation
type SlurmConfig struct {
	Project   string `mapstructure:"project"`
	Partition string `mapstructure:"partition"`
	Cores     int    `mapstructure:"cores"`
	Time      string `mapstructure:"time"`
	Threads   int    `mapstructure:"threads"`
}

// SequencerConfig holds the settings for one sequencer kind
type SequencerConfig struct {
	SamplesheetsDir string            `mapstructure:"samplesheets_dir"`
	Demultiplexer   string            `mapstructure:"demultiplexer"`
	Options         []string          `mapstructure:"options"`
	Threads         int               `mapstructure:"threads"`
	Slurm           *SlurmConfig      `mapstructure:"slurm"`
	Extra           map[string]string `mapstructure:"extra"`
}

type AnalysisConfig struct {
	DataDirs                 []string                   `mapstructure:"data_dirs"`
	Sequencers               map[string]SequencerConfig `mapstructure:"sequencers"`
	IndexTables              IndexTablesConfig          `mapstructure:"index_tables"`
	MfsPath                  string                     `mapstructure:"mfs_path"`
	TransferToAnalysisServer bool                       `mapstructure:"transfer_to_analysis_server"`
	StatusDBUpload           bool                       `mapstructure:"statusdb_upload"`
}

type IndexTablesConfig struct {
	TenX     string `mapstructure:"tenx"`
	SmartSeq string `mapstructure:"smartseq"`
}

type TransferConfig struct {
	Host                 string   `mapstructure:"host"`
	User                 string   `mapstructure:"user"`
	Destination          string   `mapstructure:"destination"`
	RsyncOptions         []string `mapstructure:"rsync_options"`
	Exclude              []string `mapstructure:"exclude"`
	TransferLog          string   `mapstructure:"transfer_log"`
	AnalysisLog          string   `mapstructure:"analysis_log"`
	RunfolderDestination string   `mapstructure:"runfolder_destination"`
	RunfolderTransferLog string   `mapstructure:"runfolder_transfer_log"`
	TriggerURL           string   `mapstructure:"trigger_url"`
}

type StorageConfig struct {
	ArchiveDirs map[string]string `mapstructure:"archive_dirs"`
}

type BackupConfig struct {
	DataDirs     map[string]string `mapstructure:"data_dirs"`
	ArchiveDirs  map[string]string `mapstructure:"archive_dirs"`
	ArchivedDirs map[string]string `mapstructure:"archived_dirs"`
	KeysPath     string            `mapstructure:"keys_path"`
	GPGReceiver  string            `mapstructure:"gpg_receiver"`
	ExcludeList  []string          `mapstructure:"exclude_list"`
	ArchiveLog   string            `mapstructure:"archive_log"`
	CheckDemux   bool              `mapstructure:"check_demux"`
	Sizes        map[string]string `mapstructure:"sizes"`
	PigzThreads  int               `mapstructure:"pigz_threads"`
	MailErrors   bool              `mapstructure:"mail_errors"`
}

type CleanupConfig struct {
	Irma IrmaConfig `mapstructure:"irma"`
}

type IrmaConfig struct {
	FlowcellDirs    []string `mapstructure:"flowcell_dirs"`
	AnalysisDirs    []string `mapstructure:"analysis_dirs"`
	ExcludeProjects []string `mapstructure:"exclude_projects"`
}

// DefaultPath is where the configuration is looked for when no path is given
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "taca.yaml"
	}
	return filepath.Join(home, ".taca", "taca.yaml")
}

// defaultSizes are the expected run sizes per sequencer kind
var defaultSizes = map[string]string{
	"novaseqxplus": "3600G",
	"novaseq":      "1800G",
	"hiseqx":       "600G",
	"hiseq":        "700G",
	"nextseq":      "250G",
	"miseq":        "20G",
	"ont":          "1000G",
}

var sections = []string{"log", "mail", "statusdb", "analysis", "transfer", "storage", "backup", "cleanup"}

// Load reads the YAML configuration file at path
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "could not read configuration %s", path)
	}
	return fromViper(v)
}

// Parse reads YAML configuration from r
func Parse(r io.Reader) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	if err := v.ReadConfig(r); err != nil {
		return nil, errors.Wrap(err, "could not read configuration")
	}
	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("statusdb.flowcell_db", "x_flowcells")
	v.SetDefault("statusdb.name_view", "names/name")
	v.SetDefault("statusdb.timeout", 60)
	v.SetDefault("mail.port", 25)
	v.SetDefault("mail.prefix", "TACA")
	v.SetDefault("transfer.rsync_options", []string{"-LtDrv", "--chmod=g+rw"})
	v.SetDefault("backup.pigz_threads", 8)
	v.SetDefault("backup.check_demux", true)
	for kind, size := range defaultSizes {
		v.SetDefault("backup.sizes."+kind, size)
	}
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{set: map[string]bool{}}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "could not parse configuration")
	}
	for _, s := range sections {
		cfg.set[s] = v.InConfig(s)
	}
	for kind, size := range cfg.Backup.Sizes {
		if _, err := bytefmt.ToBytes(size); err != nil {
			return nil, errors.Wrapf(ErrBadValue, "backup.sizes.%s: %s", kind, err)
		}
	}
	return cfg, nil
}

// Has reports whether a top level section was given in the file
func (c *Config) Has(section string) bool {
	return c.set[section]
}

// Require fails with ErrMissingSection for the first absent section
func (c *Config) Require(sections ...string) error {
	for _, s := range sections {
		if !c.Has(s) {
			return errors.Wrapf(ErrMissingSection, "%q", s)
		}
	}
	return nil
}

// Sequencer returns the settings of a sequencer kind, keyed by its lower
// case name
func (c *Config) Sequencer(kind string) SequencerConfig {
	return c.Analysis.Sequencers[strings.ToLower(kind)]
}

// SizeEstimate returns the expected size in bytes of one run of the given
// kind
func (c *Config) SizeEstimate(kind string) uint64 {
	size, ok := c.Backup.Sizes[strings.ToLower(kind)]
	if !ok {
		return 0
	}
	b, _ := bytefmt.ToBytes(size)
	return b
}

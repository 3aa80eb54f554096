package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"os"
	"strings"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/lookahead/pkg/nn"
	"github.com/cyclopcam/lookahead/pkg/speech"
)

type Config struct {
	Listen              string               `json:"listen"` // eg ":3000"
	DB                  dbh.DBConfig         `json:"db"`
	Storage             StorageConfig        `json:"storage"`
	ImageCacheMB        int                  `json:"imageCacheMB"` // Size of the in-memory cache of original images
	TempPath            string               `json:"tempPath"`     // Directory where uploads are staged before being sent to storage
	MaxUploadMB         int                  `json:"maxUploadMB"`
	UploadRateLimit     int                  `json:"uploadRateLimit"` // Uploads per minute, per IP
	Border              BorderConfig         `json:"border"`
	FontPath            string               `json:"fontPath"` // TrueType font for captions. Empty means the built-in Go Bold font.
	FontSize            float64              `json:"fontSize"`
	MaxImageSize        int                  `json:"maxImageSize"` // Neither output dimension will exceed this
	Region              *nn.RegionOfInterest `json:"region"`       // The "forward path". Only objects centered in here are drawn.
	MaxLabels           int                  `json:"maxLabels"`    // Maximum number of labels requested from the vision service
	DuplicateIoU        float64              `json:"duplicateIoU"` // If positive, boxes of the same label that overlap by at least this much are merged. Zero (the default) disables.
	Labeler             LabelerConfig        `json:"labeler"`
	Speech              SpeechConfig         `json:"speech"`
	Announce            AnnounceConfig       `json:"announce"`
	SharedSelectedLabel bool                 `json:"sharedSelectedLabel"` // Let /api/speech without an analysis ID read the most recent announcement from any client
	HotReloadWWW        bool                 `json:"hotReloadWWW"`        // Serve static files from server/www on disk, instead of the embedded copy
}

// One of the storage options must be configured (i.e. either 'filesystem' or 'gcs')
type StorageConfig struct {
	Filesystem *StorageConfigFS  `json:"filesystem"`
	GCS        *StorageConfigGCS `json:"gcs"`
}

type StorageConfigFS struct {
	Root string `json:"root"` // Path to the root of the filesystem
}

type StorageConfigGCS struct {
	Bucket string `json:"bucket"` // Name of the GCS bucket
	Public bool   `json:"public"` // Whether the bucket is public. This allows us to give clients direct URLs into GCS, instead of passing the data through our service
}

type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

func (c RGB) RGBA() color.RGBA {
	return color.RGBA{c.R, c.G, c.B, 255}
}

type BorderConfig struct {
	Thickness int  `json:"thickness"`
	Color     *RGB `json:"color"`
}

const (
	LabelerGoogleVision = "gcv"
	LabelerOllama       = "ollama"
	LabelerNone         = "none" // Never finds anything. Useful for trying out the rest of the pipeline.
)

type LabelerConfig struct {
	Backend     string `json:"backend"`
	APIKey      string `json:"apiKey"` // If empty, use default application credentials
	OllamaURL   string `json:"ollamaURL"`
	OllamaModel string `json:"ollamaModel"`
}

const (
	SpeechGoogle = "google"
	SpeechNone   = "none"
)

type SpeechConfig struct {
	Backend string             `json:"backend"`
	APIKey  string             `json:"apiKey"` // If empty, use default application credentials
	Voice   speech.VoiceConfig `json:"voice"`
}

type AnnounceConfig struct {
	Found   string `json:"found"`   // Must contain a single %s, which is replaced by the label
	Nothing string `json:"nothing"` // Used when no objects are found
}

// LoadConfig reads a JSON config file, and fills in defaults
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{}
	if cfgB, err := os.ReadFile(configFile); err != nil {
		return nil, err
	} else {
		if err := json.Unmarshal(cfgB, cfg); err != nil {
			return nil, fmt.Errorf("Error parsing config file %v: %w", configFile, err)
		}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid config file %v: %w", configFile, err)
	}
	return cfg, nil
}

func (c *Config) SetDefaults() {
	if c.Listen == "" {
		c.Listen = ":3000"
	}
	if c.DB.Driver == "" {
		c.DB = dbh.MakeSqliteConfig("lookahead.sqlite")
	}
	if c.ImageCacheMB == 0 {
		c.ImageCacheMB = 64
	}
	if c.TempPath == "" {
		c.TempPath = "tmp"
	}
	if c.MaxUploadMB == 0 {
		c.MaxUploadMB = 20
	}
	if c.UploadRateLimit == 0 {
		c.UploadRateLimit = 30
	}
	if c.Border.Thickness == 0 {
		c.Border.Thickness = 5
	}
	if c.Border.Color == nil {
		c.Border.Color = &RGB{255, 0, 0}
	}
	if c.MaxImageSize == 0 {
		c.MaxImageSize = 1000
	}
	if c.Region == nil {
		c.Region = &nn.RegionOfInterest{XStart: 0.3, XEnd: 0.7, YStart: 0.3, YEnd: 0.7}
	}
	if c.MaxLabels == 0 {
		c.MaxLabels = 10
	}
	if c.Labeler.Backend == "" {
		c.Labeler.Backend = LabelerGoogleVision
	}
	if c.Labeler.Backend == LabelerOllama && c.Labeler.OllamaURL == "" {
		c.Labeler.OllamaURL = "http://localhost:11434"
	}
	if c.Speech.Backend == "" {
		c.Speech.Backend = SpeechGoogle
	}
	c.Speech.Voice = c.Speech.Voice.WithDefaults()
	if c.Announce.Found == "" {
		c.Announce.Found = nn.DefaultFoundTemplate
	}
	if c.Announce.Nothing == "" {
		c.Announce.Nothing = nn.DefaultNothingSentence
	}
}

// Validate checks the things that SetDefaults can't fix.
// An inverted or out-of-range region is allowed. It simply never matches anything.
func (c *Config) Validate() error {
	if c.Storage.Filesystem == nil && c.Storage.GCS == nil {
		return errors.New("One of the storage options must be configured (i.e. either 'filesystem' or 'gcs')")
	}
	if c.Storage.Filesystem != nil && c.Storage.GCS != nil {
		return errors.New("Only one of the storage options may be configured (i.e. either 'filesystem' or 'gcs')")
	}
	if c.Storage.GCS != nil && c.Storage.GCS.Bucket == "" {
		return errors.New("storage.gcs.bucket is empty")
	}
	if c.Border.Thickness < 0 {
		return fmt.Errorf("border.thickness must be positive, not %v", c.Border.Thickness)
	}
	if c.MaxImageSize < 0 {
		return fmt.Errorf("maxImageSize must be positive, not %v", c.MaxImageSize)
	}
	if c.DuplicateIoU < 0 || c.DuplicateIoU > 1 {
		return fmt.Errorf("duplicateIoU must be between 0 and 1, not %v", c.DuplicateIoU)
	}
	if c.MaxLabels < 0 {
		return fmt.Errorf("maxLabels must be positive, not %v", c.MaxLabels)
	}
	switch c.Labeler.Backend {
	case LabelerGoogleVision, LabelerOllama, LabelerNone:
	default:
		return fmt.Errorf("Unknown labeler.backend '%v' (valid values are %v, %v, %v)", c.Labeler.Backend, LabelerGoogleVision, LabelerOllama, LabelerNone)
	}
	switch c.Speech.Backend {
	case SpeechGoogle, SpeechNone:
	default:
		return fmt.Errorf("Unknown speech.backend '%v' (valid values are %v, %v)", c.Speech.Backend, SpeechGoogle, SpeechNone)
	}
	if c.Speech.Backend == SpeechGoogle {
		if _, err := speech.ParseGender(c.Speech.Voice.Gender); err != nil {
			return err
		}
		if _, err := speech.ParseAudioEncoding(c.Speech.Voice.AudioEncoding); err != nil {
			return err
		}
	}
	if strings.Count(c.Announce.Found, "%s") != 1 {
		return fmt.Errorf("announce.found must contain exactly one %%s, but it is '%v'", c.Announce.Found)
	}
	return nil
}

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"tombola/internal/models"
	"tombola/internal/services"
)

// Config holds the draw configuration, read from a YAML file and TOMBOLA_*
// environment variables.
type Config struct {
	TicketsPath string
	LotsPath    string
	StoragePath string
	// Export files rewritten after every draw.
	ResultsExport string
	PublicExport  string

	RestrictedLots []string
	Policy         services.Policy

	HTTPAddr   string
	Verbose    bool
	IngestSeed uint64
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data.tickets", "data/tickets.csv")
	v.SetDefault("data.lots", "data/lots.csv")
	v.SetDefault("storage.path", "data/tombola.db")
	v.SetDefault("export.results", "data/tirage_gagnants.csv")
	v.SetDefault("export.public", "data/tirage_gagnants_export.csv")
	v.SetDefault("draw.restricted_lots", []string{})
	v.SetDefault("draw.identity", string(models.IdentityName))
	v.SetDefault("draw.weighting", string(services.WeightPerPerson))
	v.SetDefault("draw.exhaustion", string(services.ExhaustRoundReset))
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.verbose", false)
	v.SetDefault("ingest.seed", 42)
}

// BindEnv makes every key readable from TOMBOLA_SECTION_KEY variables.
// TOMBOLA_DRAW_RESTRICTED_LOTS separates lot names with ";" since names
// contain spaces.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("tombola")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads and validates the configuration.
func Load(v *viper.Viper) (*Config, error) {
	identity, err := models.ParseIdentity(v.GetString("draw.identity"))
	if err != nil {
		return nil, fmt.Errorf("invalid draw.identity: %w", err)
	}
	weighting, err := services.ParseWeighting(v.GetString("draw.weighting"))
	if err != nil {
		return nil, fmt.Errorf("invalid draw.weighting: %w", err)
	}
	exhaustion, err := services.ParseExhaustion(v.GetString("draw.exhaustion"))
	if err != nil {
		return nil, fmt.Errorf("invalid draw.exhaustion: %w", err)
	}
	seed := v.GetInt64("ingest.seed")
	if seed < 0 {
		return nil, fmt.Errorf("invalid ingest.seed: %d", seed)
	}

	cfg := &Config{
		TicketsPath:    v.GetString("data.tickets"),
		LotsPath:       v.GetString("data.lots"),
		StoragePath:    v.GetString("storage.path"),
		ResultsExport:  v.GetString("export.results"),
		PublicExport:   v.GetString("export.public"),
		RestrictedLots: restrictedLots(v),
		Policy: services.Policy{
			Identity:   identity,
			Weighting:  weighting,
			Exhaustion: exhaustion,
		},
		HTTPAddr:   v.GetString("http.addr"),
		Verbose:    v.GetBool("log.verbose"),
		IngestSeed: uint64(seed),
	}
	if cfg.StoragePath == "" {
		return nil, fmt.Errorf("storage.path must not be empty")
	}
	return cfg, nil
}

// restrictedLots reads draw.restricted_lots as a YAML list or as a single
// ";"-separated string.
func restrictedLots(v *viper.Viper) []string {
	raw, ok := v.Get("draw.restricted_lots").(string)
	if !ok {
		return v.GetStringSlice("draw.restricted_lots")
	}
	var lots []string
	for _, name := range strings.Split(raw, ";") {
		if name = strings.TrimSpace(name); name != "" {
			lots = append(lots, name)
		}
	}
	return lots
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Seednode/ageguess/internal/media"
)

type Config struct {
	babyName                 string
	bind                     string
	birthDate                string
	captureTime              bool
	corsOrigins              []string
	idleRounds               int
	imageTurnDurationSeconds int
	mediaDir                 string
	port                     int
	prefix                   string
	profile                  bool
	revealDuration           time.Duration
	tlsCert                  string
	tlsKey                   string
	totalRounds              int
	turnDurationSeconds      int
	verbose                  bool
	version                  bool

	birth  time.Time
	logger zerolog.Logger
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.totalRounds < 1 {
		return fmt.Errorf("invalid total rounds (must be at least 1): %d", c.totalRounds)
	}
	if c.turnDurationSeconds < 1 {
		return fmt.Errorf("invalid turn duration (must be at least 1 second): %d", c.turnDurationSeconds)
	}
	if c.imageTurnDurationSeconds < 0 {
		return fmt.Errorf("invalid image turn duration (cannot be negative): %d", c.imageTurnDurationSeconds)
	}
	if c.revealDuration <= 0 {
		return fmt.Errorf("invalid reveal duration (must be positive): %s", c.revealDuration)
	}
	if c.idleRounds < 0 {
		return fmt.Errorf("invalid idle rounds (cannot be negative): %d", c.idleRounds)
	}
	if c.mediaDir == "" {
		return errors.New("--media-dir cannot be empty")
	}

	birth, err := media.ParseBirthDate(c.birthDate)
	if err != nil {
		return err
	}
	c.birth = birth

	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "ageguess",
		Short:         "Guess how old the baby was in each photo or video.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			cfg.logger = newLogger(cfg)
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.babyName, "baby-name", "the baby", "name shown in prompts (env: BABY_NAME)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: BIND)")
	fs.StringVar(&cfg.birthDate, "birth-date", "2024-01-01", "birth date used to compute true ages, as YYYY-MM-DD (env: BIRTH_DATE)")
	fs.BoolVar(&cfg.captureTime, "capture-time", false, "read capture time from EXIF, ffprobe or file names before falling back to modification time (env: CAPTURE_TIME)")
	fs.StringSliceVar(&cfg.corsOrigins, "cors-origin", nil, "origin allowed to call the API cross-site, may be repeated (env: CORS_ORIGIN)")
	fs.IntVar(&cfg.idleRounds, "idle-rounds", 0, "remove players from the game after this many rounds without a guess, 0 to disable (env: IDLE_ROUNDS)")
	fs.IntVar(&cfg.imageTurnDurationSeconds, "image-turn-duration-seconds", 0, "guessing time for image rounds, 0 to use --turn-duration-seconds (env: IMAGE_TURN_DURATION_SECONDS)")
	fs.StringVar(&cfg.mediaDir, "media-dir", "media", "directory containing photos and videos (env: MEDIA_DIR)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: PROFILE)")
	fs.DurationVar(&cfg.revealDuration, "reveal-duration", 5*time.Second, "how long results are shown between rounds (env: REVEAL_DURATION)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: TLS_KEY)")
	fs.IntVar(&cfg.totalRounds, "total-rounds", 50, "rounds per game (env: TOTAL_ROUNDS)")
	fs.IntVar(&cfg.turnDurationSeconds, "turn-duration-seconds", 120, "guessing time per round (env: TURN_DURATION_SECONDS)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit")

	fs.VisitAll(func(f *pflag.Flag) {
		// VERSION is too common an environment variable to honor.
		if f.Name == "version" {
			return
		}
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("ageguess v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

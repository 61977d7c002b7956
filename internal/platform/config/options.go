package config

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v2"

	"hls-segmenter/internal/segmenter"
)

// Options are the command-line options of the segmenter.
// Flags take precedence over the configuration file, which takes precedence
// over environment variables.
type Options struct {
	Input string `arg:"" optional:"" name:"input" default:"-" help:"MPEG-TS input file, - reads from stdin."`

	BaseURL        string  `short:"b" name:"base-url" default:"${base_url}" help:"URL prepended to segment file names in the playlist."`
	TargetDuration float64 `short:"t" name:"target-duration" default:"${target_duration}" help:"Target segment duration, in seconds."`
	FileBase       string  `short:"f" name:"file-base" default:"${file_base}" help:"Directory where segments and playlists are written."`
	IndexFile      string  `short:"i" name:"index-file" default:"${index_file}" help:"Playlist file name."`
	MediaBase      string  `short:"B" name:"base-media-file-name" default:"${media_base}" help:"Segment file name prefix."`

	AudioOnly     bool   `short:"a" name:"audio-only" xor:"filter" help:"Only segment the audio stream."`
	VideoOnly     bool   `short:"A" name:"video-only" xor:"filter" help:"Only segment the video stream."`
	Live          bool   `short:"s" name:"live" xor:"type" help:"Produce a live playlist with a sliding window."`
	LiveEvent     bool   `short:"e" name:"live-event" xor:"type" help:"Produce an event playlist."`
	WindowEntries uint64 `short:"w" name:"sliding-window-entries" default:"${window_entries}" help:"Number of segments kept in a live playlist, 0 keeps them all."`
	DeleteFiles   bool   `short:"D" name:"delete-files" default:"${delete_files}" help:"Delete segments that left the live window."`

	LogFile   string `short:"l" name:"log-file" default:"${log_file}" help:"Write logs into this file instead of stderr."`
	Quiet     bool   `short:"q" name:"quiet" help:"Only log errors."`
	LogLevel  string `name:"log-level" default:"${log_level}" enum:"debug,info,warn,error" help:"Log level (${enum})."`
	LogFormat string `name:"log-format" default:"${log_format}" enum:"json,text" help:"Log format (${enum})."`
	HTTPAddr  string `name:"http-addr" default:"${http_addr}" help:"Serve /metrics and /jobs on this address."`

	Config  kong.ConfigFlag `name:"config" short:"c" help:"YAML configuration file."`
	Version bool            `short:"v" name:"version" help:"Print version and exit."`
}

// Filter returns the media filter selected by the options.
func (o *Options) Filter() segmenter.MediaFilter {
	switch {
	case o.AudioOnly:
		return segmenter.FilterAudio
	case o.VideoOnly:
		return segmenter.FilterVideo
	}
	return segmenter.FilterAll
}

// PlaylistType returns the playlist type selected by the options.
func (o *Options) PlaylistType() segmenter.PlaylistType {
	switch {
	case o.Live:
		return segmenter.Live
	case o.LiveEvent:
		return segmenter.Event
	}
	return segmenter.VOD
}

// Validate checks option values that kong can't check by itself. kong calls
// it while parsing. Nothing is checked when only the version is requested.
func (o *Options) Validate() error {
	if o.Version {
		return nil
	}
	if o.TargetDuration <= 0 {
		return fmt.Errorf("target duration must be positive, got %v", o.TargetDuration)
	}
	if o.IndexFile == "" {
		return fmt.Errorf("index file name is empty")
	}
	return nil
}

// Vars returns flag defaults, read from the environment.
func Vars() kong.Vars {
	return kong.Vars{
		"base_url":        GetEnv("HLS_BASE_URL", ""),
		"target_duration": strconv.FormatFloat(GetEnvFloat("HLS_TARGET_DURATION", segmenter.DefaultTargetDuration), 'f', -1, 64),
		"file_base":       GetEnv("HLS_FILE_BASE", ""),
		"index_file":      GetEnv("HLS_INDEX_FILE", "prog_index.m3u8"),
		"media_base":      GetEnv("HLS_MEDIA_BASE", "fileSequence"),
		"window_entries":  strconv.Itoa(GetEnvInt("HLS_WINDOW_ENTRIES", 0)),
		"delete_files":    strconv.FormatBool(GetEnvBool("HLS_DELETE_FILES", false)),
		"log_file":        GetEnv("LOG_FILE", ""),
		"log_level":       GetEnv("LOG_LEVEL", "info"),
		"log_format":      GetEnv("LOG_FORMAT", "json"),
		"http_addr":       GetEnv("HTTP_ADDR", ""),
	}
}

// YAMLLoader is a kong configuration loader for YAML files. Keys are flag
// names, with either dashes or underscores.
func YAMLLoader(r io.Reader) (kong.Resolver, error) {
	values := map[string]interface{}{}

	err := yaml.NewDecoder(r).Decode(&values)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("invalid configuration file: %w", err)
	}

	return kong.ResolverFunc(func(_ *kong.Context, _ *kong.Path, flag *kong.Flag) (interface{}, error) {
		for _, key := range []string{flag.Name, strings.ReplaceAll(flag.Name, "-", "_")} {
			if v, ok := values[key]; ok {
				return fmt.Sprint(v), nil
			}
		}
		return nil, nil
	}), nil
}

// NewParser returns the kong parser of the segmenter options.
func NewParser(o *Options, extra ...kong.Option) (*kong.Kong, error) {
	opts := []kong.Option{
		kong.Name("mediasegmenter"),
		kong.Description("Splits a MPEG-TS stream into HLS segments and writes their playlist."),
		kong.UsageOnError(),
		kong.Configuration(YAMLLoader),
		Vars(),
	}

	return kong.New(o, append(opts, extra...)...)
}

// Parse parses command-line arguments.
func Parse(args []string, extra ...kong.Option) (*Options, error) {
	var o Options

	parser, err := NewParser(&o, extra...)
	if err != nil {
		return nil, err
	}

	_, err = parser.Parse(args)
	if err != nil {
		return nil, err
	}

	if o.Version {
		return &o, nil
	}

	err = o.Validate()
	if err != nil {
		return nil, err
	}

	return &o, nil
}

package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Settings is the full process configuration, decoded from YAML.
// Zero values are replaced by defaults in ApplyDefaults.
type Settings struct {
	Server    ServerSettings    `yaml:"server"`
	Session   SessionSettings   `yaml:"session"`
	Audio     AudioSettings     `yaml:"audio"`
	Dialog    DialogSettings    `yaml:"dialog"`
	Backends  BackendSettings   `yaml:"backends"`
	Retrieval RetrievalSettings `yaml:"retrieval"`
	Redis     RedisSettings     `yaml:"redis"`
	CallLog   CallLogSettings   `yaml:"call_log"`
}

type ServerSettings struct {
	Addr string `yaml:"addr"`
}

type SessionSettings struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type AudioSettings struct {
	SampleRate       int           `yaml:"sample_rate"`
	TargetSampleRate int           `yaml:"target_sample_rate"`
	SegmentDuration  time.Duration `yaml:"segment_duration"`
	MaxBufferBytes   int           `yaml:"max_buffer_bytes"`
}

type DialogSettings struct {
	SystemPrompt      string   `yaml:"system_prompt"`
	FallbackUtterance string   `yaml:"fallback_utterance"`
	MaxHistoryTurns   int      `yaml:"max_history_turns"`
	MaxTurns          int      `yaml:"max_turns"`
	FailureThreshold  int      `yaml:"failure_threshold"`
	TransferPhrases   []string `yaml:"transfer_phrases"`
}

type BackendSettings struct {
	GenerationURL     string        `yaml:"generation_url"`
	GenerationModel   string        `yaml:"generation_model"`
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
	SynthesisURL      string        `yaml:"synthesis_url"`
	SynthesisTimeout  time.Duration `yaml:"synthesis_timeout"`
	RecognitionURL    string        `yaml:"recognition_url"`
	MaxConcurrent     int64         `yaml:"max_concurrent"`
	AdmissionTimeout  time.Duration `yaml:"admission_timeout"`
}

type RetrievalSettings struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	Collection string `yaml:"collection"`
	TopInitial int    `yaml:"top_initial"`
	TopFinal   int    `yaml:"top_final"`
}

// RedisSettings selects the Redis Streams transport for the event bus.
// When disabled the bus runs on the in-memory gochannel transport.
type RedisSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

type CallLogSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultSystemPrompt is the support-agent persona used when no prompt
// is configured. It is tuned for spoken, not written, replies.
const DefaultSystemPrompt = `You are a human support agent speaking with a customer over the phone in an IVR call center.
Respond naturally as if you're having a real conversation - use casual, friendly language that sounds natural when spoken aloud.
Keep responses short, direct, and conversational. Avoid formal or robotic language.
Don't mention you're an AI. Speak like a real person helping a customer.
Get straight to the point and provide clear, helpful information.
Use simple sentences that flow naturally in speech.`

const DefaultFallbackUtterance = "Sorry, I didn't catch that. Could you say it again?"

func (s *Settings) ApplyDefaults() {
	if s.Server.Addr == "" {
		s.Server.Addr = ":8080"
	}
	if s.Session.IdleTimeout <= 0 {
		s.Session.IdleTimeout = 2 * time.Minute
	}
	if s.Session.SweepInterval <= 0 {
		s.Session.SweepInterval = 15 * time.Second
	}
	if s.Audio.SampleRate <= 0 {
		s.Audio.SampleRate = 8000
	}
	if s.Audio.TargetSampleRate <= 0 {
		s.Audio.TargetSampleRate = 16000
	}
	if s.Audio.SegmentDuration <= 0 {
		s.Audio.SegmentDuration = 20 * time.Millisecond
	}
	if s.Audio.MaxBufferBytes <= 0 {
		s.Audio.MaxBufferBytes = 512 * 1024
	}
	if s.Dialog.SystemPrompt == "" {
		s.Dialog.SystemPrompt = DefaultSystemPrompt
	}
	if s.Dialog.FallbackUtterance == "" {
		s.Dialog.FallbackUtterance = DefaultFallbackUtterance
	}
	if s.Dialog.MaxHistoryTurns <= 0 {
		s.Dialog.MaxHistoryTurns = 10
	}
	if s.Dialog.MaxTurns <= 0 {
		s.Dialog.MaxTurns = 50
	}
	if s.Dialog.FailureThreshold <= 0 {
		s.Dialog.FailureThreshold = 3
	}
	if len(s.Dialog.TransferPhrases) == 0 {
		s.Dialog.TransferPhrases = []string{
			"talk to a human",
			"talk to an agent",
			"speak to a person",
			"speak to someone",
			"real person",
			"transfer me",
			"customer representative",
		}
	}
	if s.Backends.GenerationURL == "" {
		s.Backends.GenerationURL = "http://localhost:11434/api/chat"
	}
	if s.Backends.GenerationModel == "" {
		s.Backends.GenerationModel = "llama2"
	}
	if s.Backends.GenerationTimeout <= 0 {
		s.Backends.GenerationTimeout = 30 * time.Second
	}
	if s.Backends.SynthesisTimeout <= 0 {
		s.Backends.SynthesisTimeout = 30 * time.Second
	}
	if s.Backends.MaxConcurrent <= 0 {
		s.Backends.MaxConcurrent = 8
	}
	if s.Backends.AdmissionTimeout <= 0 {
		s.Backends.AdmissionTimeout = 5 * time.Second
	}
	if s.Retrieval.TopInitial <= 0 {
		s.Retrieval.TopInitial = 10
	}
	if s.Retrieval.TopFinal <= 0 {
		s.Retrieval.TopFinal = 3
	}
	if s.Redis.Addr == "" {
		s.Redis.Addr = "localhost:6379"
	}
	if s.Redis.Group == "" {
		s.Redis.Group = "switchboard"
	}
	if s.Redis.Consumer == "" {
		s.Redis.Consumer = "switchboard-1"
	}
	if s.CallLog.Path == "" {
		s.CallLog.Path = "switchboard.db"
	}
}

// Load reads settings from a YAML file. A missing path yields defaults.
func Load(path string) (*Settings, error) {
	s := &Settings{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				s.ApplyDefaults()
				return s, nil
			}
			return nil, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(b, s); err != nil {
			return nil, errors.Wrap(err, "parse config file")
		}
	}
	s.ApplyDefaults()
	return s, nil
}

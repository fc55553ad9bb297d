// Package policy loads hangout configuration and exposes it through
// accessors with defaults applied.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jaakkos/hangout/internal/domain"
)

// GlobalStateDir returns the default global state directory (~/.config/hangout).
func GlobalStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "hangout")
}

// GlobalStateFile returns the default session store path.
func GlobalStateFile() string {
	return filepath.Join(GlobalStateDir(), "hangout.sqlite")
}

// SurfaceConfig overrides the usable screen area the overlay spans.
type SurfaceConfig struct {
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// Config holds hangout configuration.
type Config struct {
	StateFile    string   `yaml:"state_file"`
	SignalDir    string   `yaml:"signal_dir"`
	LogFile      string   `yaml:"log_file"`
	EnabledTools []string `yaml:"enabled_tools"`

	Participant string  `yaml:"participant"`
	DisplayName string  `yaml:"display_name"`
	AvatarKind  string  `yaml:"avatar_kind"`
	AvatarSize  float64 `yaml:"avatar_size"`

	Surface       *SurfaceConfig `yaml:"surface"`
	CapturePolicy string         `yaml:"capture_policy"` // forward (default) or toggle

	HoverReleaseMs    int `yaml:"hover_release_ms"`
	GestureDurationMs int `yaml:"gesture_duration_ms"`
	RemoteSettleMs    int `yaml:"remote_settle_ms"`

	NotifyDebounceMs     int `yaml:"notify_debounce_ms"`
	NotifyPollSeconds    int `yaml:"notify_poll_seconds"`
	MembershipTTLSeconds int `yaml:"membership_ttl_seconds"` // 0 disables pruning

	BusBuffer           int    `yaml:"bus_buffer"`
	BridgeSocket        string `yaml:"bridge_socket"`
	PersistencePresence bool   `yaml:"persistence_presence"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		EnabledTools:        []string{"*"},
		AvatarKind:          string(domain.DefaultAvatarKind),
		AvatarSize:          64,
		CapturePolicy:       "forward",
		HoverReleaseMs:      100,
		GestureDurationMs:   2000,
		RemoteSettleMs:      750,
		NotifyDebounceMs:    50,
		NotifyPollSeconds:   10,
		BusBuffer:           64,
		PersistencePresence: true,
	}
}

// LoadConfig loads configuration from a YAML file over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can honour.
func (c *Config) Validate() error {
	switch c.CapturePolicy {
	case "", "forward", "toggle":
	default:
		return fmt.Errorf("config: capture_policy must be forward or toggle, got %q", c.CapturePolicy)
	}
	for name, v := range map[string]int{
		"hover_release_ms":       c.HoverReleaseMs,
		"gesture_duration_ms":    c.GestureDurationMs,
		"remote_settle_ms":       c.RemoteSettleMs,
		"notify_debounce_ms":     c.NotifyDebounceMs,
		"notify_poll_seconds":    c.NotifyPollSeconds,
		"membership_ttl_seconds": c.MembershipTTLSeconds,
		"bus_buffer":             c.BusBuffer,
	} {
		if v < 0 {
			return fmt.Errorf("config: %s must not be negative, got %d", name, v)
		}
	}
	if c.Surface != nil && (c.Surface.Width < 0 || c.Surface.Height < 0) {
		return fmt.Errorf("config: surface size must not be negative")
	}
	return nil
}

// Policy exposes configuration to the rest of the program.
type Policy struct {
	config *Config
	mu     sync.RWMutex // protects participant for runtime changes
}

// New wraps cfg. A nil cfg means DefaultConfig.
func New(cfg *Config) *Policy {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Policy{config: cfg}
}

// StateFile returns the session store path. Relative paths are resolved
// against the global state dir so every process on the machine shares one
// store regardless of working directory.
func (p *Policy) StateFile() string {
	sf := p.config.StateFile
	if sf == "" {
		return GlobalStateFile()
	}
	if filepath.IsAbs(sf) {
		return sf
	}
	return filepath.Join(GlobalStateDir(), sf)
}

// SignalDir returns the directory holding per-space change signal files.
func (p *Policy) SignalDir() string {
	if p.config.SignalDir != "" {
		return p.config.SignalDir
	}
	return filepath.Join(filepath.Dir(p.StateFile()), "signals")
}

// LogFile returns the log file path. "none" or "off" disables file logging.
func (p *Policy) LogFile() string {
	if p.config.LogFile == "" {
		return filepath.Join(GlobalStateDir(), "hangout.log")
	}
	return p.config.LogFile
}

// IsToolEnabled checks if an MCP tool is enabled.
func (p *Policy) IsToolEnabled(name string) bool {
	for _, t := range p.config.EnabledTools {
		if t == "*" || t == name {
			return true
		}
	}
	return false
}

// Participant returns the local participant id: the configured one, else $USER.
func (p *Policy) Participant() domain.ParticipantID {
	p.mu.RLock()
	id := p.config.Participant
	p.mu.RUnlock()
	if id != "" {
		return domain.ParticipantID(id)
	}
	if u := os.Getenv("USER"); u != "" {
		return domain.ParticipantID(u)
	}
	return "me"
}

// SetParticipant changes the local participant at runtime.
func (p *Policy) SetParticipant(id domain.ParticipantID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config.Participant = string(id)
}

// DisplayName returns the name registered in the display directory on join.
func (p *Policy) DisplayName() string {
	if p.config.DisplayName != "" {
		return p.config.DisplayName
	}
	return string(p.Participant())
}

func (p *Policy) AvatarKind() domain.AvatarKind {
	if p.config.AvatarKind == "" {
		return domain.DefaultAvatarKind
	}
	return domain.AvatarKind(p.config.AvatarKind)
}

func (p *Policy) AvatarSize() float64 {
	if p.config.AvatarSize <= 0 {
		return 64
	}
	return p.config.AvatarSize
}

// UsableArea returns the configured surface area, or 1920x1080 at the origin.
func (p *Policy) UsableArea() domain.Bounds {
	s := p.config.Surface
	if s == nil || s.Width <= 0 || s.Height <= 0 {
		return domain.Bounds{Width: 1920, Height: 1080}
	}
	return domain.Bounds{X: s.X, Y: s.Y, Width: s.Width, Height: s.Height}
}

// CapturePolicy returns "forward" or "toggle".
func (p *Policy) CapturePolicy() string {
	if p.config.CapturePolicy == "" {
		return "forward"
	}
	return p.config.CapturePolicy
}

func (p *Policy) HoverRelease() time.Duration {
	return millis(p.config.HoverReleaseMs, 100)
}

func (p *Policy) GestureDuration() time.Duration {
	return millis(p.config.GestureDurationMs, 2000)
}

func (p *Policy) RemoteSettle() time.Duration {
	return millis(p.config.RemoteSettleMs, 750)
}

// NotifyDebounce returns the change notification coalescing window. Zero is
// honoured and fires immediately.
func (p *Policy) NotifyDebounce() time.Duration {
	return time.Duration(p.config.NotifyDebounceMs) * time.Millisecond
}

func (p *Policy) NotifyPollInterval() time.Duration {
	if p.config.NotifyPollSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(p.config.NotifyPollSeconds) * time.Second
}

// MembershipTTL returns how long a membership may go unseen before it is
// pruned. Zero disables pruning.
func (p *Policy) MembershipTTL() time.Duration {
	return time.Duration(p.config.MembershipTTLSeconds) * time.Second
}

func (p *Policy) BusBuffer() int {
	if p.config.BusBuffer <= 0 {
		return 64
	}
	return p.config.BusBuffer
}

// BridgeSocket returns the unix socket a separate overlay process listens on.
func (p *Policy) BridgeSocket() string {
	if p.config.BridgeSocket != "" {
		return p.config.BridgeSocket
	}
	return filepath.Join(GlobalStateDir(), "overlay.sock")
}

// PersistencePresence reports whether remote avatars stay visible from their
// membership alone when the bus is unreachable.
func (p *Policy) PersistencePresence() bool {
	return p.config.PersistencePresence
}

func millis(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Millisecond
}

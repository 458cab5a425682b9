package loader

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tradegate/internal/logger"
	"tradegate/internal/policy"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// FileConfig 是完整的门限 profile 配置文件结构。
type FileConfig struct {
	Profiles map[string]policy.ThresholdProfile `mapstructure:"profiles"`
}

// ProfileSnapshot 对外暴露的只读快照。
type ProfileSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]policy.ThresholdProfile
}

// ChangeListener 在配置变更时被调用。
type ChangeListener func(ProfileSnapshot)

// ProfileLoader 从 YAML 加载门限 profile 并监听热更新。热更新只替换快照；
// 生产模式的 overlay 与安全下限在每次 Resolve 时独立复核，坏文件放不宽实盘。
type ProfileLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  ProfileSnapshot
	listeners []ChangeListener
}

// NewProfileLoader 读取配置文件并开始监听 FS 事件。
func NewProfileLoader(path string) (*ProfileLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read profile config failed: %w", err)
	}
	l := &ProfileLoader{path: path, v: v}
	if err := l.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := l.reload(); err != nil {
			// Keep serving the last valid snapshot; a broken edit must not
			// take the process down or, worse, blank the profile table.
			logger.Errorf("profile reload failed (%s): %v", evt.Name, err)
			return
		}
		l.notify()
	})
	v.WatchConfig()
	return l, nil
}

// Snapshot 返回当前配置快照（深拷贝）。
func (l *ProfileLoader) Snapshot() ProfileSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Profile implements policy.ProfileSource against the live snapshot.
func (l *ProfileLoader) Profile(name string) (policy.ThresholdProfile, bool) {
	name = strings.TrimSpace(name)
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.snapshot.Profiles[name]
	return p, ok
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *ProfileLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go safeNotify(fn, snap)
}

func (l *ProfileLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go safeNotify(fn, snap)
	}
}

func safeNotify(fn ChangeListener, snap ProfileSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("profile listener panic: %v", r)
		}
	}()
	fn(snap)
}

func (l *ProfileLoader) reload() error {
	var fileCfg FileConfig
	if err := l.v.Unmarshal(&fileCfg); err != nil {
		return fmt.Errorf("parse profile config failed: %w", err)
	}
	if len(fileCfg.Profiles) == 0 {
		return fmt.Errorf("profile file %s defines no profiles", l.path)
	}
	normalized := make(map[string]policy.ThresholdProfile, len(fileCfg.Profiles))
	for name, def := range fileCfg.Profiles {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		def.Name = name
		if err := validateProfile(def); err != nil {
			return fmt.Errorf("profile %s: %w", name, err)
		}
		normalized[name] = def
	}
	l.mu.Lock()
	l.snapshot = ProfileSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: normalized,
	}
	version := l.snapshot.Version
	l.mu.Unlock()
	logger.Infof("profile loader: loaded %d profiles from %s (version=%d)",
		len(normalized), filepath.Base(l.path), version)
	return nil
}

func validateProfile(p policy.ThresholdProfile) error {
	for key, v := range map[string]float64{
		"min_trust_score":      p.MinTrust,
		"min_confidence_score": p.MinConfidence,
		"min_signal_score":     p.MinSignal,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s out of range [0,100]: %v", key, v)
		}
	}
	return nil
}

func cloneSnapshot(in ProfileSnapshot) ProfileSnapshot {
	out := ProfileSnapshot{Version: in.Version, LoadedAt: in.LoadedAt}
	if in.Profiles != nil {
		out.Profiles = make(map[string]policy.ThresholdProfile, len(in.Profiles))
		for k, v := range in.Profiles {
			out.Profiles[k] = v
		}
	}
	return out
}

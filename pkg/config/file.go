package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/flowlab/flowcal/pkg/calibration"
	"github.com/flowlab/flowcal/pkg/link"
	"github.com/flowlab/flowcal/pkg/session"
	"github.com/flowlab/flowcal/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		Port:                  ptr.To(""),
		BaudRate:              ptr.To(link.DefaultBaudRate),
		ReadTimeoutMillis:     ptr.To(int(session.DefaultReadTimeout / time.Millisecond)),
		SessionTimeoutSeconds: ptr.To(int(session.DefaultTimeout / time.Second)),
		AccuracyConvention:    ptr.To(string(calibration.AccuracyAbsolute)),
		OffsetPolicy:          ptr.To(string(calibration.OffsetOverwrite)),
		VelocityFactor:        ptr.To(1.0),
		PollIntervalMillis:    ptr.To(100),
		ConsoleHistory:        ptr.To(200),
		AllowNonRootAccess:    ptr.To(false),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

type RawFileConfig struct {
	Port                  *string  `json:"port,omitempty"`
	BaudRate              *int     `json:"baudRate,omitempty"`
	ReadTimeoutMillis     *int     `json:"readTimeoutMillis,omitempty"`
	SessionTimeoutSeconds *int     `json:"sessionTimeoutSeconds,omitempty"`
	AccuracyConvention    *string  `json:"accuracyConvention,omitempty"`
	OffsetPolicy          *string  `json:"offsetPolicy,omitempty"`
	VelocityFactor        *float64 `json:"velocityFactor,omitempty"`
	PollIntervalMillis    *int     `json:"pollIntervalMillis,omitempty"`
	ConsoleHistory        *int     `json:"consoleHistory,omitempty"`
	AllowNonRootAccess    *bool    `json:"allowNonRootAccess,omitempty"`
}

// NewRawFileConfigFromConfig returns the effective values of c, defaults
// filled in.
func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	rawConfig := &RawFileConfig{
		Port:                  ptr.To(c.Port()),
		BaudRate:              ptr.To(c.BaudRate()),
		ReadTimeoutMillis:     ptr.To(int(c.ReadTimeout() / time.Millisecond)),
		SessionTimeoutSeconds: ptr.To(int(c.SessionTimeout() / time.Second)),
		AccuracyConvention:    ptr.To(string(c.AccuracyConvention())),
		OffsetPolicy:          ptr.To(string(c.OffsetPolicy())),
		VelocityFactor:        ptr.To(c.VelocityFactor()),
		PollIntervalMillis:    ptr.To(int(c.PollInterval() / time.Millisecond)),
		ConsoleHistory:        ptr.To(c.ConsoleHistory()),
		AllowNonRootAccess:    ptr.To(c.AllowNonRootAccess()),
	}

	return rawConfig, nil
}

// Validate rejects values that cannot be used. Missing values are fine.
func (r *RawFileConfig) Validate() error {
	if r.BaudRate != nil && *r.BaudRate <= 0 {
		return pkgerrors.Errorf("baudRate must be positive, got %d", *r.BaudRate)
	}
	if r.ReadTimeoutMillis != nil && *r.ReadTimeoutMillis <= 0 {
		return pkgerrors.Errorf("readTimeoutMillis must be positive, got %d", *r.ReadTimeoutMillis)
	}
	if r.AccuracyConvention != nil {
		if _, err := calibration.ParseAccuracyConvention(*r.AccuracyConvention); err != nil {
			return err
		}
	}
	if r.OffsetPolicy != nil {
		if _, err := calibration.ParseOffsetPolicy(*r.OffsetPolicy); err != nil {
			return err
		}
	}
	if r.VelocityFactor != nil && *r.VelocityFactor <= 0 {
		return pkgerrors.Errorf("velocityFactor must be positive, got %v", *r.VelocityFactor)
	}
	if r.PollIntervalMillis != nil && *r.PollIntervalMillis < 0 {
		return pkgerrors.Errorf("pollIntervalMillis must not be negative, got %d", *r.PollIntervalMillis)
	}
	if r.ConsoleHistory != nil && *r.ConsoleHistory <= 0 {
		return pkgerrors.Errorf("consoleHistory must be positive, got %d", *r.ConsoleHistory)
	}
	return nil
}

func (f *File) Port() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.c.Port, *defaultFileConfig.Port)
}

func (f *File) BaudRate() int {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.c.BaudRate, *defaultFileConfig.BaudRate)
}

func (f *File) ReadTimeout() time.Duration {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	ms := ptr.Deref(f.c.ReadTimeoutMillis, *defaultFileConfig.ReadTimeoutMillis)
	return time.Duration(ms) * time.Millisecond
}

func (f *File) SessionTimeout() time.Duration {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	secs := ptr.Deref(f.c.SessionTimeoutSeconds, *defaultFileConfig.SessionTimeoutSeconds)
	return session.ClampTimeout(time.Duration(secs) * time.Second)
}

func (f *File) AccuracyConvention() calibration.AccuracyConvention {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	c, err := calibration.ParseAccuracyConvention(ptr.Deref(f.c.AccuracyConvention, *defaultFileConfig.AccuracyConvention))
	if err != nil {
		logrus.WithError(err).Warn("invalid accuracy convention in config, using default")
		return calibration.AccuracyConvention(*defaultFileConfig.AccuracyConvention)
	}
	return c
}

func (f *File) OffsetPolicy() calibration.OffsetPolicy {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	p, err := calibration.ParseOffsetPolicy(ptr.Deref(f.c.OffsetPolicy, *defaultFileConfig.OffsetPolicy))
	if err != nil {
		logrus.WithError(err).Warn("invalid offset policy in config, using default")
		return calibration.OffsetPolicy(*defaultFileConfig.OffsetPolicy)
	}
	return p
}

func (f *File) VelocityFactor() float64 {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.c.VelocityFactor, *defaultFileConfig.VelocityFactor)
}

func (f *File) PollInterval() time.Duration {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	ms := ptr.Deref(f.c.PollIntervalMillis, *defaultFileConfig.PollIntervalMillis)
	return time.Duration(ms) * time.Millisecond
}

func (f *File) ConsoleHistory() int {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.c.ConsoleHistory, *defaultFileConfig.ConsoleHistory)
}

func (f *File) AllowNonRootAccess() bool {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.c.AllowNonRootAccess, *defaultFileConfig.AllowNonRootAccess)
}

func (f *File) SetPort(port string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Port = &port
}

func (f *File) SetAccuracyConvention(c calibration.AccuracyConvention) {
	if f.c == nil {
		panic("config is nil")
	}

	if _, err := calibration.ParseAccuracyConvention(string(c)); err != nil {
		panic(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.AccuracyConvention = ptr.To(string(c))
}

func (f *File) SetOffsetPolicy(p calibration.OffsetPolicy) {
	if f.c == nil {
		panic("config is nil")
	}

	if _, err := calibration.ParseOffsetPolicy(string(p)); err != nil {
		panic(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.OffsetPolicy = ptr.To(string(p))
}

func (f *File) SetAllowNonRootAccess(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.AllowNonRootAccess = &b
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	if err := conf.Validate(); err != nil {
		return pkgerrors.Wrapf(err, "invalid config in file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"port":               f.Port(),
		"baudRate":           f.BaudRate(),
		"readTimeout":        f.ReadTimeout(),
		"sessionTimeout":     f.SessionTimeout(),
		"accuracyConvention": f.AccuracyConvention(),
		"offsetPolicy":       f.OffsetPolicy(),
		"velocityFactor":     f.VelocityFactor(),
		"pollInterval":       f.PollInterval(),
		"consoleHistory":     f.ConsoleHistory(),
		"allowNonRootAccess": f.AllowNonRootAccess(),
	}
}

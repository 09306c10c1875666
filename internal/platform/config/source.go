package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

// WithEnvFile changes the dotenv file; "" disables it. The default is ".env" in the working
// directory and a missing file is not an error.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that win over every other source. Blank values are ignored.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets names secret-backed fields ("MySQL.DSN", "Redis.Password") that must resolve
// to a non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

func newLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: ".env", useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// source layers the configuration inputs on a private viper instance.
type source struct {
	*viper.Viper
}

func newSource(o loaderOptions) (source, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	if err := readEnvFile(v, o.envFile); err != nil {
		return source{}, err
	}
	if o.useSystemEnv {
		v.AutomaticEnv()
	}
	for key, value := range o.envMap {
		if strings.TrimSpace(value) != "" {
			v.Set(key, value)
		}
	}
	return source{v}, nil
}

func readEnvFile(v *viper.Viper, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	return nil
}

func (s source) str(key string) string {
	return strings.TrimSpace(s.GetString(key))
}

func (s source) lower(key string) string {
	return strings.ToLower(s.str(key))
}

// list splits a comma separated value, dropping blanks.
func (s source) list(key string) []string {
	var out []string
	for _, part := range strings.Split(s.GetString(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pairs parses "name=value,name=value". Names are lower-cased and malformed entries skipped.
func (s source) pairs(key string) map[string]string {
	out := map[string]string{}
	for _, entry := range s.list(key) {
		name, value, ok := strings.Cut(entry, "=")
		name, value = strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(value)
		if ok && name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}

// EnvironmentValues returns the raw key/value inputs Load would see, without defaults, so that
// bootstrap code (logger, secret resolver) can read settings before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	o := newLoaderOptions(opts)
	values := make(map[string]string)

	file := viper.New()
	if err := readEnvFile(file, o.envFile); err != nil {
		return nil, err
	}
	for _, key := range file.AllKeys() {
		values[strings.ToUpper(key)] = file.GetString(key)
	}
	if o.useSystemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				values[key] = value
			}
		}
	}
	for key, value := range o.envMap {
		values[key] = value
	}
	return values, nil
}

package config

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// CatalogItem is a default category or payment method offered to new users.
// A nil IsDefault is treated as true.
type CatalogItem struct {
	Name      string `mapstructure:"name"`
	IsDefault *bool  `mapstructure:"isDefault"`
}

func (i CatalogItem) Default() bool {
	return i.IsDefault == nil || *i.IsDefault
}

type CatalogConfig struct {
	Categories     []CatalogItem `mapstructure:"categories"`
	PaymentMethods []CatalogItem `mapstructure:"paymentMethods"`
}

func DefaultCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Categories: []CatalogItem{
			{Name: "Food & Dining"},
			{Name: "Transportation"},
			{Name: "Shopping"},
			{Name: "Bills & Utilities"},
			{Name: "Entertainment"},
			{Name: "Healthcare"},
			{Name: "Education"},
			{Name: "Travel"},
			{Name: "Other"},
		},
		PaymentMethods: []CatalogItem{
			{Name: "Cash"},
			{Name: "Credit Card"},
			{Name: "Debit Card"},
			{Name: "Bank Transfer"},
			{Name: "Digital Wallet", IsDefault: boolPtr(false)},
		},
	}
}

func boolPtr(v bool) *bool { return &v }

type CatalogHolder struct {
	current atomic.Value // holds CatalogConfig

	mu        sync.Mutex
	listeners []func(CatalogConfig)
}

// NewCatalogHolder loads catalog.yml and keeps it current while the file changes.
// An explicit path takes precedence over the search paths.
func NewCatalogHolder(path string) (*CatalogHolder, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("catalog")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/fintrack")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FINTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fromFile := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read catalog config: %w", err)
		}
		fromFile = false
	}

	cfg := DefaultCatalogConfig()
	if fromFile {
		var loaded CatalogConfig
		if err := v.UnmarshalKey("catalog", &loaded); err != nil {
			return nil, err
		}
		if err := validateCatalogConfig(loaded); err != nil {
			return nil, err
		}
		cfg = loaded
	}

	holder := &CatalogHolder{}
	holder.current.Store(cfg)

	if fromFile {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated CatalogConfig
			if err := v.UnmarshalKey("catalog", &updated); err != nil {
				log.Printf("[catalog-config] reload failed: %v", err)
				return
			}
			if err := validateCatalogConfig(updated); err != nil {
				log.Printf("[catalog-config] invalid config ignored: %v", err)
				return
			}
			holder.store(updated)
			log.Printf("[catalog-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

func NewStaticCatalogHolder(cfg CatalogConfig) *CatalogHolder {
	holder := &CatalogHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *CatalogHolder) Get() CatalogConfig {
	return h.current.Load().(CatalogConfig)
}

// OnChange registers fn to run after every successful reload.
func (h *CatalogHolder) OnChange(fn func(CatalogConfig)) {
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

func (h *CatalogHolder) store(cfg CatalogConfig) {
	h.current.Store(cfg)
	h.mu.Lock()
	listeners := slices.Clone(h.listeners)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

func validateCatalogConfig(cfg CatalogConfig) error {
	if len(cfg.Categories) == 0 {
		return errors.New("catalog.categories cannot be empty")
	}
	if len(cfg.PaymentMethods) == 0 {
		return errors.New("catalog.paymentMethods cannot be empty")
	}
	for _, item := range append(append([]CatalogItem{}, cfg.Categories...), cfg.PaymentMethods...) {
		if strings.TrimSpace(item.Name) == "" {
			return errors.New("catalog item name cannot be empty")
		}
	}
	return nil
}

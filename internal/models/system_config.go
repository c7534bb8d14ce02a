package models

import (
	"encoding/json"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"keypool/internal/utils"
)

// Known system configuration keys
const (
	ConfigKeyPoolSize               = "key_pool_size"
	ConfigKeySelectionStrategy      = "key_selection_strategy"
	ConfigKeyUAList                 = "ua_list"
	ConfigKeyProxyList              = "proxy_list"
	ConfigKeyLogConversationContent = "log_conversation_content"
	ConfigKeyOpenAIModels           = "openai_models"
	ConfigKeyAnthropicModels        = "anthropic_models"
	ConfigKeySystem                 = "system_config"
)

// Pool size bounds
const (
	MinPoolSize = 1
	MaxPoolSize = 100
)

// ReadonlyConfigKeys can be read through the API but never saved
var ReadonlyConfigKeys = []string{ConfigKeySystem}

// SelectionStrategy names the active pool selection algorithm
type SelectionStrategy string

// StrategyRandom samples the active pool uniformly without replacement
const StrategyRandom SelectionStrategy = "random"

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var defaultOpenAIModels = []string{
	"gpt-3.5-turbo", "gpt-3.5-turbo-0125", "gpt-3.5-turbo-0613", "gpt-3.5-turbo-1106",
	"gpt-3.5-turbo-16k", "gpt-4", "gpt-4-0125-preview", "gpt-4-0613", "gpt-4-1106-preview",
	"gpt-4-32k", "gpt-4-32k-0613", "gpt-4-turbo", "gpt-4-turbo-preview", "gpt-4-vision-preview",
	"gpt-4o", "gpt-4o-2024-05-13", "gpt-4o-2024-08-06", "gpt-4o-mini", "o1", "o1-mini", "o1-preview",
}

var defaultAnthropicModels = []string{
	"claude-3-5-sonnet-20240620", "claude-3-5-sonnet-20241022", "claude-3-haiku",
	"claude-3-haiku-20240307", "claude-3-opus", "claude-3-opus-20240229", "claude-3-sonnet",
	"claude-3-sonnet-20240229", "claude-3.5-sonnet", "claude-sonnet-4", "claude-sonnet-4-20250514",
}

// ConfigDescriptions are stored as the memo of seeded rows
var ConfigDescriptions = map[string]string{
	ConfigKeyPoolSize:               "Number of keys in the active rotation pool (1-100)",
	ConfigKeySelectionStrategy:      "Active pool selection strategy (random)",
	ConfigKeyUAList:                 "User-Agent strings assigned to keys (JSON array)",
	ConfigKeyProxyList:              "Proxy URLs assigned to keys (JSON array, http/https/socks5)",
	ConfigKeyLogConversationContent: "Persist request and response bodies in usage logs",
	ConfigKeyOpenAIModels:           "Allowed OpenAI model identifiers (JSON array)",
	ConfigKeyAnthropicModels:        "Allowed Anthropic model identifiers (JSON array)",
}

// ConfigEntry is one row of the system_configs table
type ConfigEntry struct {
	ID        int64     `db:"id"`
	Key       string    `db:"config_key"`
	Value     string    `db:"config_value"`
	Memo      *string   `db:"memo"`
	CreatedAt time.Time `db:"create_time"`
	UpdatedAt time.Time `db:"update_time"`
}

// SystemConfig is the typed view of the flat key/value configuration.
// The raw map never travels past the config store.
type SystemConfig struct {
	PoolSize               int
	Strategy               SelectionStrategy
	UAList                 []string
	ProxyList              []string
	LogConversationContent bool
	OpenAIModels           []string
	AnthropicModels        []string

	// Extra keeps keys this version does not interpret
	Extra map[string]string
}

// DefaultSystemConfig returns the configuration used for missing keys
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		PoolSize:               5,
		Strategy:               StrategyRandom,
		UAList:                 []string{defaultUserAgent},
		ProxyList:              []string{},
		LogConversationContent: false,
		OpenAIModels:           slices.Clone(defaultOpenAIModels),
		AnthropicModels:        slices.Clone(defaultAnthropicModels),
		Extra:                  map[string]string{},
	}
}

// IsReadonlyConfigKey reports whether key may not be written through the API
func IsReadonlyConfigKey(key string) bool {
	return slices.Contains(ReadonlyConfigKeys, key)
}

// ParseSystemConfig applies values on top of the defaults, failing on the first invalid value
func ParseSystemConfig(values map[string]string) (SystemConfig, error) {
	cfg := DefaultSystemConfig()
	for _, key := range slices.Sorted(maps.Keys(values)) {
		if err := cfg.Apply(key, values[key]); err != nil {
			return SystemConfig{}, err
		}
	}
	return cfg, nil
}

// Apply parses and sets a single key
func (c *SystemConfig) Apply(key, value string) error {
	switch key {
	case ConfigKeyPoolSize:
		n, err := ParsePoolSize(value)
		if err != nil {
			return err
		}
		c.PoolSize = n
	case ConfigKeySelectionStrategy:
		s, err := ParseSelectionStrategy(value)
		if err != nil {
			return err
		}
		c.Strategy = s
	case ConfigKeyUAList:
		list, err := ParseStringList(key, value, true)
		if err != nil {
			return err
		}
		c.UAList = list
	case ConfigKeyProxyList:
		list, err := ParseProxyList(value)
		if err != nil {
			return err
		}
		c.ProxyList = list
	case ConfigKeyLogConversationContent:
		b, err := ParseBool(key, value)
		if err != nil {
			return err
		}
		c.LogConversationContent = b
	case ConfigKeyOpenAIModels:
		list, err := ParseStringList(key, value, true)
		if err != nil {
			return err
		}
		c.OpenAIModels = list
	case ConfigKeyAnthropicModels:
		list, err := ParseStringList(key, value, true)
		if err != nil {
			return err
		}
		c.AnthropicModels = list
	default:
		if c.Extra == nil {
			c.Extra = map[string]string{}
		}
		c.Extra[key] = value
	}
	return nil
}

// Values encodes the configuration back into its flat storage form
func (c SystemConfig) Values() map[string]string {
	values := make(map[string]string, len(c.Extra)+7)
	maps.Copy(values, c.Extra)
	values[ConfigKeyPoolSize] = strconv.Itoa(c.PoolSize)
	values[ConfigKeySelectionStrategy] = string(c.Strategy)
	values[ConfigKeyUAList] = encodeList(c.UAList)
	values[ConfigKeyProxyList] = encodeList(c.ProxyList)
	values[ConfigKeyLogConversationContent] = strconv.FormatBool(c.LogConversationContent)
	values[ConfigKeyOpenAIModels] = encodeList(c.OpenAIModels)
	values[ConfigKeyAnthropicModels] = encodeList(c.AnthropicModels)
	return values
}

// HasUserAgent reports whether ua is an allowed User-Agent
func (c SystemConfig) HasUserAgent(ua string) bool {
	return slices.Contains(c.UAList, ua)
}

// HasProxy reports whether proxy is an allowed proxy URL
func (c SystemConfig) HasProxy(proxy string) bool {
	return slices.Contains(c.ProxyList, proxy)
}

// ParsePoolSize parses key_pool_size
func ParsePoolSize(value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, utils.Errorf(utils.ErrInvalidArgument, "%s must be an integer: %q", ConfigKeyPoolSize, value)
	}
	if n < MinPoolSize || n > MaxPoolSize {
		return 0, utils.Errorf(utils.ErrInvalidArgument, "%s must be between %d and %d, got %d",
			ConfigKeyPoolSize, MinPoolSize, MaxPoolSize, n)
	}
	return n, nil
}

// ParseSelectionStrategy parses key_selection_strategy. The legacy value "0" means random.
func ParseSelectionStrategy(value string) (SelectionStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "random", "0":
		return StrategyRandom, nil
	default:
		return "", utils.Errorf(utils.ErrInvalidArgument, "unsupported %s %q", ConfigKeySelectionStrategy, value)
	}
}

// ParseBool parses "true"/"false" style flags
func ParseBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, utils.Errorf(utils.ErrInvalidArgument, "%s must be true or false: %q", key, value)
	}
	return b, nil
}

// ParseStringList decodes a JSON array of strings, trimming entries and dropping blanks
func ParseStringList(key, value string, requireNonEmpty bool) ([]string, error) {
	var raw []string
	if err := json.Unmarshal([]byte(value), &raw); err != nil {
		return nil, utils.Errorf(utils.ErrInvalidArgument, "%s must be a JSON array of strings", key)
	}
	list := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" && !slices.Contains(list, item) {
			list = append(list, item)
		}
	}
	if requireNonEmpty && len(list) == 0 {
		return nil, utils.Errorf(utils.ErrInvalidArgument, "%s must not be empty", key)
	}
	return list, nil
}

// ParseProxyList decodes proxy_list and validates each URL
func ParseProxyList(value string) ([]string, error) {
	list, err := ParseStringList(ConfigKeyProxyList, value, false)
	if err != nil {
		return nil, err
	}
	for _, p := range list {
		if err := ValidateProxyURL(p); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// ValidateProxyURL accepts http://, https:// and socks5:// URLs with a host
func ValidateProxyURL(proxy string) error {
	u, err := url.Parse(proxy)
	if err != nil || u.Host == "" {
		return utils.Errorf(utils.ErrInvalidArgument, "malformed proxy URL %q", proxy)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
		return nil
	default:
		return utils.Errorf(utils.ErrInvalidArgument, "proxy URL %q must use http, https or socks5", proxy)
	}
}

func encodeList(list []string) string {
	if list == nil {
		list = []string{}
	}
	b, _ := json.Marshal(list)
	return string(b)
}

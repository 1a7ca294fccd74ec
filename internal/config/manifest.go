package config

import (
	"os"
	"path/filepath"
	"strings"

	"dca-ladder-bot-go/internal/models"
	"dca-ladder-bot-go/internal/strategy"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// 清单类型
const (
	KindBot  = "bot"
	KindBind = "bind"
)

// Manifest 是 apply 命令读取的清单, Bot 与 Binding 二者取其一
type Manifest struct {
	Kind    string
	Bot     *models.Bot
	Binding *models.ApiCredential
}

type manifestFile struct {
	Kind string `toml:"kind" yaml:"kind"`

	// kind = "bot"
	Title      string            `toml:"title" yaml:"title"`
	General    generalSection    `toml:"general" yaml:"general"`
	Parameters parametersSection `toml:"parameters" yaml:"parameters"`
	Margin     marginSection     `toml:"margin" yaml:"margin"`

	// kind = "bind"
	Platform  string `toml:"platform" yaml:"platform"`
	APIKey    string `toml:"api_key" yaml:"api_key"`
	SecretKey string `toml:"secret_key" yaml:"secret_key"`
}

type generalSection struct {
	Pair     string `toml:"pair" yaml:"pair"`
	Base     string `toml:"base" yaml:"base"`
	Quote    string `toml:"quote" yaml:"quote"`
	Platform string `toml:"platform" yaml:"platform"`
	Strategy string `toml:"strategy" yaml:"strategy"`
}

type parametersSection struct {
	Cycle      string               `toml:"cycle" yaml:"cycle"`
	FirstBuyIn float64              `toml:"first_buy_in" yaml:"first_buy_in"`
	Entry      models.OpenCriteria  `toml:"entry" yaml:"entry"`
	TakeProfit models.CloseCriteria `toml:"take_profit" yaml:"take_profit"`
}

type marginSection struct {
	MarginConfiguration []models.OpenCriteria `toml:"margin_configuration" yaml:"margin_configuration"`
}

// LoadManifest 按扩展名 (.toml / .yaml / .yml) 解析清单并校验
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.ConfigurationError("read manifest %s: %v", path, err)
	}
	return ParseManifest(data, filepath.Ext(path))
}

// ParseManifest 解析清单内容, ext 决定格式
func ParseManifest(data []byte, ext string) (*Manifest, error) {
	var f manifestFile
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(string(data), &f); err != nil {
			return nil, models.ConfigurationError("parse toml manifest: %v", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, models.ConfigurationError("parse yaml manifest: %v", err)
		}
	default:
		return nil, models.ConfigurationError("unsupported manifest format %q", ext)
	}

	m := &Manifest{Kind: f.Kind}
	switch f.Kind {
	case KindBot:
		bot := f.bot()
		if err := ValidateBot(bot); err != nil {
			return nil, err
		}
		m.Bot = &bot
	case KindBind:
		cred := models.ApiCredential{Platform: f.Platform, APIKey: f.APIKey, SecretKey: f.SecretKey}
		if err := ValidateBinding(cred); err != nil {
			return nil, err
		}
		m.Binding = &cred
	default:
		return nil, models.ConfigurationError("unknown manifest kind %q", f.Kind)
	}
	return m, nil
}

func (f manifestFile) bot() models.Bot {
	return models.Bot{
		Title:    f.Title,
		Pair:     strings.ToUpper(f.General.Pair),
		Base:     strings.ToUpper(f.General.Base),
		Quote:    strings.ToUpper(f.General.Quote),
		Platform: strings.ToLower(f.General.Platform),
		Strategy: strings.ToLower(f.General.Strategy),
		Cycle:    f.Parameters.Cycle,
		Config: models.StrategyConfig{
			FirstBuyIn:   f.Parameters.FirstBuyIn,
			Entry:        f.Parameters.Entry,
			TakeProfit:   f.Parameters.TakeProfit,
			MarginLadder: f.Margin.MarginConfiguration,
		},
		Status: models.BotPaused,
	}
}

// ValidateBot 拒绝无法运行的机器人定义
func ValidateBot(b models.Bot) error {
	if b.Title == "" {
		return models.ConfigurationError("bot title is required")
	}
	if b.Pair == "" || b.Base == "" || b.Quote == "" {
		return models.ConfigurationError("bot %s: pair, base and quote are required", b.Title)
	}
	if b.Base+b.Quote != b.Pair {
		return models.ConfigurationError("bot %s: pair %s does not match %s/%s", b.Title, b.Pair, b.Base, b.Quote)
	}
	if b.Platform != models.PlatformBinance {
		return models.ConfigurationError("bot %s: unknown platform %q", b.Title, b.Platform)
	}
	if _, ok := KlineIntervals[b.Cycle]; !ok {
		return models.ConfigurationError("bot %s: unsupported cycle %q", b.Title, b.Cycle)
	}
	if _, err := strategy.New(b.Strategy, b.Config); err != nil {
		return err
	}
	return nil
}

// ValidateBinding 检查API密钥绑定
func ValidateBinding(c models.ApiCredential) error {
	if c.Platform != models.PlatformBinance {
		return models.ConfigurationError("unknown platform %q", c.Platform)
	}
	if c.APIKey == "" || c.SecretKey == "" {
		return models.ConfigurationError("binding for %s: api_key and secret_key are required", c.Platform)
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hoccoo/internal/domain"
	"hoccoo/internal/gacha"
)

// Config models hoccoo.yml.
type Config struct {
	App struct {
		Title    string `yaml:"title" json:"title"`
		Password string `yaml:"password" json:"-"`
		HandSize int    `yaml:"hand_size" json:"hand_size"`
	} `yaml:"app" json:"app"`
	Matching struct {
		CompletionWords []string `yaml:"completion_words" json:"completion_words"`
	} `yaml:"matching" json:"matching"`
	Actions  domain.Catalog  `yaml:"actions" json:"actions"`
	People   []domain.Person `yaml:"people" json:"people"`
	Rewards  RewardsConfig   `yaml:"rewards" json:"rewards"`
	Reveal   RevealConfig    `yaml:"reveal" json:"reveal"`
	Log      LogConfig       `yaml:"log" json:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type RewardsConfig struct {
	HandSize int           `yaml:"hand_size" json:"hand_size"`
	Rarities gacha.Table   `yaml:"rarities" json:"rarities"`
	Items    []domain.Item `yaml:"items" json:"items"`
}

type RevealConfig struct {
	Lines    []string      `yaml:"lines" json:"lines"`
	Step     time.Duration `yaml:"step" json:"step"`
	Duration time.Duration `yaml:"duration" json:"duration"`
}

type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file,omitempty"`
	Console    bool   `yaml:"console" json:"console"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

type WebhookConfig struct {
	URL     string   `yaml:"url" json:"url"`
	Secret  string   `yaml:"secret" json:"-"`
	Events  []string `yaml:"events" json:"events,omitempty"`
	Enabled *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Load reads and validates config from workspace, falling back to the
// built-in default when no file exists.
func Load(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return Default(), nil
	}
	return cfg, nil
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate checks the catalogs the engine cannot run without. Empty rosters
// and catalogs are reported here, at startup, rather than during generation.
func (c *Config) Validate() error {
	if c.App.HandSize <= 0 {
		return fmt.Errorf("config.app.hand_size must be positive")
	}
	if c.App.Password == "" {
		return fmt.Errorf("config.app.password is required")
	}
	if len(c.Actions) == 0 {
		return fmt.Errorf("config.actions must not be empty")
	}
	keys := map[string]bool{}
	for i, a := range c.Actions {
		if a.Key == "" {
			return fmt.Errorf("action #%d has empty key", i)
		}
		if keys[a.Key] {
			return fmt.Errorf("duplicate action key %s", a.Key)
		}
		keys[a.Key] = true
		if a.BasePoints < 0 {
			return fmt.Errorf("action %s has negative base_points", a.Key)
		}
		if len(a.TextTemplates) == 0 {
			return fmt.Errorf("action %s needs at least one text template", a.Key)
		}
		for _, kw := range a.Keywords {
			if strings.TrimSpace(kw) == "" {
				return fmt.Errorf("action %s has empty keyword", a.Key)
			}
		}
	}
	for _, w := range c.Matching.CompletionWords {
		if strings.TrimSpace(w) == "" {
			return fmt.Errorf("config.matching.completion_words contains empty word")
		}
	}
	if len(c.People) == 0 {
		return fmt.Errorf("config.people must not be empty")
	}
	ids := map[string]bool{}
	for _, p := range c.People {
		if p.ID == "" || p.Department == "" || p.Name == "" {
			return fmt.Errorf("person entries need id, dept and name")
		}
		if ids[p.ID] {
			return fmt.Errorf("duplicate person id %s", p.ID)
		}
		ids[p.ID] = true
	}
	if err := c.Rewards.Rarities.Validate(); err != nil {
		return fmt.Errorf("config.rewards.rarities: %w", err)
	}
	if c.Rewards.HandSize <= 0 {
		return fmt.Errorf("config.rewards.hand_size must be positive")
	}
	for _, it := range c.Rewards.Items {
		if it.ID == "" {
			return fmt.Errorf("reward item has empty id")
		}
		if !c.Rewards.Rarities.Has(it.Rarity) {
			return fmt.Errorf("reward item %s references unknown rarity %s", it.ID, it.Rarity)
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook #%d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "hoccoo.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Omitted
// sections keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `app:
  title: Hoccoo Quest
  password: Suwarika
  hand_size: 5

matching:
  completion_words: [達成, 完了, できた, やった, クリア]

actions:
  - key: drink
    label: ジュース
    base_points: 5
    keywords: [ジュース, 自販機, 飲み物, 買った, 奢った, 差し入れ, ドリンク]
    text_templates:
      - 他部署の【{dept}】{name}さんに自販機でジュースを買ってみよう
      - 【{dept}】{name}さんに飲み物の差し入れをして一言ねぎらいを伝えよう
  - key: lunch
    label: ランチ
    base_points: 12
    keywords: [ランチ, 昼, 昼飯, ご飯, 一緒に食べた, 定食, 食堂]
    text_templates:
      - 他部署の【{dept}】{name}さんと一緒にランチに行ってみよう
      - 【{dept}】{name}さんをランチに誘って、最近の困りごとを1つ聞こう
  - key: coffee
    label: コーヒー
    base_points: 8
    keywords: [コーヒー, カフェ, お茶, 休憩, 一息, 飲んだ]
    text_templates:
      - 他部署の【{dept}】{name}さんと10分だけコーヒーブレイクをしよう
      - 【{dept}】{name}さんと短い休憩を取り、最近嬉しかったことを共有しよう
  - key: help
    label: 助ける
    base_points: 15
    keywords: [手伝, 助け, 対応, レビュー, 相談, 解決, サポート, 教えた]
    text_templates:
      - 他部署の【{dept}】{name}さんの小さな困りごとを1つ手伝ってみよう
      - 【{dept}】{name}さんに「今、困ってることある？」と聞き、可能なら支援しよう
  - key: chat
    label: 雑談
    base_points: 6
    keywords: [雑談, 話した, 会話, あいさつ, 声かけ, 近況, 自己紹介]
    text_templates:
      - 他部署の【{dept}】{name}さんに挨拶＋一言雑談してみよう（30秒でOK）
      - 【{dept}】{name}さんと短い会話をして、相手の業務を1つ学ぼう

people:
  - {id: p_sales_1, dept: 営業, name: 佐藤}
  - {id: p_dev_1, dept: 開発, name: 田中}
  - {id: p_hr_1, dept: 人事, name: 鈴木}
  - {id: p_cs_1, dept: CS, name: 高橋}
  - {id: p_mfg_1, dept: 製造, name: 伊藤}

rewards:
  hand_size: 5
  rarities:
    - {name: rare, weight: 0.05}
    - {name: uncommon, weight: 0.15}
    - {name: common, weight: 0.80}
  items:
    - {id: r_lunch_ticket, name: ランチチケット, rarity: rare}
    - {id: r_day_off, name: 半休チケット, rarity: rare}
    - {id: u_sticker, name: 限定ステッカー, rarity: uncommon}
    - {id: u_coffee, name: コーヒー券, rarity: uncommon}
    - {id: c_thanks, name: ありがとうカード, rarity: common}
    - {id: c_candy, name: お菓子, rarity: common}
    - {id: c_highfive, name: ハイタッチ, rarity: common}

reveal:
  lines: [ガチャ起動…, 候補を生成中…, マッチング中…, 完成！]
  step: 350ms
  duration: 1300ms

log:
  level: info
  console: true
  max_size_mb: 100
  max_backups: 3
  max_age_days: 30
`

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Конечная структура конфигурации приложения.
// Расширяем по мере роста проекта.
type Config struct {
	Server struct {
		Address  string `mapstructure:"address"`   // 0.0.0.0
		HTTPPort string `mapstructure:"http_port"` // 8080
	} `mapstructure:"server"`

	API struct {
		SharedSecret string `mapstructure:"shared_secret"` // fallback, если БД нет
	} `mapstructure:"api"`

	Logging struct {
		Level  string `mapstructure:"level"`  // trace|debug|info|warning|error|fatal
		Format string `mapstructure:"format"` // text|json
		File   string `mapstructure:"file"`   // путь/префикс файла, пусто — только stdout
	} `mapstructure:"logs"`

	Database struct {
		Driver string `mapstructure:"driver"` // "postgres" | "mysql" | "" (in-memory)
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	WireGuard struct {
		EndpointHost string   `mapstructure:"endpoint_host"` // публичный адрес сервера для Endpoint
		DNS          []string `mapstructure:"dns"`           // дефолтные резолверы peer'а
		AllowedIPs   []string `mapstructure:"allowed_ips"`   // дефолтные маршруты peer'а
		Keepalive    int      `mapstructure:"keepalive"`     // дефолт, секунды

		PortMin int `mapstructure:"port_min"` // диапазон ListenPort
		PortMax int `mapstructure:"port_max"`

		SubnetV4Base string `mapstructure:"subnet_v4_base"` // "10.8.0.0/24" — первый кандидат пула
		SubnetV6Base string `mapstructure:"subnet_v6_base"` // "fd00:8:0::/64"
		SubnetCount  int    `mapstructure:"subnet_count"`   // размер пула пар подсетей

		ReservedNames []string `mapstructure:"reserved_names"`

		Apply   bool   `mapstructure:"apply"`    // false — только артефакты, без systemctl
		ConfDir string `mapstructure:"conf_dir"` // куда класть серверные конфиги
	} `mapstructure:"wireguard"`

	Batch struct {
		MaxRows  int           `mapstructure:"max_rows"`  // лимит строк одного прогона
		RowDelay time.Duration `mapstructure:"row_delay"` // пауза между строками
	} `mapstructure:"batch"`
}

// Load читает конфиг из env/файла с дефолтами.
func Load() (*Config, error) {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Дефолты (минимальный рабочий набор)
	viper.SetDefault("server.address", "0.0.0.0")
	viper.SetDefault("server.http_port", "8080")
	viper.SetDefault("api.shared_secret", "CHANGE_ME")

	// Логи — дефолты
	viper.SetDefault("logs.level", "info")
	viper.SetDefault("logs.format", "text")
	viper.SetDefault("logs.file", "")

	// DB: по умолчанию — in-memory (пустой driver)
	viper.SetDefault("database.driver", "")
	viper.SetDefault("database.dsn", "")

	// WireGuard
	viper.SetDefault("wireguard.endpoint_host", "")
	viper.SetDefault("wireguard.dns", []string{"1.1.1.1", "1.0.0.1"})
	viper.SetDefault("wireguard.allowed_ips", []string{"0.0.0.0/0", "::/0"})
	viper.SetDefault("wireguard.keepalive", 25)
	viper.SetDefault("wireguard.port_min", 51820)
	viper.SetDefault("wireguard.port_max", 52000)
	viper.SetDefault("wireguard.subnet_v4_base", "10.8.0.0/24")
	viper.SetDefault("wireguard.subnet_v6_base", "fd00:8:0::/64")
	viper.SetDefault("wireguard.subnet_count", 64)
	viper.SetDefault("wireguard.reserved_names", []string{"server", "all", "none", "auto"})
	viper.SetDefault("wireguard.apply", false)
	viper.SetDefault("wireguard.conf_dir", "/etc/wireguard")

	// Batch
	viper.SetDefault("batch.max_rows", 500)
	viper.SetDefault("batch.row_delay", "150ms")

	// Источник файла
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			viper.AddConfigPath(filepath.Join(xdg, "warren"))
		}
		viper.AddConfigPath("/etc/warren")
	}

	// Чтение файла (опционально)
	if err := viper.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("config read error: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func validate(c *Config) error {
	if strings.TrimSpace(c.API.SharedSecret) == "" || c.API.SharedSecret == "CHANGE_ME" {
		return errors.New("api.shared_secret must be set (not empty and not CHANGE_ME)")
	}
	if strings.TrimSpace(c.Server.Address) == "" {
		return errors.New("server.address must not be empty")
	}
	if strings.TrimSpace(c.Server.HTTPPort) == "" {
		return errors.New("server.http_port must not be empty")
	}
	if c.WireGuard.PortMin < 1024 || c.WireGuard.PortMax > 65535 || c.WireGuard.PortMin > c.WireGuard.PortMax {
		return fmt.Errorf("wireguard.port_min/port_max: invalid range [%d, %d]", c.WireGuard.PortMin, c.WireGuard.PortMax)
	}
	if c.WireGuard.SubnetCount <= 0 {
		return errors.New("wireguard.subnet_count must be positive")
	}
	if c.Batch.MaxRows <= 0 {
		return errors.New("batch.max_rows must be positive")
	}
	if c.Batch.RowDelay < 0 {
		return errors.New("batch.row_delay must not be negative")
	}
	return nil
}

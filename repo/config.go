package repo

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

type Config struct {
	RepoRoot string   `mapstructure:"-" toml:"-"`
	Log      Log      `mapstructure:"log" toml:"log"`
	Wallet   Wallet   `mapstructure:"wallet" toml:"wallet"`
	Executor Executor `mapstructure:"executor" toml:"executor"`
}

type Log struct {
	Level        string        `mapstructure:"level" toml:"level"`
	Filename     string        `mapstructure:"filename" toml:"filename"`
	ReportCaller bool          `mapstructure:"report_caller" toml:"report_caller"`
	MaxAge       time.Duration `mapstructure:"max_age" toml:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time" toml:"rotation_time"`
}

type Wallet struct {
	// Owners is only used the first time the wallet is created, afterwards
	// the owner set lives in the storage and changes through proposals
	Owners []string `mapstructure:"owners" toml:"owners"`

	// percentage of owners that must approve, in (0, 100]
	ThresholdPercent uint64 `mapstructure:"threshold_percent" toml:"threshold_percent"`
}

type Executor struct {
	DialUrl string `mapstructure:"dial_url" toml:"dial_url"`

	// hex encoded secp256k1 key of the custody account
	PrivateKey   string        `mapstructure:"private_key" toml:"private_key"`
	GasLimit     uint64        `mapstructure:"gas_limit" toml:"gas_limit"`
	RetryLimit   uint          `mapstructure:"retry_limit" toml:"retry_limit"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" toml:"retry_backoff"`
}

func DefaultConfig(repoRoot string) *Config {
	return &Config{
		RepoRoot: repoRoot,
		Log: Log{
			Level:        "info",
			Filename:     "custodian.log",
			ReportCaller: false,
			MaxAge:       30 * 24 * time.Hour,
			RotationTime: 24 * time.Hour,
		},
		Wallet: Wallet{
			Owners:           []string{},
			ThresholdPercent: 60,
		},
		Executor: Executor{
			DialUrl:      "ws://localhost:9991",
			PrivateKey:   "",
			GasLimit:     21000,
			RetryLimit:   3,
			RetryBackoff: 5 * time.Second,
		},
	}
}

// Validate checks the parts of the config that are not checked by the
// approval engine itself.
func (c *Config) Validate() error {
	if _, err := c.OwnerAddresses(); err != nil {
		return err
	}
	if c.Wallet.ThresholdPercent == 0 || c.Wallet.ThresholdPercent > 100 {
		return errors.Errorf("threshold_percent %d out of range (0, 100]", c.Wallet.ThresholdPercent)
	}
	if c.Executor.RetryLimit == 0 {
		return errors.New("retry_limit must be at least 1")
	}
	return nil
}

// OwnerAddresses parses the configured initial owners.
func (c *Config) OwnerAddresses() ([]common.Address, error) {
	owners := make([]common.Address, 0, len(c.Wallet.Owners))
	for _, s := range c.Wallet.Owners {
		if !common.IsHexAddress(s) {
			return nil, errors.Errorf("invalid owner address %q", s)
		}
		owners = append(owners, common.HexToAddress(s))
	}
	return owners, nil
}

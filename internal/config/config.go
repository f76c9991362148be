// Package config loads a simulation run's parameters from a plain
// key = value text file, the way the teacher loads its daemon config from
// a file via viper, but backed by the properties parser instead of yaml
// since that is the externally specified config-file grammar for these
// drivers.
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	KeyDelayPerTransaction = "delay_per_transaction"
	KeyBaseDelay           = "base_delay"
	KeyBlockReward         = "block_reward"
	KeyTransactionReward   = "transaction_reward"
	KeyTransactionsPerBlk  = "transactions_per_block"
	KeyNetworkKind         = "network_kind"
	KeyNetworkSize         = "network_size"
	KeyNetworkConnectivity = "network_connectivity"
	KeySeed                = "seed"
	KeyNThreads            = "nthreads"
	KeyMinersPercent       = "miners_percent"
	KeySelfishPercent      = "selfish_percent"
	KeySelfishPowerPercent = "selfish_power_percent"
	KeySelfishAlgo         = "selfish_algo"
	KeyTransactionInterval = "transaction_interval"
	KeyBlockInterval       = "block_interval"
	KeyFinalWait           = "final_wait"
	KeyBlockNum            = "block_num"
	KeyLogLevel            = "log_level"
)

var defaults = map[string]interface{}{
	KeyDelayPerTransaction: 20,
	KeyBaseDelay:           100,
	KeyBlockReward:         1.0,
	KeyTransactionReward:   0.01,
	KeyTransactionsPerBlk:  50,
	KeyNetworkKind:         "erdos",
	KeyNetworkSize:         20,
	KeyNetworkConnectivity: 100,
	KeySeed:                0,
	KeyNThreads:            -1,
	KeyMinersPercent:       0.2,
	KeySelfishPercent:      0.0,
	KeySelfishAlgo:         "random",
	KeyTransactionInterval: 1000,
	KeyBlockInterval:       10000,
	KeyFinalWait:           10000,
	KeyBlockNum:            1000,
	KeyLogLevel:            "info",
}

// Config is the fully resolved set of parameters a simulation run starts
// with, after defaults, the properties file, and selfish_power_percent's
// fallback to selfish_percent have all been applied.
type Config struct {
	DelayPerTransaction time.Duration
	BaseDelay           time.Duration
	BlockReward         float64
	TransactionReward   float64
	TransactionsPerBlk  int

	NetworkKind         string
	NetworkSize         int
	NetworkConnectivity int
	Seed                uint64
	NThreads            int

	MinersPercent       float64
	SelfishPercent      float64
	SelfishPowerPercent float64
	SelfishAlgo         string

	TransactionInterval time.Duration
	BlockInterval       time.Duration
	FinalWait           time.Duration
	BlockNum            int

	LogLevel string
}

// Load reads path as a Java-properties-formatted file (`key = value`, `#`
// comments) and returns the resolved Config. Unknown keys in the file are
// ignored; missing keys fall back to the defaults registered above.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("properties")
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	c := &Config{
		DelayPerTransaction: time.Duration(v.GetInt64(KeyDelayPerTransaction)) * time.Nanosecond,
		BaseDelay:           time.Duration(v.GetInt64(KeyBaseDelay)) * time.Nanosecond,
		BlockReward:         v.GetFloat64(KeyBlockReward),
		TransactionReward:   v.GetFloat64(KeyTransactionReward),
		TransactionsPerBlk:  v.GetInt(KeyTransactionsPerBlk),

		NetworkKind:         v.GetString(KeyNetworkKind),
		NetworkSize:         v.GetInt(KeyNetworkSize),
		NetworkConnectivity: v.GetInt(KeyNetworkConnectivity),
		Seed:                uint64(v.GetInt64(KeySeed)),
		NThreads:            v.GetInt(KeyNThreads),

		MinersPercent:  v.GetFloat64(KeyMinersPercent),
		SelfishPercent: v.GetFloat64(KeySelfishPercent),
		SelfishAlgo:    v.GetString(KeySelfishAlgo),

		TransactionInterval: time.Duration(v.GetInt64(KeyTransactionInterval)) * time.Microsecond,
		BlockInterval:       time.Duration(v.GetInt64(KeyBlockInterval)) * time.Microsecond,
		FinalWait:           time.Duration(v.GetInt64(KeyFinalWait)) * time.Microsecond,
		BlockNum:            v.GetInt(KeyBlockNum),

		LogLevel: v.GetString(KeyLogLevel),
	}

	if v.IsSet(KeySelfishPowerPercent) {
		c.SelfishPowerPercent = v.GetFloat64(KeySelfishPowerPercent)
	} else {
		c.SelfishPowerPercent = c.SelfishPercent
	}

	if c.NetworkKind != "erdos" && c.NetworkKind != "barabasi" {
		return nil, errors.Errorf("config: unknown network_kind %q, valid values are erdos, barabasi", c.NetworkKind)
	}
	if c.SelfishAlgo != "random" && c.SelfishAlgo != "highdegree" {
		return nil, errors.Errorf("config: unknown selfish_algo %q, valid values are random, highdegree", c.SelfishAlgo)
	}

	return c, nil
}

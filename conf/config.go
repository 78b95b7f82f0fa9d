/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package conf loads the creditsync daemon configuration.
package conf

import (
	"crypto/ecdsa"
	"io/ioutil"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/CovenantSQL/creditsync/ledger"
	"github.com/CovenantSQL/creditsync/reconcile"
	"github.com/CovenantSQL/creditsync/utils"
	"github.com/CovenantSQL/creditsync/utils/log"
)

// environment overrides, secrets are usually injected this way
const (
	EnvAPIKey          = "ADMIN_API_KEY"
	EnvPrivateKey      = "SERVER_PRIVATE_KEY"
	EnvEndpoint        = "SEPOLIA_RPC_URL"
	EnvContractAddress = "CONTRACT_ADDRESS"
)

// DefaultListenAddr is the http listen address when none is configured.
const DefaultListenAddr = "0.0.0.0:5000"

// LedgerConfig defines the registry contract connection.
type LedgerConfig struct {
	Endpoint        string        `yaml:"Endpoint" validate:"required"`
	ContractAddress string        `yaml:"ContractAddress" validate:"required,ethaddr"`
	PrivateKey      string        `yaml:"PrivateKey,omitempty"`
	PrivateKeyFile  string        `yaml:"PrivateKeyFile,omitempty"`
	GasLimit        uint64        `yaml:"GasLimit"`
	SubmitTimeout   time.Duration `yaml:"SubmitTimeout"`
	HeaderCacheSize int           `yaml:"HeaderCacheSize"`
}

// StorageConfig defines the projection database.
type StorageConfig struct {
	// Database is a sqlite3 file path or a database url (sqlite:, postgres://), empty for memory.
	Database string `yaml:"Database"`
}

// SyncConfig defines the reconciliation options.
type SyncConfig struct {
	MaxLookback      uint64        `yaml:"MaxLookback"`
	BatchBlocks      uint64        `yaml:"BatchBlocks"`
	Confirmations    uint64        `yaml:"Confirmations"`
	BackfillInterval time.Duration `yaml:"BackfillInterval"`
	ReconnectDelay   time.Duration `yaml:"ReconnectDelay"`
	RecentCacheSize  int           `yaml:"RecentCacheSize"`
}

// Config defines the configurable options of the creditsync daemon.
type Config struct {
	ListenAddr string        `yaml:"ListenAddr"`
	APIKey     string        `yaml:"APIKey" validate:"required"`
	LogLevel   string        `yaml:"LogLevel"`
	LogFormat  string        `yaml:"LogFormat" validate:"omitempty,oneof=text json none"`
	Ledger     *LedgerConfig `yaml:"Ledger" validate:"required"`
	Storage    StorageConfig `yaml:"Storage"`
	Sync       SyncConfig    `yaml:"Sync"`
}

type confWrapper struct {
	CreditSync *Config `yaml:"CreditSync"`
}

// LoadConfig reads the CreditSync section of the yaml config file.
func LoadConfig(configPath string) (config *Config, err error) {
	var configBytes []byte
	if configBytes, err = ioutil.ReadFile(utils.HomeDirExpand(configPath)); err != nil {
		log.WithError(err).Error("read config file failed")
		return
	}
	return Parse(configBytes)
}

// Parse decodes, completes and validates a yaml config.
func Parse(configBytes []byte) (config *Config, err error) {
	w := &confWrapper{}
	if err = yaml.Unmarshal(configBytes, w); err != nil {
		log.WithError(err).Error("unmarshal config file failed")
		return
	}
	if w.CreditSync == nil {
		err = errors.Wrap(ErrInvalidConfig, "CreditSync section is missing")
		log.WithError(err).Error("could not read creditsync config")
		return
	}

	config = w.CreditSync
	if config.Ledger == nil {
		config.Ledger = &LedgerConfig{}
	}
	config.applyEnv()

	if err = utils.NewValidator().Struct(config); err != nil {
		err = errors.Wrapf(ErrInvalidConfig, "%v", err)
		log.WithError(err).Error("validate config failed")
		config = nil
		return
	}
	if config.Ledger.PrivateKey == "" && config.Ledger.PrivateKeyFile == "" {
		err = errors.Wrapf(ErrMissingPrivateKey, "set Ledger.PrivateKey, Ledger.PrivateKeyFile or %s", EnvPrivateKey)
		log.WithError(err).Error("validate config failed")
		config = nil
		return
	}

	config.fillDefaults()
	return
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv(EnvPrivateKey); v != "" {
		c.Ledger.PrivateKey = v
	}
	if v := os.Getenv(EnvEndpoint); v != "" {
		c.Ledger.Endpoint = v
	}
	if v := os.Getenv(EnvContractAddress); v != "" {
		c.Ledger.ContractAddress = v
	}
}

func (c *Config) fillDefaults() {
	if c.ListenAddr == "" {
		log.Warningf("ListenAddr is not defined, %s assumed", DefaultListenAddr)
		c.ListenAddr = DefaultListenAddr
	}
	if c.Ledger.GasLimit == 0 {
		log.Warningf("a valid Ledger.GasLimit is required, %d assumed", ledger.DefaultGasLimit)
		c.Ledger.GasLimit = ledger.DefaultGasLimit
	}
	if c.Ledger.SubmitTimeout <= 0 {
		log.Warningf("a valid Ledger.SubmitTimeout is required, %v assumed", ledger.DefaultSubmitTimeout)
		c.Ledger.SubmitTimeout = ledger.DefaultSubmitTimeout
	}
	if c.Ledger.HeaderCacheSize <= 0 {
		c.Ledger.HeaderCacheSize = ledger.DefaultHeaderCacheSize
	}
	if c.Storage.Database == "" {
		log.Warning("Storage.Database is not defined, projection kept in memory")
	}
	if c.Sync.MaxLookback == 0 {
		log.Warningf("a valid Sync.MaxLookback is required, %d blocks assumed", reconcile.DefaultMaxLookback)
		c.Sync.MaxLookback = reconcile.DefaultMaxLookback
	}
	if c.Sync.BatchBlocks == 0 {
		c.Sync.BatchBlocks = reconcile.DefaultBatchBlocks
	}
	if c.Sync.BackfillInterval <= 0 {
		log.Warningf("a valid Sync.BackfillInterval is required, %v assumed", reconcile.DefaultBackfillInterval)
		c.Sync.BackfillInterval = reconcile.DefaultBackfillInterval
	}
	if c.Sync.ReconnectDelay <= 0 {
		c.Sync.ReconnectDelay = reconcile.DefaultReconnectDelay
	}
	if c.Sync.RecentCacheSize <= 0 {
		c.Sync.RecentCacheSize = reconcile.DefaultRecentCacheSize
	}
}

// LoadPrivateKey returns the signing key from the inline hex value or the key file.
func (c *LedgerConfig) LoadPrivateKey() (key *ecdsa.PrivateKey, err error) {
	switch {
	case c.PrivateKey != "":
		key, err = ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(c.PrivateKey), "0x"))
		if err != nil {
			err = errors.Wrap(err, "decode ledger private key failed")
		}
	case c.PrivateKeyFile != "":
		path := utils.HomeDirExpand(c.PrivateKeyFile)
		if !utils.Exist(path) {
			err = errors.Wrapf(ErrMissingPrivateKey, "key file %s", path)
			return
		}
		key, err = ethcrypto.LoadECDSA(path)
		if err != nil {
			err = errors.Wrapf(err, "load ledger private key file %s failed", c.PrivateKeyFile)
		}
	default:
		err = ErrMissingPrivateKey
	}
	return
}

// EthConfig returns the gateway options signed by key.
func (c *LedgerConfig) EthConfig(key *ecdsa.PrivateKey) ledger.EthConfig {
	return ledger.EthConfig{
		Endpoint:        c.Endpoint,
		ContractAddress: common.HexToAddress(c.ContractAddress),
		PrivateKey:      key,
		GasLimit:        c.GasLimit,
		SubmitTimeout:   c.SubmitTimeout,
		HeaderCacheSize: c.HeaderCacheSize,
	}
}

// ReconcileConfig returns the engine options.
func (c *SyncConfig) ReconcileConfig() reconcile.Config {
	return reconcile.Config{
		MaxLookback:      c.MaxLookback,
		BatchBlocks:      c.BatchBlocks,
		Confirmations:    c.Confirmations,
		BackfillInterval: c.BackfillInterval,
		ReconnectDelay:   c.ReconnectDelay,
		RecentCacheSize:  c.RecentCacheSize,
	}
}

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

package conf

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/creditsync/ledger"
	"github.com/CovenantSQL/creditsync/reconcile"
)

const (
	testKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

	fullConfig = `
CreditSync:
  ListenAddr: "127.0.0.1:15000"
  APIKey: "s3cret"
  LogFormat: json
  Ledger:
    Endpoint: "ws://127.0.0.1:8546"
    ContractAddress: "0x00000000000000000000000000000000000c0ffe"
    PrivateKey: "0xb71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
    GasLimit: 300000
    SubmitTimeout: 30s
  Storage:
    Database: "sqlite:/var/lib/creditsync/projection.db"
  Sync:
    MaxLookback: 5000
    BatchBlocks: 500
    Confirmations: 3
    BackfillInterval: 2m
`
	minimalConfig = `
CreditSync:
  APIKey: "s3cret"
  Ledger:
    Endpoint: "http://127.0.0.1:8545"
    ContractAddress: "0x00000000000000000000000000000000000c0ffe"
    PrivateKeyFile: "~/.creditsync/key"
`
)

func clearEnv() {
	for _, k := range []string{EnvAPIKey, EnvPrivateKey, EnvEndpoint, EnvContractAddress} {
		_ = os.Unsetenv(k)
	}
}

func TestParse(t *testing.T) {
	Convey("Given the config parser", t, func() {
		clearEnv()
		Reset(clearEnv)

		Convey("A full config should be loaded as is", func() {
			c, err := Parse([]byte(fullConfig))
			So(err, ShouldBeNil)
			So(c.ListenAddr, ShouldEqual, "127.0.0.1:15000")
			So(c.LogFormat, ShouldEqual, "json")
			So(c.Ledger.GasLimit, ShouldEqual, 300000)
			So(c.Ledger.SubmitTimeout, ShouldEqual, 30*time.Second)
			So(c.Storage.Database, ShouldEqual, "sqlite:/var/lib/creditsync/projection.db")

			rc := c.Sync.ReconcileConfig()
			So(rc, ShouldResemble, reconcile.Config{
				MaxLookback:      5000,
				BatchBlocks:      500,
				Confirmations:    3,
				BackfillInterval: 2 * time.Minute,
				ReconnectDelay:   reconcile.DefaultReconnectDelay,
				RecentCacheSize:  reconcile.DefaultRecentCacheSize,
			})

			key, err := c.Ledger.LoadPrivateKey()
			So(err, ShouldBeNil)
			ec := c.Ledger.EthConfig(key)
			So(ec.ContractAddress, ShouldEqual, common.HexToAddress("0x00000000000000000000000000000000000c0ffe"))
			So(ec.PrivateKey, ShouldEqual, key)
		})
		Convey("A minimal config should be completed with defaults", func() {
			c, err := Parse([]byte(minimalConfig))
			So(err, ShouldBeNil)
			So(c.ListenAddr, ShouldEqual, DefaultListenAddr)
			So(c.Ledger.GasLimit, ShouldEqual, ledger.DefaultGasLimit)
			So(c.Ledger.SubmitTimeout, ShouldEqual, ledger.DefaultSubmitTimeout)
			So(c.Sync.MaxLookback, ShouldEqual, reconcile.DefaultMaxLookback)
			So(c.Sync.BatchBlocks, ShouldEqual, reconcile.DefaultBatchBlocks)
			So(c.Sync.BackfillInterval, ShouldEqual, reconcile.DefaultBackfillInterval)
		})
		Convey("Environment values should override the file", func() {
			So(os.Setenv(EnvAPIKey, "from-env"), ShouldBeNil)
			So(os.Setenv(EnvPrivateKey, testKeyHex), ShouldBeNil)
			So(os.Setenv(EnvEndpoint, "ws://node:8546"), ShouldBeNil)

			c, err := Parse([]byte(minimalConfig))
			So(err, ShouldBeNil)
			So(c.APIKey, ShouldEqual, "from-env")
			So(c.Ledger.Endpoint, ShouldEqual, "ws://node:8546")

			key, err := c.Ledger.LoadPrivateKey()
			So(err, ShouldBeNil)
			So(ethcrypto.PubkeyToAddress(key.PublicKey).Hex(), ShouldNotBeEmpty)
		})
		Convey("Invalid configs should be rejected", func() {
			for _, bad := range []string{
				"Other: {}",
				"CreditSync:\n  APIKey: k\n",
				"CreditSync:\n  Ledger:\n    Endpoint: e\n    ContractAddress: \"0x00000000000000000000000000000000000c0ffe\"\n    PrivateKey: k\n",
				"CreditSync:\n  APIKey: k\n  Ledger:\n    Endpoint: e\n    ContractAddress: nowhere\n    PrivateKey: k\n",
				"CreditSync:\n  APIKey: k\n  LogFormat: xml\n  Ledger:\n    Endpoint: e\n    ContractAddress: \"0x00000000000000000000000000000000000c0ffe\"\n    PrivateKey: k\n",
			} {
				c, err := Parse([]byte(bad))
				So(c, ShouldBeNil)
				So(errors.Cause(err), ShouldEqual, ErrInvalidConfig)
			}

			_, err := Parse([]byte("CreditSync:\n  APIKey: k\n  Ledger:\n    Endpoint: e\n" +
				"    ContractAddress: \"0x00000000000000000000000000000000000c0ffe\"\n"))
			So(errors.Cause(err), ShouldEqual, ErrMissingPrivateKey)

			_, err = Parse([]byte("CreditSync: ["))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestLoadConfig(t *testing.T) {
	Convey("Config and key files should be read from disk", t, func() {
		clearEnv()
		dir, err := ioutil.TempDir("", "creditsync-conf")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)

		key, err := ethcrypto.HexToECDSA(testKeyHex)
		So(err, ShouldBeNil)
		keyFile := filepath.Join(dir, "key")
		So(ethcrypto.SaveECDSA(keyFile, key), ShouldBeNil)

		configFile := filepath.Join(dir, "config.yaml")
		So(ioutil.WriteFile(configFile, []byte(`
CreditSync:
  APIKey: "s3cret"
  Ledger:
    Endpoint: "http://127.0.0.1:8545"
    ContractAddress: "0x00000000000000000000000000000000000c0ffe"
    PrivateKeyFile: "`+keyFile+`"
`), 0600), ShouldBeNil)

		c, err := LoadConfig(configFile)
		So(err, ShouldBeNil)
		loaded, err := c.Ledger.LoadPrivateKey()
		So(err, ShouldBeNil)
		So(loaded.D.Cmp(key.D), ShouldEqual, 0)

		_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
		So(err, ShouldNotBeNil)

		_, err = (&LedgerConfig{}).LoadPrivateKey()
		So(err, ShouldEqual, ErrMissingPrivateKey)
		_, err = (&LedgerConfig{PrivateKeyFile: filepath.Join(dir, "nokey")}).LoadPrivateKey()
		So(errors.Cause(err), ShouldEqual, ErrMissingPrivateKey)
		_, err = (&LedgerConfig{PrivateKey: "zz"}).LoadPrivateKey()
		So(err, ShouldNotBeNil)
	})
}

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


package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/common/version"

	"github.com/CovenantSQL/creditsync/conf"
	"github.com/CovenantSQL/creditsync/utils"
	"github.com/CovenantSQL/creditsync/utils/log"
)

const name = "creditsyncd"

var (
	listenAddr  string
	configFile  string
	logLevel    string
	showVersion bool
)

func init() {
	flag.StringVar(&listenAddr, "listen", "", "API listen addr (will override settings in config file)")
	flag.StringVar(&configFile, "config", "~/.creditsync/config.yaml", "Config file path")
	flag.StringVar(&logLevel, "log-level", "", "Log level (will override settings in config file)")
	flag.BoolVar(&showVersion, "version", false, "Show version information and exit")
}

func main() {
	flag.Parse()
	if showVersion {
		fmt.Println(version.Print(name))
		os.Exit(0)
	}

	log.SetStringLevel(logLevel, log.InfoLevel)
	configFile = utils.HomeDirExpand(configFile)

	flag.Visit(func(f *flag.Flag) {
		log.Infof("args %#v : %s", f.Name, f.Value)
	})

	cfg, err := conf.LoadConfig(configFile)
	if err != nil {
		log.WithError(err).Error("read config failed")
		os.Exit(-1)
		return
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if logLevel == "" {
		log.SetStringLevel(cfg.LogLevel, log.InfoLevel)
	}
	log.SetStringFormat(cfg.LogFormat)

	d, err := initDaemon(context.Background(), cfg)
	if err != nil {
		log.WithError(err).Error("init daemon failed")
		os.Exit(-1)
		return
	}

	d.syncer.Start()

	go func() {
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("serve api failed")
		}
	}()

	log.WithField("addr", cfg.ListenAddr).Info("started creditsync")

	<-utils.WaitForExit()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	_ = d.server.Shutdown(ctx)
	d.stop()
	log.Info("stopped creditsync")
}

// Command migrate applies or rolls back the settlement schema.
//
//	migrate up | down | version | to <n>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"ms-settlement/internal/config"
	"ms-settlement/internal/database"
	"ms-settlement/internal/database/migrations"
	"ms-settlement/internal/logger"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate up | down | version | to <version>")
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	log := logger.NewLoggerWithWriter("migrate", os.Stdout)
	_ = godotenv.Load()

	var dbCfg config.DatabaseConfig
	if err := envconfig.Process("", &dbCfg); err != nil {
		log.Fatal("CONFIG", err.Error())
	}

	bunDB, err := database.Connect(context.Background(), dbCfg, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB.DB, log)
	defer runner.Close()

	switch flag.Arg(0) {
	case "up":
		err = runner.Up()
	case "down":
		err = runner.Down()
	case "to":
		var v uint64
		v, err = strconv.ParseUint(flag.Arg(1), 10, 32)
		if err == nil {
			err = runner.To(uint(v))
		}
	case "version":
		v, dirty, verr := runner.Version()
		if verr == nil {
			log.Info("MIGRATE", fmt.Sprintf("version %d dirty=%t", v, dirty))
		}
		err = verr
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-account/pkg/database"
	"github.com/ovaphlow/pitchfork/service-account/pkg/utilities"
)

func main() {
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	sqlDB, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalw("db connect", "error", err)
	}
	defer sqlDB.Close()

	version, err := database.Migrate(sqlDB)
	if err != nil {
		sugar.Errorw("migration failed", "error", err)
		sqlDB.Close()
		os.Exit(1)
	}
	sugar.Infow("schema up to date", "version", version)
}

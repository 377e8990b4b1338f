package main

import (
	"github.com/joho/godotenv"

	"github.com/hashbbs/hashbbs/config"
	"github.com/hashbbs/hashbbs/models"
	"github.com/hashbbs/hashbbs/routes"
	"github.com/hashbbs/hashbbs/utils"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	db := config.InitDatabase(&models.User{}, &models.Post{}, &models.Comment{})

	r := routes.SetupRouter(db)

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"botdir/internal/authutil"
	"botdir/internal/directory"
)

const adminTokenTTL = 30 * 24 * time.Hour

func main() {
	cfg, err := directory.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.IssueAdminToken != "" {
		token, err := authutil.NewSigner(cfg.AdminSecret).Issue(cfg.IssueAdminToken, adminTokenTTL)
		if err != nil {
			log.Fatalf("issue admin token: %v", err)
		}
		fmt.Println(token)
		return
	}

	app, err := directory.NewApp(context.Background(), cfg)
	if err != nil {
		log.Fatalf("directory init: %v", err)
	}
	if err := app.Start(); err != nil {
		log.Fatalf("directory start: %v", err)
	}
	directory.WaitForShutdown(app)
}

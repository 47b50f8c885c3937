package main

import (
	"context"
	"log"
	"os"

	"tilequest/server/internal/app"
)

func main() {
	if err := app.Run(context.Background(), os.Args[1:]); err != nil {
		log.Fatalf("%v", err)
	}
}

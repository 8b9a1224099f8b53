package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/tnqbao/gau-repo-evaluator/cli/cmd"
)

func main() {
	if err := godotenv.Load("staging.env"); err != nil {
		log.Println("No .env file found, continuing with environment variables")
	}
	cmd.Execute()
}

// Command devtoken prints an access token for local testing.
package main

import (
	"flag"
	"fmt"
	"os"

	"evcharge/internal/auth"
	"evcharge/internal/config"
)

func main() {
	userID := flag.Int64("user", 1, "user id")
	email := flag.String("email", "driver@example.com", "email claim")
	role := flag.String("role", auth.RoleDriver, "role: driver, cs_staff or admin")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	token, err := auth.GenerateAccessToken(*userID, *email, *role, cfg.JWTSecret)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}

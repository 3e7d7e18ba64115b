// Command devtoken prints an access token for local testing.
//
//	JWT_SECRET=dev devtoken --user 42 --role CUSTOMER
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/iliyamo/raffle-reservation/internal/utils"
)

func main() {
	_ = godotenv.Load()

	user := pflag.Uint64("user", 1, "user id (sub claim)")
	role := pflag.String("role", "CUSTOMER", "role claim: CUSTOMER, PAYMENT or ADMIN")
	unverified := pflag.Bool("unverified", false, "set email_verified=false")
	ttl := pflag.Duration("ttl", time.Hour, "token lifetime")
	pflag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is not set")
		os.Exit(1)
	}
	verified := !*unverified
	tok, err := utils.NewAccessToken(secret, utils.TokenClaims{UserID: *user, Role: *role, EmailVerified: &verified}, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
}
